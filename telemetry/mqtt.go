package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TheCacophonyProject/go-utils/logging"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const DefaultTopic = "flight-battery/telemetry"

// message is the JSON payload of an MQTT telemetry message.
type message struct {
	Voltage     *float64 `json:"voltage"`
	Current     *float64 `json:"current"`
	Temperature float64  `json:"temperature"`
	TimestampUs int64    `json:"timestamp_us"`
	Armed       *bool    `json:"armed"`
}

// DecodeMessage parses an MQTT telemetry payload. Voltage and current are required.
func DecodeMessage(payload []byte) (Sample, error) {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if m.Voltage == nil || m.Current == nil {
		return Sample{}, fmt.Errorf("%w: voltage and current are required", ErrBadFrame)
	}
	return Sample{
		Voltage:     *m.Voltage,
		Current:     *m.Current,
		Temperature: m.Temperature,
		Timestamp:   FromMicros(m.TimestampUs),
		Armed:       m.Armed,
	}, nil
}

// EncodeMessage is the inverse of DecodeMessage.
func EncodeMessage(s Sample) ([]byte, error) {
	return json.Marshal(message{
		Voltage:     &s.Voltage,
		Current:     &s.Current,
		Temperature: s.Temperature,
		TimestampUs: toMicros(s.Timestamp),
		Armed:       s.Armed,
	})
}

// MQTTSource subscribes to telemetry published to an MQTT broker.
type MQTTSource struct {
	Broker   string
	ClientID string
	Topic    string
	Log      *logging.Logger
}

func (m *MQTTSource) Run(ctx context.Context, out chan<- Sample) error {
	if m.Log == nil {
		m.Log = logging.NewLogger("info")
	}

	client := mqtt.NewClient(m.clientOptions(ctx, out))
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	defer client.Disconnect(250)

	<-ctx.Done()
	return nil
}

func (m *MQTTSource) topic() string {
	if m.Topic == "" {
		return DefaultTopic
	}
	return m.Topic
}

// clientOptions subscribes on every connect, a reconnected session starts
// without subscriptions.
func (m *MQTTSource) clientOptions(ctx context.Context, out chan<- Sample) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(m.Broker).
		SetClientID(m.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.Log.Errorf("Lost connection to %s: %v", m.Broker, err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			token := c.Subscribe(m.topic(), 0, func(_ mqtt.Client, msg mqtt.Message) {
				m.forward(ctx, msg.Topic(), msg.Payload(), out)
			})
			if token.Wait() && token.Error() != nil {
				m.Log.Errorf("MQTT subscribe error: %v", token.Error())
				return
			}
			m.Log.Infof("Subscribed to battery telemetry on %s at %s", m.topic(), m.Broker)
		})
}

// forward decodes a telemetry payload and sends it on, dropping bad payloads.
// It reports whether a sample was sent.
func (m *MQTTSource) forward(ctx context.Context, topic string, payload []byte, out chan<- Sample) bool {
	sample, err := DecodeMessage(payload)
	if err != nil {
		m.Log.Warnf("Bad telemetry on %s: %v", topic, err)
		return false
	}
	select {
	case out <- sample:
		return true
	case <-ctx.Done():
		return false
	}
}
