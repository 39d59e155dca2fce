package estimator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/flight-battery/batterymodel"
	"github.com/TheCacophonyProject/flight-battery/drainlog"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	maxReadings       = 50000
	mqttPublishWait   = 2 * time.Second
	readingsTrimEvery = 24 * time.Hour
)

// publisher sends out each estimate.
type publisher struct {
	name    string
	publish func(batterymodel.State) error
}

// estimateMessage is the payload published for each estimate.
type estimateMessage struct {
	Time time.Time `json:"time"`
	batterymodel.State
}

type mqttPublisher struct {
	client mqtt.Client
	topic  string
}

func newMQTTPublisher(broker, clientID, topic string) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	log.Infof("Publishing estimates to %s on %s", topic, broker)
	return &mqttPublisher{client: client, topic: topic}, nil
}

func (p *mqttPublisher) publish(s batterymodel.State) error {
	payload, err := json.Marshal(estimateMessage{Time: time.Now(), State: s})
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, 0, true, payload)
	if !token.WaitTimeout(mqttPublishWait) {
		return errors.New("timed out publishing estimate")
	}
	return token.Error()
}

func (p *mqttPublisher) close() {
	p.client.Disconnect(250)
}

// readingsLog appends each reading to a drain log so flights can be used
// for calibration, keeping the file to maxReadings lines.
type readingsLog struct {
	path        string
	lastTrimmed time.Time
	now         func() time.Time
}

func newReadingsLog(path string) (*readingsLog, error) {
	r := &readingsLog{path: path, now: time.Now}
	if err := drainlog.KeepLastLines(path, maxReadings); err != nil {
		return nil, err
	}
	r.lastTrimmed = r.now()
	return r, nil
}

func (r *readingsLog) publish(s batterymodel.State) error {
	now := r.now()
	if now.Sub(r.lastTrimmed) > readingsTrimEvery {
		if err := drainlog.KeepLastLines(r.path, maxReadings); err != nil {
			return err
		}
		r.lastTrimmed = now
	}
	return drainlog.AppendRecord(r.path, drainlog.Record{
		Time:        now,
		Voltage:     s.Voltage,
		Current:     s.Current,
		Temperature: s.Temperature,
	})
}
