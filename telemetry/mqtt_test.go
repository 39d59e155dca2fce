package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
func (doneToken) Error() error { return nil }

// subscribeClient records subscriptions, other methods are not used.
type subscribeClient struct {
	mqtt.Client
	topics   []string
	callback mqtt.MessageHandler
}

func (c *subscribeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.callback = callback
	return doneToken{}
}

type payloadMessage struct {
	mqtt.Message
	payload []byte
}

func (m payloadMessage) Topic() string   { return DefaultTopic }
func (m payloadMessage) Payload() []byte { return m.payload }

func TestMQTTSubscribesOnEveryConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Sample, 1)
	src := &MQTTSource{Broker: "tcp://localhost:1883", ClientID: "test", Log: logging.NewLogger("info")}

	opts := src.clientOptions(ctx, out)
	assert.True(t, opts.AutoReconnect)
	require.NotNil(t, opts.OnConnect)

	client := &subscribeClient{}
	opts.OnConnect(client)
	// Reconnect after the broker restarts.
	opts.OnConnect(client)
	assert.Equal(t, []string{DefaultTopic, DefaultTopic}, client.topics)

	client.callback(client, payloadMessage{payload: []byte(`{"voltage": 12.3, "current": 850}`)})
	s := <-out
	assert.Equal(t, 12.3, s.Voltage)
	assert.Equal(t, 850.0, s.Current)
}

func TestMQTTForward(t *testing.T) {
	src := &MQTTSource{Log: logging.NewLogger("info")}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Sample, 1)

	assert.True(t, src.forward(ctx, DefaultTopic, []byte(`{"voltage": 12, "current": 1000, "armed": true}`), out))
	s := <-out
	require.NotNil(t, s.Armed)
	assert.True(t, *s.Armed)

	assert.False(t, src.forward(ctx, DefaultTopic, []byte(`{"voltage": 12}`), out))
	assert.False(t, src.forward(ctx, DefaultTopic, []byte(`not json`), out))
	assert.Empty(t, out)

	// A full channel doesn't block once cancelled.
	out <- Sample{}
	cancel()
	assert.False(t, src.forward(ctx, DefaultTopic, []byte(`{"voltage": 12, "current": 1000}`), out))
}
