package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"discharge_tester/internal/discharge"
	"discharge_tester/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool                     { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	token        *fakeToken
	sent         []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTPublisher_PublishesJSONPerRun(t *testing.T) {
	c := &fakeClient{token: &fakeToken{}}
	p := newMQTTPublisher(c, "discharge/events")

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := p.Publish("run-7", discharge.Event{
		Type:       models.EventExitConditionMet,
		Level:      discharge.LevelInfo,
		Message:    "exit parameters met",
		OccurredAt: at,
		Tick:       10,
		TimeS:      10,
		Fields:     map[string]any{"cell_id": 1},
	})
	require.NoError(t, err)
	require.Len(t, c.sent, 1)
	assert.Equal(t, "discharge/events/run-7", c.sent[0].topic)
	assert.Equal(t, byte(publishQoS), c.sent[0].qos)

	var got map[string]any
	require.NoError(t, json.Unmarshal(c.sent[0].payload, &got))
	assert.Equal(t, "run-7", got["run_id"])
	assert.Equal(t, models.EventExitConditionMet, got["type"])
	assert.Equal(t, "info", got["level"])
	assert.Equal(t, 10.0, got["time_s"])
	assert.Equal(t, map[string]any{"cell_id": 1.0}, got["fields"])

	p.Close()
	assert.True(t, c.disconnected)
}

func TestMQTTPublisher_TokenErrors(t *testing.T) {
	p := newMQTTPublisher(&fakeClient{token: &fakeToken{err: errors.New("not connected")}}, "t")
	assert.ErrorContains(t, p.Publish("r", discharge.Event{Type: models.EventCutoff}), "not connected")

	p = newMQTTPublisher(&fakeClient{token: &fakeToken{timedOut: true}}, "t")
	assert.ErrorContains(t, p.Publish("r", discharge.Event{Type: models.EventCutoff}), "timed out")
}

func TestNew_WithoutBrokerIsNop(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, p)
	assert.NoError(t, p.Publish("r", discharge.Event{}))
	p.Close()

	_, err = New(Config{Broker: "tcp://localhost:1883"})
	assert.Error(t, err, "topic required")
}
