// Package telemetry fans run events out to an MQTT broker.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"discharge_tester/internal/discharge"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	publishQoS     = 1
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
	disconnectMs   = 250
)

// Publisher sends run events somewhere outside the process.
type Publisher interface {
	Publish(runID string, e discharge.Event) error
	Close()
}

// Config selects the broker. An empty Broker disables publishing.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
}

type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes each event as JSON on "<topic>/<run_id>".
type MQTTPublisher struct {
	client client
	topic  string
}

// message is the wire form of an event.
type message struct {
	RunID      string         `json:"run_id"`
	Type       string         `json:"type"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	OccurredAt time.Time      `json:"occurred_at"`
	Tick       int            `json:"tick"`
	TimeS      float64        `json:"time_s"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// New connects to the broker, or returns a no-op publisher when none is set.
func New(cfg Config) (Publisher, error) {
	if cfg.Broker == "" {
		return Nop{}, nil
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic is required")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return newMQTTPublisher(c, cfg.Topic), nil
}

func newMQTTPublisher(c client, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: c, topic: topic}
}

func (p *MQTTPublisher) Publish(runID string, e discharge.Event) error {
	payload, err := json.Marshal(message{
		RunID:      runID,
		Type:       e.Type,
		Level:      string(e.Level),
		Message:    e.Message,
		OccurredAt: e.OccurredAt,
		Tick:       e.Tick,
		TimeS:      e.TimeS,
		Fields:     e.Fields,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	token := p.client.Publish(p.topic+"/"+runID, publishQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", e.Type)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(disconnectMs)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(string, discharge.Event) error { return nil }
func (Nop) Close()                                {}
