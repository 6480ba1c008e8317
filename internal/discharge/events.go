package discharge

import (
	"context"
	"time"
)

// Level is the severity of a run event.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Event is a structured notification emitted by the sequencer.
type Event struct {
	Type       string // one of the models.Event* constants
	Level      Level
	Message    string
	OccurredAt time.Time
	Tick       int
	TimeS      float64
	Fields     map[string]any
}

// EventSink receives sequencer events synchronously, in order.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, e Event)

func (f EventSinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}
