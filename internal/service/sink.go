package service

import (
	"context"
	"time"

	"discharge_tester/internal/discharge"
	"discharge_tester/internal/logger"
	"discharge_tester/internal/models"
	"discharge_tester/internal/repository"
	"discharge_tester/internal/telemetry"
)

const sinkWriteTimeout = 5 * time.Second

// eventSink writes every sequencer event to the log, the event table and
// the telemetry publisher. Failures are logged and never stop the run.
type eventSink struct {
	runID string
	repo  repository.EventRepo
	log   *logger.Logger
	pub   telemetry.Publisher
}

func newEventSink(runID string, repo repository.EventRepo, log *logger.Logger, pub telemetry.Publisher) *eventSink {
	if pub == nil {
		pub = telemetry.Nop{}
	}
	return &eventSink{runID: runID, repo: repo, log: log, pub: pub}
}

func (s *eventSink) Emit(ctx context.Context, e discharge.Event) {
	kv := []any{"run_id", s.runID, "type", e.Type, "tick", e.Tick, "time_s", e.TimeS}
	for k, v := range e.Fields {
		kv = append(kv, k, v)
	}
	switch e.Level {
	case discharge.LevelCritical, discharge.LevelError:
		s.log.Errorw(e.Message, kv...)
	case discharge.LevelWarn:
		s.log.Warnw(e.Message, kv...)
	default:
		s.log.Infow(e.Message, kv...)
	}

	// Emergency events must be stored even while the run context is being canceled.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkWriteTimeout)
	defer cancel()

	ev := models.RunEvent{
		RunID:       s.runID,
		OccurredAt:  e.OccurredAt,
		Type:        e.Type,
		Level:       string(e.Level),
		Description: e.Message,
	}
	if len(e.Fields) > 0 {
		ev.Metadata = e.Fields
	}
	if err := s.repo.Append(wctx, ev); err != nil {
		s.log.Errorw("persist_event_failed", "run_id", s.runID, "type", e.Type, "err", err)
	}
	if err := s.pub.Publish(s.runID, e); err != nil {
		s.log.Warnw("publish_event_failed", "run_id", s.runID, "type", e.Type, "err", err)
	}
}
