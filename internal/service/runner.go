package service

import (
	"context"
	"time"
)

// tickerPacer spaces sequencer ticks on a wall-clock ticker.
type tickerPacer struct {
	t *time.Ticker
}

func newTickerPacer(interval time.Duration) *tickerPacer {
	return &tickerPacer{t: time.NewTicker(interval)}
}

// Wait blocks until the next tick or until ctx is canceled.
func (p *tickerPacer) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.t.C:
		return nil
	}
}

func (p *tickerPacer) Stop() { p.t.Stop() }
