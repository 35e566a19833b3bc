// Package retention prunes old triggers and candles once a day at UTC midnight.
package retention

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// TriggerPruner deletes triggers fired before a cutoff.
type TriggerPruner interface {
	PruneTriggers(ctx context.Context, before time.Time) (int64, error)
}

// CandlePruner deletes candles that started before a cutoff.
type CandlePruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type Janitor struct {
	triggers         TriggerPruner
	candles          CandlePruner
	triggerRetention time.Duration
	candleRetention  time.Duration
	logger           *zap.Logger
	now              func() time.Time
}

// New returns a janitor. A zero retention disables pruning of that table.
func New(triggers TriggerPruner, candles CandlePruner, triggerRetention, candleRetention time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		triggers:         triggers,
		candles:          candles,
		triggerRetention: triggerRetention,
		candleRetention:  candleRetention,
		logger:           logger,
		now:              time.Now,
	}
}

// RunOnce prunes both tables relative to the current time.
func (j *Janitor) RunOnce(ctx context.Context) error {
	now := j.now().UTC()
	var errs []error

	if j.triggers != nil && j.triggerRetention > 0 {
		n, err := j.triggers.PruneTriggers(ctx, now.Add(-j.triggerRetention))
		if err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			j.logger.Info("pruned triggers", zap.Int64("count", n))
		}
	}
	if j.candles != nil && j.candleRetention > 0 {
		n, err := j.candles.DeleteBefore(ctx, now.Add(-j.candleRetention))
		if err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			j.logger.Info("pruned candles", zap.Int64("count", n))
		}
	}
	return errors.Join(errs...)
}

// Start prunes immediately and then at every UTC midnight until ctx ends.
func (j *Janitor) Start(ctx context.Context) {
	go AtMidnight(ctx, j.now, func(ctx context.Context) {
		if err := j.RunOnce(ctx); err != nil {
			j.logger.Warn("retention pass failed", zap.Error(err))
		}
	})
}

// AtMidnight runs fn once now and then at each following UTC midnight. It blocks until
// ctx is cancelled.
func AtMidnight(ctx context.Context, now func() time.Time, fn func(context.Context)) {
	if now == nil {
		now = time.Now
	}
	fn(ctx)
	for {
		t := now().UTC()
		timer := time.NewTimer(NextMidnight(t).Sub(t))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		fn(ctx)
	}
}

// NextMidnight returns the first UTC midnight strictly after t.
func NextMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
