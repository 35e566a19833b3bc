package pipeline

import (
	"context"
	"fmt"

	"alertengine/internal/cache"
	"alertengine/pkg/market"

	"go.uber.org/zap"
)

// Apply ingests one series batch from the scheduler or the live stream. Malformed
// candles are dropped. It never blocks on evaluation: a full queue drops the update
// and the next batch re-covers it.
func (s *Service) Apply(ctx context.Context, instrument string, interval market.Interval, candles []market.Candle) error {
	valid := make([]market.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Instrument != instrument || c.Interval != interval {
			s.metrics.CandlesRejected.Inc()
			continue
		}
		if err := c.Validate(); err != nil {
			s.metrics.CandlesRejected.Inc()
			s.logger.Warn("dropped malformed candle",
				zap.String("instrument", instrument),
				zap.String("interval", string(interval)),
				zap.Error(err))
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil
	}
	valid = market.Dedupe(valid)

	res, err := s.candles.Upsert(ctx, valid)
	if err != nil {
		return fmt.Errorf("persist %s/%s: %w", instrument, interval, err)
	}
	s.metrics.CandlesUpserted.Add(float64(res.Written))

	series, err := s.candles.Tail(ctx, instrument, interval, s.lookback)
	if err != nil {
		return fmt.Errorf("reload %s/%s: %w", instrument, interval, err)
	}
	if len(series) > 0 {
		s.cache.Put(instrument, interval, series, series[0].Time, s.now())
	}

	if res.Advanced {
		s.engine.Invalidate(instrument, interval, res.Latest)
	}

	s.enqueue(update{key: cache.Key{Instrument: instrument, Interval: interval}, series: series})
	return nil
}

func (s *Service) enqueue(u update) {
	select {
	case s.queue <- u:
	default:
		s.metrics.QueueDropped.Inc()
		s.logger.Warn("evaluation queue full, update dropped",
			zap.String("instrument", u.key.Instrument),
			zap.String("interval", string(u.key.Interval)))
	}
}
