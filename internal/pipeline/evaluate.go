package pipeline

import (
	"context"
	"time"

	"alertengine/internal/alert"
	"alertengine/internal/cache"
	"alertengine/internal/indicator"
	"alertengine/pkg/market"

	"go.uber.org/zap"
)

// Run drains the evaluation queue until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.queue:
			s.evaluate(ctx, u)
		}
	}
}

// evaluate feeds the bars after the series' watermark to the evaluator. The first time a
// series is seen the second-to-last bar seeds the alerts and the last bar is evaluated.
// The watermark advances only when the evaluation batch is persisted.
func (s *Service) evaluate(ctx context.Context, u update) {
	if len(u.series) == 0 {
		return
	}
	s.wmu.Lock()
	wm, seen := s.watermarks[u.key]
	s.wmu.Unlock()

	from := pending(u.series, wm, seen)
	if from < 0 {
		return
	}

	observations := s.observe(u.key, u.series, from)
	if len(observations) > 0 {
		triggers, err := s.evaluator.Evaluate(ctx, observations)
		if err != nil {
			s.logger.Error("evaluation failed, will retry on next update",
				zap.String("instrument", u.key.Instrument),
				zap.String("interval", string(u.key.Interval)),
				zap.Error(err))
			return
		}
		if len(triggers) > 0 {
			if err := s.notifier.Notify(ctx, triggers); err != nil {
				s.logger.Warn("trigger delivery incomplete", zap.Error(err))
			}
		}
	}

	last := u.series[len(u.series)-1]
	s.wmu.Lock()
	if cur, ok := s.watermarks[u.key]; !ok || !last.Time.Before(cur.bar) {
		s.watermarks[u.key] = watermark{bar: last.Time, close: last.Close}
	}
	s.wmu.Unlock()
}

// pending returns the index of the first bar to feed, or -1 when nothing changed.
func pending(series []market.Candle, wm watermark, seen bool) int {
	n := len(series)
	if !seen {
		if n >= 2 {
			return n - 2
		}
		return n - 1
	}
	for i, c := range series {
		if c.Time.Equal(wm.bar) {
			if c.Close != wm.close {
				return i
			}
			if i+1 < n {
				return i + 1
			}
			return -1
		}
		if c.Time.After(wm.bar) {
			return i
		}
	}
	return -1
}

// observe builds observations for series[from:], price first then each indicator
// source referenced by an alert on the series.
func (s *Service) observe(key cache.Key, series []market.Candle, from int) []alert.Observation {
	now := s.now().UTC()
	step := key.Interval.Duration()

	sources := s.evaluator.Sources(key.Instrument, key.Interval)
	points := make(map[string][]indicator.Point, len(sources))
	for _, name := range sources {
		out, err := s.engine.Calculate(key.Instrument, key.Interval, name, series)
		if err != nil {
			s.logger.Warn("indicator source unavailable",
				zap.String("instrument", key.Instrument),
				zap.String("source", name),
				zap.Error(err))
			continue
		}
		points[name] = out.Points
	}

	obs := make([]alert.Observation, 0, (len(series)-from)*(1+len(sources)))
	for i := from; i < len(series); i++ {
		c := series[i]
		at := observedAt(c.Time, step, now)
		obs = append(obs, alert.Observation{
			Instrument: key.Instrument,
			Interval:   key.Interval,
			Source:     alert.SourcePrice,
			Value:      c.Close,
			Time:       at,
		})
		for _, name := range sources {
			pts, ok := points[name]
			if !ok || i >= len(pts) || !pts[i].Valid {
				continue
			}
			obs = append(obs, alert.Observation{
				Instrument: key.Instrument,
				Interval:   key.Interval,
				Source:     name,
				Value:      pts[i].Value,
				Time:       at,
			})
		}
	}
	return obs
}

// observedAt is the bar close, or now while the bar is still forming.
func observedAt(start time.Time, step time.Duration, now time.Time) time.Time {
	end := start.Add(step)
	if end.After(now) {
		return now
	}
	return end
}
