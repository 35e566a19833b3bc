package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alertengine/internal/alert"
	"alertengine/internal/cache"
	"alertengine/internal/fetcher"
	"alertengine/internal/indicator"
	"alertengine/pkg/market"

	"go.uber.org/zap"
)

// GetCandles serves a series range. A fresh cache entry is returned as cached; otherwise
// the provider is asked and the result persisted (live). If the provider fails
// transiently the last known data is returned with ErrStaleCacheServed, and with no data
// at all the result is unavailable with ErrProviderUnavailable. Unknown instruments map
// to ErrNotFound.
func (s *Service) GetCandles(ctx context.Context, instrument string, interval market.Interval, r market.TimeRange) (*CandleResult, error) {
	ticker, err := market.NormalizeTicker(instrument)
	if err != nil {
		return nil, err
	}
	if !interval.IsValid() {
		return nil, fmt.Errorf("%w: %q", market.ErrInvalidInterval, interval)
	}
	r = r.UTC()
	now := s.now()

	entry, lookup := s.cache.Get(ticker, interval, r, now)
	s.metrics.CacheLookups.WithLabelValues("candle", lookup.String()).Inc()
	if lookup == cache.Hit {
		return result(entry.Candles, interval, StatusCached), nil
	}

	fetchRange := r
	if fetchRange.From.IsZero() {
		fetchRange.From = now.UTC().Add(-time.Duration(s.lookback) * interval.Duration())
	}
	fetched, fetchErr := s.fetcher.Fetch(ctx, ticker, interval, fetchRange)
	if fetchErr == nil {
		if err := s.Apply(ctx, ticker, interval, fetched); err != nil {
			return nil, err
		}
		stored, err := s.candles.Query(ctx, ticker, interval, r)
		if err != nil {
			return nil, err
		}
		return result(stored, interval, StatusLive), nil
	}

	if errors.Is(fetchErr, fetcher.ErrPermanent) {
		return nil, fmt.Errorf("%w: %s/%s: %w", ErrNotFound, ticker, interval, fetchErr)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.cache.MarkStale(ticker, interval)
	if lookup == cache.Stale && len(entry.Candles) > 0 {
		s.logger.Warn("serving stale cache",
			zap.String("instrument", ticker),
			zap.String("interval", string(interval)),
			zap.Error(fetchErr))
		return result(entry.Candles, interval, StatusStale), fmt.Errorf("%w: %w", ErrStaleCacheServed, fetchErr)
	}

	stored, err := s.candles.Query(ctx, ticker, interval, r)
	if err == nil && len(stored) > 0 {
		s.logger.Warn("serving stored candles while provider is unavailable",
			zap.String("instrument", ticker),
			zap.String("interval", string(interval)),
			zap.Error(fetchErr))
		return result(stored, interval, StatusStale), fmt.Errorf("%w: %w", ErrStaleCacheServed, fetchErr)
	}

	unavailable := &CandleResult{Status: StatusUnavailable}
	if errors.Is(fetchErr, ErrProviderUnavailable) {
		return unavailable, fetchErr
	}
	return unavailable, fmt.Errorf("%w: %w", ErrProviderUnavailable, fetchErr)
}

func result(candles []market.Candle, interval market.Interval, status Status) *CandleResult {
	return &CandleResult{
		Candles: candles,
		Gaps:    market.DetectGaps(candles, interval),
		Status:  status,
	}
}

// Restore rebuilds the in-memory state from the store. Stored indicator definitions are
// registered before alerts load so indicator-sourced alerts resolve.
func (s *Service) Restore(ctx context.Context) error {
	if s.definitions != nil {
		defs, err := s.definitions.ListDefinitions(ctx)
		if err != nil {
			return err
		}
		restored := 0
		for _, def := range defs {
			if _, err := s.engine.Registry().Register(def); err != nil {
				s.logger.Warn("skipping stored indicator",
					zap.String("name", def.Name()),
					zap.Error(err))
				continue
			}
			restored++
		}
		s.logger.Info("indicators restored", zap.Int("count", restored))
	}
	return s.alerts.Load(ctx)
}

// GetIndicator computes an indicator over the series. With no params, name is a
// registered instance name. With params, name is a family base and the resulting
// definition is registered and stored under its derived name.
func (s *Service) GetIndicator(ctx context.Context, instrument string, interval market.Interval, name string, params indicator.Params) (indicator.Output, error) {
	if len(params) > 0 {
		def := indicator.Definition{Base: name, Params: params}
		registered, err := s.engine.Registry().Register(def)
		if err != nil {
			return indicator.Output{}, err
		}
		if s.definitions != nil {
			stored, _ := s.engine.Registry().Lookup(registered)
			if err := s.definitions.SaveDefinition(ctx, stored); err != nil {
				return indicator.Output{}, err
			}
		}
		name = registered
	} else if _, ok := s.engine.Registry().Lookup(name); !ok {
		return indicator.Output{}, fmt.Errorf("%w: %q", indicator.ErrUnknownIndicator, name)
	}

	res, err := s.GetCandles(ctx, instrument, interval, market.TimeRange{})
	if err != nil && !errors.Is(err, ErrStaleCacheServed) {
		return indicator.Output{}, err
	}

	series := res.Candles
	if n := len(series); n > s.lookback {
		series = series[n-s.lookback:]
	}
	ticker, _ := market.NormalizeTicker(instrument)
	return s.engine.Calculate(ticker, interval, name, series)
}

func (s *Service) ListAlerts(ctx context.Context) ([]alert.Alert, error) {
	return s.alerts.List(ctx)
}

func (s *Service) GetAlert(ctx context.Context, id string) (alert.Alert, error) {
	return s.alerts.Get(ctx, id)
}

// CreateAlert validates and stores a rule. Non-positive thresholds are rejected.
func (s *Service) CreateAlert(ctx context.Context, a alert.Alert) (alert.Alert, error) {
	return s.alerts.Create(ctx, a)
}

func (s *Service) UpdateAlert(ctx context.Context, a alert.Alert) (alert.Alert, error) {
	return s.alerts.Update(ctx, a)
}

func (s *Service) DeleteAlert(ctx context.Context, id string) error {
	return s.alerts.Delete(ctx, id)
}

// GetAlertTriggers lists triggers in firing order. An empty id lists all alerts'.
func (s *Service) GetAlertTriggers(ctx context.Context, alertID string) ([]alert.Trigger, error) {
	return s.alerts.Triggers(ctx, alertID)
}
