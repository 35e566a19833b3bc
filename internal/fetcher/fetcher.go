// Package fetcher wraps a market-data provider with a token-bucket rate limit,
// per-attempt timeouts and jittered exponential backoff.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alertengine/internal/metrics"
	"alertengine/pkg/market"
	"alertengine/pkg/provider"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config bounds the call rate and retry schedule.
type Config struct {
	RatePerSecond  float64
	Burst          int
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultConfig mirrors the production defaults: 1s base, x2, 30s cap, 5 attempts.
func DefaultConfig() Config {
	return Config{
		RatePerSecond:  10,
		Burst:          10,
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// Fetcher is the rate-limited, retrying front of a provider.Provider.
type Fetcher struct {
	provider provider.Provider
	limiter  *rate.Limiter
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics

	// OnRetry, if set, observes every scheduled retry delay.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func New(p provider.Provider, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Fetcher {
	def := DefaultConfig()
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if m == nil {
		m = metrics.NewNop()
	}

	return &Fetcher{
		provider: p,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// Fetch returns validated, UTC-normalised candles for instrument/interval in r.
//
// Errors: ErrPermanent (wrapping the provider cause) for do-not-retry failures,
// *UnavailableError (errors.Is ErrProviderUnavailable) when transient failures exhaust
// MaxAttempts, or ctx.Err() when the caller gives up.
func (f *Fetcher) Fetch(ctx context.Context, instrument string, interval market.Interval, r market.TimeRange) ([]market.Candle, error) {
	started := time.Now()
	defer func() { f.metrics.FetchDuration.Observe(time.Since(started).Seconds()) }()

	if !interval.IsValid() {
		f.metrics.FetchOutcomes.WithLabelValues("permanent").Inc()
		return nil, fmt.Errorf("%w: %w", ErrPermanent, fmt.Errorf("%w: %q", market.ErrInvalidInterval, interval))
	}

	schedule := NewSchedule(f.cfg.BaseDelay, f.cfg.MaxDelay)
	policy := backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(f.cfg.MaxAttempts-1)), ctx)

	var (
		candles   []market.Candle
		attempts  int
		permanent bool
	)

	op := func() error {
		attempts++
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
		got, err := f.provider.FetchCandles(attemptCtx, instrument, interval, r)
		cancel()

		switch {
		case err == nil:
			f.metrics.FetchAttempts.WithLabelValues("ok").Inc()
			candles = got
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case provider.IsPermanent(err):
			f.metrics.FetchAttempts.WithLabelValues("permanent").Inc()
			permanent = true
			return backoff.Permanent(err)
		}

		if hint, ok := provider.RetryAfterHint(err); ok {
			f.metrics.FetchAttempts.WithLabelValues("rate_limited").Inc()
			if hint > 0 {
				schedule.Hint(hint)
			}
		} else {
			f.metrics.FetchAttempts.WithLabelValues("transient").Inc()
		}
		return err
	}

	notify := func(err error, d time.Duration) {
		f.metrics.FetchRetries.Inc()
		f.logger.Warn("provider fetch failed, retrying",
			zap.String("instrument", instrument),
			zap.String("interval", interval.String()),
			zap.Int("attempt", attempts),
			zap.Duration("delay", d),
			zap.Error(err))
		if f.OnRetry != nil {
			f.OnRetry(attempts, d, err)
		}
	}

	err := backoff.RetryNotify(op, policy, notify)
	switch {
	case err == nil:
	case permanent:
		f.metrics.FetchOutcomes.WithLabelValues("permanent").Inc()
		return nil, fmt.Errorf("%w: %w", ErrPermanent, err)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		f.metrics.FetchOutcomes.WithLabelValues("unavailable").Inc()
		return nil, &UnavailableError{Instrument: instrument, Attempts: attempts, Err: err}
	}

	f.metrics.FetchOutcomes.WithLabelValues("ok").Inc()
	return f.sanitize(instrument, interval, candles), nil
}

// sanitize forces key fields and UTC, and drops bars that violate the OHLC invariants.
func (f *Fetcher) sanitize(instrument string, interval market.Interval, in []market.Candle) []market.Candle {
	out := make([]market.Candle, 0, len(in))
	for _, c := range in {
		c.Instrument = instrument
		c.Interval = interval
		c.Time = c.Time.UTC()
		if err := c.Validate(); err != nil {
			f.metrics.CandlesRejected.Inc()
			f.logger.Warn("rejected malformed candle", zap.String("instrument", instrument), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return market.Dedupe(out)
}

// IsUnavailable reports whether err is retry exhaustion.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
