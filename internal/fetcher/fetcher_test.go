package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"alertengine/internal/metrics"
	"alertengine/pkg/market"
	"alertengine/pkg/provider"

	"go.uber.org/zap"
)

// scriptedProvider returns the queued errors in order, then candles.
type scriptedProvider struct {
	mu      sync.Mutex
	errs    []error
	candles []market.Candle
	calls   int
	block   bool
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) FetchCandles(ctx context.Context, instrument string, interval market.Interval,
	r market.TimeRange) ([]market.Candle, error) {
	p.mu.Lock()
	p.calls++
	block := p.block
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		p.errs = p.errs[1:]
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return p.candles, nil
}

func testConfig() Config {
	return Config{
		RatePerSecond:  1000,
		Burst:          100,
		MaxAttempts:    8,
		BaseDelay:      time.Millisecond,
		MaxDelay:       30 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func rateLimited(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = &provider.RateLimitError{Err: errors.New("too many visits")}
	}
	return errs
}

// go test -v --run TestBackoffBounding
func TestBackoffBounding(t *testing.T) {
	p := &scriptedProvider{errs: rateLimited(100)}
	f := New(p, testConfig(), zap.NewNop(), metrics.NewNop())

	var delays []time.Duration
	f.OnRetry = func(attempt int, d time.Duration, err error) { delays = append(delays, d) }

	_, err := f.Fetch(context.Background(), "BTCUSDT", market.Interval1Min, market.TimeRange{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Attempts != 8 {
		t.Fatalf("expected 8 attempts, got %+v", ue)
	}
	if p.calls != 8 {
		t.Errorf("expected 8 provider calls, got %d", p.calls)
	}
	if len(delays) != 7 {
		t.Fatalf("expected 7 retry delays, got %d", len(delays))
	}

	steps := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	jittered := false
	for i, d := range delays {
		step := steps[i] * time.Millisecond
		if d < step || d > step+step/10 {
			t.Errorf("delay %d = %v outside [%v, %v]", i, d, step, step+step/10)
		}
		if d > step {
			jittered = true
		}
		if i > 0 && d < delays[i-1] {
			t.Errorf("delay %d decreased: %v < %v", i, d, delays[i-1])
		}
	}
	if !jittered {
		t.Error("expected jitter on retry delays")
	}
	if IsTransient(err) != true {
		t.Error("unavailable must be transient")
	}
}

// go test -v --run TestRetryAfterHintWins
func TestRetryAfterHintWins(t *testing.T) {
	p := &scriptedProvider{
		errs:    []error{&provider.RateLimitError{RetryAfter: 25 * time.Millisecond, Err: errors.New("slow down")}},
		candles: []market.Candle{market.NewCandle("BTCUSDT", market.Interval1Min, time.Now(), 1, 2, 1, 2, 1)},
	}
	f := New(p, testConfig(), zap.NewNop(), metrics.NewNop())

	var delays []time.Duration
	f.OnRetry = func(attempt int, d time.Duration, err error) { delays = append(delays, d) }

	candles, err := f.Fetch(context.Background(), "BTCUSDT", market.Interval1Min, market.TimeRange{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if len(delays) != 1 || delays[0] != 25*time.Millisecond {
		t.Errorf("expected the provider hint as delay, got %v", delays)
	}
}

// go test -v --run TestPermanentNotRetried
func TestPermanentNotRetried(t *testing.T) {
	p := &scriptedProvider{errs: []error{&provider.PermanentError{Err: market.ErrInvalidInstrument}}}
	f := New(p, testConfig(), zap.NewNop(), metrics.NewNop())

	_, err := f.Fetch(context.Background(), "NOPE", market.Interval1Min, market.TimeRange{})
	if !errors.Is(err, ErrPermanent) || !errors.Is(err, market.ErrInvalidInstrument) {
		t.Fatalf("expected permanent invalid-instrument error, got %v", err)
	}
	if errors.Is(err, ErrProviderUnavailable) || IsTransient(err) {
		t.Error("permanent error must not look transient")
	}
	if p.calls != 1 {
		t.Errorf("expected a single call, got %d", p.calls)
	}
}

// go test -v --run TestAttemptTimeoutIsTransient
func TestAttemptTimeoutIsTransient(t *testing.T) {
	p := &scriptedProvider{block: true}
	cfg := testConfig()
	cfg.MaxAttempts = 2
	cfg.AttemptTimeout = 5 * time.Millisecond
	f := New(p, cfg, zap.NewNop(), metrics.NewNop())

	_, err := f.Fetch(context.Background(), "BTCUSDT", market.Interval1Min, market.TimeRange{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected unavailable after timeouts, got %v", err)
	}
	if p.calls != 2 {
		t.Errorf("expected timeout to be retried, got %d calls", p.calls)
	}
}

// go test -v --run TestMalformedCandlesDropped
func TestMalformedCandlesDropped(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &scriptedProvider{candles: []market.Candle{
		market.NewCandle("BTCUSDT", market.Interval1Hour, ts.Add(time.Hour), 10, 12, 9, 11, 1),
		market.NewCandle("BTCUSDT", market.Interval1Hour, ts, 10, 9, 8, 11, 1), // high < close
	}}
	m := metrics.NewNop()
	f := New(p, testConfig(), zap.NewNop(), m)

	candles, err := f.Fetch(context.Background(), "BTCUSDT", market.Interval1Hour, market.TimeRange{})
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 1 || candles[0].Close != 11 {
		t.Fatalf("expected only the valid candle, got %+v", candles)
	}
}

// go test -v --run TestScheduleReset
func TestScheduleReset(t *testing.T) {
	s := NewSchedule(time.Second, 30*time.Second)
	s.JitterFraction = 0
	for i := 0; i < 10; i++ {
		s.NextBackOff()
	}
	if d := s.NextBackOff(); d != 30*time.Second {
		t.Fatalf("expected cap, got %v", d)
	}
	s.Reset()
	if d := s.NextBackOff(); d != time.Second {
		t.Fatalf("expected base after reset, got %v", d)
	}
}

// go test -v --run TestDuplicateBarsCollapsed
func TestDuplicateBarsCollapsed(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &scriptedProvider{candles: []market.Candle{
		market.NewCandle("BTCUSDT", market.Interval1Hour, ts.Add(time.Hour), 10, 12, 9, 11, 1),
		market.NewCandle("BTCUSDT", market.Interval1Hour, ts, 10, 12, 9, 10, 1),
		market.NewCandle("BTCUSDT", market.Interval1Hour, ts.Add(time.Hour), 10, 13, 9, 12, 2),
	}}
	f := New(p, testConfig(), zap.NewNop(), metrics.NewNop())

	candles, err := f.Fetch(context.Background(), "BTCUSDT", market.Interval1Hour, market.TimeRange{})
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 || !candles[0].Time.Equal(ts) || candles[1].Close != 12 {
		t.Fatalf("expected two ascending bars with the later revision kept, got %+v", candles)
	}
}

// go test -v --run TestNilMetricsDefaults
func TestNilMetricsDefaults(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &scriptedProvider{
		errs:    rateLimited(1),
		candles: []market.Candle{market.NewCandle("BTCUSDT", market.Interval1Hour, ts, 10, 12, 9, 11, 1)},
	}
	f := New(p, testConfig(), zap.NewNop(), nil)

	candles, err := f.Fetch(context.Background(), "BTCUSDT", market.Interval1Hour, market.TimeRange{})
	if err != nil || len(candles) != 1 {
		t.Fatalf("fetch with nil metrics: %v, %d candles", err, len(candles))
	}
}
