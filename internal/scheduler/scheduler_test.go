package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"alertengine/internal/session"
	"alertengine/pkg/market"

	"go.uber.org/zap"
)

type fakeFetcher struct {
	delay   time.Duration
	gate    chan struct{} // when set, Fetch blocks until it receives
	calls   atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, instrument string, interval market.Interval, r market.TimeRange) ([]market.Candle, error) {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)
	f.calls.Add(1)

	if f.gate != nil {
		<-f.gate
	} else if f.delay > 0 {
		time.Sleep(f.delay)
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(f.calls.Load()) * time.Minute)
	return []market.Candle{market.NewCandle(instrument, interval, at, 1, 1, 1, 1, 1)}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	applied []Key
	notify  chan Key
}

func (s *recordingSink) Apply(ctx context.Context, instrument string, interval market.Interval, candles []market.Candle) error {
	s.mu.Lock()
	k := Key{Instrument: instrument, Interval: interval}
	s.applied = append(s.applied, k)
	s.mu.Unlock()
	if s.notify != nil {
		select {
		case s.notify <- k:
		default:
		}
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

func fastConfig() Config {
	return Config{Cadence: map[market.Interval]time.Duration{
		market.Interval1Min: 5 * time.Millisecond,
		market.Interval1Day: 5 * time.Millisecond,
	}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

// go test -v --run TestWatchRequiresStart
func TestWatchRequiresStart(t *testing.T) {
	s := New(&fakeFetcher{}, &recordingSink{}, nil, nil, fastConfig(), zap.NewNop(), nil)
	if err := s.Watch("BTCUSDT", market.Interval1Min); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	s.Start(context.Background())
	if err := s.Watch("BTCUSDT", "7m"); err == nil {
		t.Fatal("expected invalid interval error")
	}
}

// go test -v --run TestPollingAppliesAndNoOverlap
func TestPollingAppliesAndNoOverlap(t *testing.T) {
	f := &fakeFetcher{delay: 10 * time.Millisecond}
	sink := &recordingSink{}
	s := New(f, sink, nil, nil, fastConfig(), zap.NewNop(), nil)
	s.Start(context.Background())

	if err := s.Watch("BTCUSDT", market.Interval1Min); err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	// duplicate watch is a no-op
	s.Watch("BTCUSDT", market.Interval1Min)

	waitFor(t, func() bool { return sink.count() >= 3 })
	s.Stop()

	if f.overlap.Load() {
		t.Error("job fetched concurrently with itself")
	}
	if n := len(s.States()); n != 0 {
		t.Errorf("expected no jobs after stop, got %d", n)
	}
}

// go test -v --run TestUnwatchDiscardsInFlight
func TestUnwatchDiscardsInFlight(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	sink := &recordingSink{}
	s := New(f, sink, nil, nil, fastConfig(), zap.NewNop(), nil)
	s.Start(context.Background())

	s.Watch("ETHUSDT", market.Interval1Day)
	waitFor(t, func() bool { return f.calls.Load() == 1 })

	s.Unwatch("ETHUSDT", market.Interval1Day)
	close(f.gate) // the in-flight fetch now completes

	time.Sleep(30 * time.Millisecond)
	if n := sink.count(); n != 0 {
		t.Errorf("cancelled job applied %d results", n)
	}
	if s.Watching("ETHUSDT", market.Interval1Day) {
		t.Error("job still registered")
	}
	s.Stop()
}

// go test -v --run TestSwitchInterval
func TestSwitchInterval(t *testing.T) {
	f := &fakeFetcher{}
	sink := &recordingSink{notify: make(chan Key, 64)}
	s := New(f, sink, nil, nil, fastConfig(), zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.Watch("BTCUSDT", market.Interval1Min)
	waitFor(t, func() bool { return sink.count() >= 1 })

	if err := s.Switch("BTCUSDT", market.Interval1Min, market.Interval1Day); err != nil {
		t.Fatalf("switch failed: %v", err)
	}
	if s.Watching("BTCUSDT", market.Interval1Min) || !s.Watching("BTCUSDT", market.Interval1Day) {
		t.Fatal("switch did not move the job")
	}

	states := s.States()
	if len(states) != 1 || states[0].Interval != market.Interval1Day {
		t.Errorf("unexpected states %+v", states)
	}

	// after the switch only the new interval is applied
	sink.mu.Lock()
	sink.applied = nil
	sink.mu.Unlock()
	waitFor(t, func() bool { return sink.count() >= 2 })
	sink.mu.Lock()
	for _, k := range sink.applied {
		if k.Interval != market.Interval1Day {
			t.Errorf("stale apply for %v after switch", k)
		}
	}
	sink.mu.Unlock()
	s.Stop()
}

// go test -v --run TestClosedSessionCadence
func TestClosedSessionCadence(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+30*60)
	table := session.NewTable()
	table.Set("nse", session.Session{
		Location:    ist,
		OpenMinute:  9*60 + 15,
		CloseMinute: 15*60 + 30,
		Weekdays:    []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	})
	venue := func(string) string { return "nse" }
	key := Key{Instrument: "RELIANCE", Interval: market.Interval5Min}

	open := time.Date(2024, 6, 14, 10, 0, 0, 0, ist)
	closed := time.Date(2024, 6, 14, 20, 0, 0, 0, ist)

	s := New(&fakeFetcher{}, &recordingSink{}, table, venue, Config{ClosedFactor: 4}, zap.NewNop(), nil)
	if d, _ := s.nextDelay(key, open); d != time.Minute {
		t.Errorf("open cadence: expected 1m, got %v", d)
	}
	if d, _ := s.nextDelay(key, closed); d != 4*time.Minute {
		t.Errorf("closed cadence: expected 4m, got %v", d)
	}

	s = New(&fakeFetcher{}, &recordingSink{}, table, venue, Config{SuspendWhenClosed: true}, zap.NewNop(), nil)
	d, suspended := s.nextDelay(key, closed)
	// Friday 20:00 -> Monday 09:15
	if !suspended || d != 61*time.Hour+15*time.Minute {
		t.Errorf("expected suspension until Monday open, got %v suspended=%v", d, suspended)
	}
}

// go test -v --run TestFetchRange
func TestFetchRange(t *testing.T) {
	now := time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	s := New(&fakeFetcher{}, &recordingSink{}, nil, nil, Config{LookbackBars: 10}, zap.NewNop(), nil)
	s.now = func() time.Time { return now }

	key := Key{Instrument: "BTCUSDT", Interval: market.Interval1Hour}
	if r := s.fetchRange(key, time.Time{}); !r.From.Equal(now.Add(-10 * time.Hour)) {
		t.Errorf("first fetch should cover the lookback, got %v", r.From)
	}
	last := now.Add(-time.Hour)
	if r := s.fetchRange(key, last); !r.From.Equal(last) {
		t.Errorf("incremental fetch should start at the last bar, got %v", r.From)
	}
}
