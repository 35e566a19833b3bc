package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakePruner struct {
	before time.Time
	calls  int
	err    error
}

func (f *fakePruner) PruneTriggers(ctx context.Context, before time.Time) (int64, error) {
	f.calls++
	f.before = before
	return 3, f.err
}

func (f *fakePruner) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	f.calls++
	f.before = before
	return 7, f.err
}

// go test -v --run TestRunOnceCutoffs
func TestRunOnceCutoffs(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 5, 0, time.UTC)
	triggers, candles := &fakePruner{}, &fakePruner{}
	j := New(triggers, candles, 90*24*time.Hour, 0, zap.NewNop())
	j.now = func() time.Time { return now }

	if err := j.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if want := now.Add(-90 * 24 * time.Hour); !triggers.before.Equal(want) {
		t.Errorf("trigger cutoff %v, want %v", triggers.before, want)
	}
	if candles.calls != 0 {
		t.Errorf("zero candle retention must keep candles")
	}

	j.candleRetention = 365 * 24 * time.Hour
	candles.err = errors.New("locked")
	if err := j.RunOnce(context.Background()); err == nil {
		t.Errorf("expected candle prune error")
	}
	if triggers.calls != 2 {
		t.Errorf("trigger pruning should still run, calls=%d", triggers.calls)
	}
}

// go test -v --run TestNextMidnight
func TestNextMidnight(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	cases := []struct {
		in   time.Time
		want time.Time
	}{
		{time.Date(2024, 2, 28, 13, 0, 0, 0, time.UTC), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
		// 02:00 IST on May 2 is still May 1 in UTC
		{time.Date(2024, 5, 2, 2, 0, 0, 0, ist), time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		if got := NextMidnight(c.in); !got.Equal(c.want) {
			t.Errorf("NextMidnight(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

// go test -v --run TestAtMidnightStopsOnCancel
func TestAtMidnightStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	done := make(chan struct{})
	go func() {
		AtMidnight(ctx, nil, func(context.Context) { runs++ })
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AtMidnight did not return after cancel")
	}
	if runs != 1 {
		t.Errorf("expected the immediate run only, got %d", runs)
	}
}
