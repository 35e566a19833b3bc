// Package scheduler polls the provider for every watched (instrument, interval) pair.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"alertengine/internal/metrics"
	"alertengine/internal/session"
	"alertengine/pkg/market"

	"go.uber.org/zap"
)

var ErrNotStarted = errors.New("scheduler not started")

// Fetcher loads candles for a range.
type Fetcher interface {
	Fetch(ctx context.Context, instrument string, interval market.Interval, r market.TimeRange) ([]market.Candle, error)
}

// Sink receives every successful fetch of a live job.
type Sink interface {
	Apply(ctx context.Context, instrument string, interval market.Interval, candles []market.Candle) error
}

// VenueFunc resolves an instrument to its session table venue.
type VenueFunc func(instrument string) string

type Config struct {
	// Cadence overrides the interval table's refresh cadence.
	Cadence map[market.Interval]time.Duration
	// ClosedFactor multiplies the cadence while the venue is closed.
	ClosedFactor float64
	// SuspendWhenClosed sleeps until the next session open instead.
	SuspendWhenClosed bool
	// LookbackBars is the first fetch's depth.
	LookbackBars int
}

// Key identifies one polling job.
type Key struct {
	Instrument string          `json:"instrument"`
	Interval   market.Interval `json:"interval"`
}

// State is the transient polling state of a job.
type State struct {
	Key
	Cadence     time.Duration `json:"cadence"`
	LastFetch   time.Time     `json:"last_fetch"`
	LastSuccess time.Time     `json:"last_success"`
	LastBar     time.Time     `json:"last_bar"`
	NextRun     time.Time     `json:"next_run"`
	FetchCount  int           `json:"fetch_count"`
	FailCount   int           `json:"fail_count"`
	LastError   string        `json:"last_error,omitempty"`
	Suspended   bool          `json:"suspended"`
}

type job struct {
	key    Key
	cancel context.CancelFunc

	// mu serializes Apply with Unwatch.
	mu    sync.Mutex
	live  bool
	state State
}

type Scheduler struct {
	fetcher  Fetcher
	sink     Sink
	sessions *session.Table
	venue    VenueFunc
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu   sync.Mutex
	ctx  context.Context
	jobs map[Key]*job
	wg   sync.WaitGroup
}

func New(fetcher Fetcher, sink Sink, sessions *session.Table, venue VenueFunc, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if sessions == nil {
		sessions = session.DefaultTable()
	}
	if venue == nil {
		venue = func(string) string { return "" }
	}
	if cfg.LookbackBars <= 0 {
		cfg.LookbackBars = 500
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Scheduler{
		fetcher:  fetcher,
		sink:     sink,
		sessions: sessions,
		venue:    venue,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		jobs:     make(map[Key]*job),
	}
}

// Start binds the scheduler to ctx. Jobs stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

// Watch starts polling the pair, fetching immediately. Watching an existing pair is a no-op.
func (s *Scheduler) Watch(instrument string, interval market.Interval) error {
	if !interval.IsValid() {
		return market.ErrInvalidInterval
	}
	key := Key{Instrument: instrument, Interval: interval}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return ErrNotStarted
	}
	if _, ok := s.jobs[key]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{key: key, cancel: cancel, live: true, state: State{Key: key}}
	s.jobs[key] = j
	s.metrics.ActiveJobs.Inc()

	s.wg.Add(1)
	go s.run(ctx, j)

	s.logger.Info("watching",
		zap.String("instrument", instrument),
		zap.String("interval", string(interval)))
	return nil
}

// Unwatch stops the pair's job. When it returns no further Apply happens for the pair.
func (s *Scheduler) Unwatch(instrument string, interval market.Interval) {
	key := Key{Instrument: instrument, Interval: interval}
	s.mu.Lock()
	j, ok := s.jobs[key]
	if ok {
		delete(s.jobs, key)
		s.metrics.ActiveJobs.Dec()
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	j.cancel()
	j.mu.Lock()
	j.live = false
	j.mu.Unlock()

	s.logger.Info("unwatched",
		zap.String("instrument", instrument),
		zap.String("interval", string(interval)))
}

// Switch moves an instrument's polling from one interval to another.
func (s *Scheduler) Switch(instrument string, from, to market.Interval) error {
	if !to.IsValid() {
		return market.ErrInvalidInterval
	}
	if from != to {
		s.Unwatch(instrument, from)
	}
	return s.Watch(instrument, to)
}

// Stop cancels every job and waits for the goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	jobs := make([]Key, 0, len(s.jobs))
	for k := range s.jobs {
		jobs = append(jobs, k)
	}
	s.mu.Unlock()

	for _, k := range jobs {
		s.Unwatch(k.Instrument, k.Interval)
	}
	s.wg.Wait()
}

// States returns a snapshot of every job's polling state, ordered by key.
func (s *Scheduler) States() []State {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]State, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out = append(out, j.state)
		j.mu.Unlock()
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Instrument != out[k].Instrument {
			return out[i].Instrument < out[k].Instrument
		}
		return out[i].Interval.Duration() < out[k].Interval.Duration()
	})
	return out
}

// Watching reports whether the pair has a live job.
func (s *Scheduler) Watching(instrument string, interval market.Interval) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[Key{Instrument: instrument, Interval: interval}]
	return ok
}

// run is the job loop. Ticks are sequential, so a job never overlaps itself.
func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	for {
		s.tick(ctx, j)

		delay, suspended := s.nextDelay(j.key, s.now())
		j.mu.Lock()
		j.state.Cadence = delay
		j.state.Suspended = suspended
		j.state.NextRun = s.now().Add(delay)
		j.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, j *job) {
	j.mu.Lock()
	r := s.fetchRange(j.key, j.state.LastBar)
	j.mu.Unlock()

	candles, err := s.fetcher.Fetch(ctx, j.key.Instrument, j.key.Interval, r)

	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.live || ctx.Err() != nil {
		// cancelled while fetching; the result belongs to nobody
		return
	}

	j.state.LastFetch = s.now()
	j.state.FetchCount++
	if err == nil {
		err = s.sink.Apply(ctx, j.key.Instrument, j.key.Interval, candles)
	}
	if err != nil {
		j.state.FailCount++
		j.state.LastError = err.Error()
		s.logger.Warn("poll failed",
			zap.String("instrument", j.key.Instrument),
			zap.String("interval", string(j.key.Interval)),
			zap.Error(err))
		return
	}

	j.state.LastSuccess = j.state.LastFetch
	j.state.LastError = ""
	if latest := market.Latest(candles); latest.After(j.state.LastBar) {
		j.state.LastBar = latest
	}
}

// fetchRange covers the lookback on the first fetch and the newest stored bar afterwards,
// so the forming bar is refreshed every tick.
func (s *Scheduler) fetchRange(key Key, lastBar time.Time) market.TimeRange {
	now := s.now().UTC()
	if lastBar.IsZero() {
		return market.TimeRange{From: now.Add(-time.Duration(s.cfg.LookbackBars) * key.Interval.Duration())}
	}
	return market.TimeRange{From: lastBar}
}

// nextDelay is the cadence for key at now. A closed venue stretches it by ClosedFactor,
// or suspends the job until the next open.
func (s *Scheduler) nextDelay(key Key, now time.Time) (time.Duration, bool) {
	cadence, ok := s.cfg.Cadence[key.Interval]
	if !ok || cadence <= 0 {
		cadence = key.Interval.Meta().Refresh
	}

	venue := s.venue(key.Instrument)
	if s.sessions.IsOpen(venue, now) {
		return cadence, false
	}
	if s.cfg.SuspendWhenClosed {
		if wait := s.sessions.NextOpen(venue, now).Sub(now); wait > 0 {
			return wait, true
		}
		return cadence, false
	}
	if s.cfg.ClosedFactor > 1 {
		cadence = time.Duration(float64(cadence) * s.cfg.ClosedFactor)
	}
	return cadence, false
}
