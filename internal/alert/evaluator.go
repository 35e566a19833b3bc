package alert

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"alertengine/internal/metrics"
	"alertengine/pkg/market"

	"go.uber.org/zap"
)

// TriggerWriter persists a batch of triggers atomically.
type TriggerWriter interface {
	AppendTriggers(ctx context.Context, triggers []Trigger) ([]Trigger, error)
}

// state is the crossing memory of one alert on one interval. It is never persisted.
type state struct {
	seeded       bool
	previous     float64
	lastObserved time.Time
}

// entry keeps crossing state per observed interval so an alert without an
// interval follows every series on its own. The cooldown is shared.
type entry struct {
	alert     Alert
	states    map[market.Interval]state
	lastFired time.Time
}

type stateKey struct {
	en       *entry
	interval market.Interval
}

// shard holds one instrument's alerts indexed by source.
type shard struct {
	mu       sync.Mutex
	bySource map[string][]*entry
}

// Evaluator applies observations to the in-memory alert index and records triggers.
type Evaluator struct {
	mu     sync.RWMutex
	shards map[string]*shard
	byID   map[string]*entry

	writer  TriggerWriter
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	visited atomic.Int64
}

func NewEvaluator(writer TriggerWriter, logger *zap.Logger, m *metrics.Metrics) *Evaluator {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Evaluator{
		shards:  make(map[string]*shard),
		byID:    make(map[string]*entry),
		writer:  writer,
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}
}

// SetClock replaces the time source used for cooldowns and FiredAt.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// Load replaces the whole index. All evaluation state is reset.
func (e *Evaluator) Load(alerts []Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shards = make(map[string]*shard)
	e.byID = make(map[string]*entry, len(alerts))
	for _, a := range alerts {
		e.insert(&entry{alert: a})
	}
}

// Upsert adds or replaces an alert. State survives unless the instrument, interval or
// source changed.
func (e *Evaluator) Upsert(a Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := &entry{alert: a}
	if old, ok := e.byID[a.ID]; ok {
		if sameSeries(old.alert, a) {
			next.states = old.states
			next.lastFired = old.lastFired
		}
		e.remove(old)
	}
	e.insert(next)
}

func (e *Evaluator) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.byID[id]; ok {
		e.remove(old)
	}
}

func (e *Evaluator) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.byID)
}

// Sources lists the indicator sources referenced by enabled alerts on the series.
func (e *Evaluator) Sources(instrument string, interval market.Interval) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sh, ok := e.shards[instrument]
	if !ok {
		return nil
	}
	var out []string
	for src, entries := range sh.bySource {
		if src == SourcePrice {
			continue
		}
		for _, en := range entries {
			if en.alert.Enabled && en.alert.Interval == interval {
				out = append(out, src)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Visited counts alert entries examined by Evaluate since construction.
func (e *Evaluator) Visited() int64 { return e.visited.Load() }

func sameSeries(a, b Alert) bool {
	return a.Instrument == b.Instrument && a.Interval == b.Interval && a.Source == b.Source
}

func (e *Evaluator) insert(en *entry) {
	sh, ok := e.shards[en.alert.Instrument]
	if !ok {
		sh = &shard{bySource: make(map[string][]*entry)}
		e.shards[en.alert.Instrument] = sh
	}
	sh.bySource[en.alert.Source] = append(sh.bySource[en.alert.Source], en)
	e.byID[en.alert.ID] = en
}

func (e *Evaluator) remove(en *entry) {
	delete(e.byID, en.alert.ID)
	sh, ok := e.shards[en.alert.Instrument]
	if !ok {
		return
	}
	list := sh.bySource[en.alert.Source]
	for i, x := range list {
		if x == en {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(sh.bySource, en.alert.Source)
	} else {
		sh.bySource[en.alert.Source] = list
	}
	if len(sh.bySource) == 0 {
		delete(e.shards, en.alert.Instrument)
	}
}

// Evaluate applies observations in order. Next states are computed into a scratch set,
// fired triggers are persisted in one batch, and the states are committed only after the
// batch is stored. On error nothing changes.
func (e *Evaluator) Evaluate(ctx context.Context, observations []Observation) ([]Trigger, error) {
	if len(observations) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { e.metrics.EvalDuration.Observe(time.Since(start).Seconds()) }()

	e.mu.RLock()
	defer e.mu.RUnlock()
	now := e.now().UTC()

	// lock the touched instruments in a fixed order
	instruments := make([]string, 0, 1)
	seen := make(map[string]bool)
	for _, o := range observations {
		if _, ok := e.shards[o.Instrument]; ok && !seen[o.Instrument] {
			seen[o.Instrument] = true
			instruments = append(instruments, o.Instrument)
		}
	}
	sort.Strings(instruments)
	for _, inst := range instruments {
		e.shards[inst].mu.Lock()
	}
	defer func() {
		for _, inst := range instruments {
			e.shards[inst].mu.Unlock()
		}
	}()

	scratch := make(map[stateKey]state)
	firedAt := make(map[*entry]time.Time)
	var fired []Trigger
	visited := 0
	for _, o := range observations {
		sh, ok := e.shards[o.Instrument]
		if !ok {
			continue
		}
		for _, en := range sh.bySource[o.Source] {
			visited++
			a := en.alert
			if !a.Enabled || (a.Interval != "" && a.Interval != o.Interval) {
				continue
			}
			key := stateKey{en: en, interval: o.Interval}
			st, ok := scratch[key]
			if !ok {
				st = en.states[o.Interval]
			}
			last, ok := firedAt[en]
			if !ok {
				last = en.lastFired
			}
			next, trig, hit := step(a, st, last, o, now)
			scratch[key] = next
			if hit {
				firedAt[en] = now
				fired = append(fired, trig)
			}
		}
	}
	e.visited.Add(int64(visited))
	e.metrics.AlertsEvalTot.Add(float64(visited))

	if len(fired) > 0 {
		stored, err := e.writer.AppendTriggers(ctx, fired)
		if err != nil {
			e.metrics.EvalFailures.Inc()
			e.logger.Warn("trigger batch not persisted, state unchanged",
				zap.Int("triggers", len(fired)),
				zap.Error(err))
			return nil, err
		}
		fired = stored
		e.metrics.TriggersTotal.Add(float64(len(fired)))
	}

	for key, st := range scratch {
		if key.en.states == nil {
			key.en.states = make(map[market.Interval]state)
		}
		key.en.states[key.interval] = st
	}
	for en, at := range firedAt {
		en.lastFired = at
	}
	return fired, nil
}

// step advances one alert by one observation of a single interval.
func step(a Alert, st state, lastFired time.Time, o Observation, now time.Time) (state, Trigger, bool) {
	if !st.lastObserved.IsZero() && o.Time.Before(st.lastObserved) {
		return st, Trigger{}, false
	}
	if !st.seeded {
		st.seeded = true
		st.previous = o.Value
		st.lastObserved = o.Time
		return st, Trigger{}, false
	}

	var (
		trig Trigger
		hit  bool
	)
	if a.Condition.Crossed(st.previous, o.Value, a.Threshold) && !coolingDown(a, lastFired, now) {
		trig = Trigger{
			AlertID:       a.ID,
			Instrument:    a.Instrument,
			Condition:     a.Condition,
			Threshold:     a.Threshold,
			Previous:      st.previous,
			ObservedValue: o.Value,
			ObservedAt:    o.Time,
			FiredAt:       now,
		}
		hit = true
	}
	st.previous = o.Value
	st.lastObserved = o.Time
	return st, trig, hit
}

func coolingDown(a Alert, lastFired, now time.Time) bool {
	return a.Cooldown > 0 && !lastFired.IsZero() && now.Sub(lastFired) < a.Cooldown
}
