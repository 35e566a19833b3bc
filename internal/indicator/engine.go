package indicator

import (
	"sync/atomic"
	"time"

	"alertengine/internal/cache"
	"alertengine/internal/metrics"
	"alertengine/pkg/market"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheKey pins an output to the series' newest bar. A backfill that leaves the newest
// bar untouched keeps hitting the same key.
type cacheKey struct {
	instrument  string
	interval    market.Interval
	name        string
	fingerprint string
	latest      int64 // unix nanos of the newest candle
	latestClose float64
}

// Engine computes registered indicators and caches the outputs.
type Engine struct {
	registry *Registry
	cache    *lru.Cache[cacheKey, Output]
	metrics  *metrics.Metrics

	computed atomic.Int64
}

func NewEngine(registry *Registry, capacity int, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{
		registry: registry,
		cache:    cache.NewLRU[cacheKey, Output](capacity),
		metrics:  m,
	}
}

func (e *Engine) Registry() *Registry { return e.registry }

// Calculate returns the output of the named instance over candles, which must be
// ascending. The result is shared with the cache and must not be modified.
func (e *Engine) Calculate(instrument string, interval market.Interval, name string, candles []market.Candle) (Output, error) {
	inst, err := e.registry.lookup(name)
	if err != nil {
		return Output{}, err
	}
	return e.calculate(instrument, interval, name, inst.family, inst.merged, candles), nil
}

// CalculateDefinition computes an unregistered definition.
func (e *Engine) CalculateDefinition(instrument string, interval market.Interval, def Definition, candles []market.Candle) (Output, error) {
	inst, err := e.registry.resolve(def)
	if err != nil {
		return Output{}, err
	}
	return e.calculate(instrument, interval, inst.def.Name(), inst.family, inst.merged, candles), nil
}

func (e *Engine) calculate(instrument string, interval market.Interval, name string, f Family, params Params, candles []market.Candle) Output {
	key := cacheKey{
		instrument:  instrument,
		interval:    interval,
		name:        name,
		fingerprint: f.Base() + "(" + params.fingerprint() + ")",
	}
	if n := len(candles); n > 0 {
		key.latest = candles[n-1].Time.UnixNano()
		key.latestClose = candles[n-1].Close
	}

	if out, ok := e.cache.Get(key); ok {
		e.metrics.CacheLookups.WithLabelValues("indicator", "hit").Inc()
		return out
	}
	e.metrics.CacheLookups.WithLabelValues("indicator", "miss").Inc()

	start := time.Now()
	out := Output{
		Instrument: instrument,
		Interval:   interval,
		Name:       name,
		Points:     f.Calculate(candles, params),
	}
	e.computed.Add(1)
	e.metrics.IndicatorCompute.Observe(time.Since(start).Seconds())

	e.cache.Add(key, out)
	return out
}

// Invalidate drops cached outputs of the series computed up to a bar other than latest.
func (e *Engine) Invalidate(instrument string, interval market.Interval, latest time.Time) int {
	ts := latest.UnixNano()
	return cache.RemoveFunc(e.cache, func(k cacheKey, _ Output) bool {
		return k.instrument == instrument && k.interval == interval && k.latest != ts
	})
}

// Computations counts cache misses that ran a family calculation.
func (e *Engine) Computations() int64 { return e.computed.Load() }

func (e *Engine) Len() int { return e.cache.Len() }
