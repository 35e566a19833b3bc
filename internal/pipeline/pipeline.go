// Package pipeline ties ingestion to evaluation and exposes the caller operations.
//
// Apply persists a batch, refreshes the candle cache, invalidates indicator outputs when
// the newest bar moves, and queues the series for evaluation. A single worker drains the
// queue, turning new or revised bars into observations for the alert evaluator.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"alertengine/internal/alert"
	"alertengine/internal/cache"
	"alertengine/internal/fetcher"
	"alertengine/internal/indicator"
	"alertengine/internal/metrics"
	"alertengine/internal/notify"
	"alertengine/pkg/market"
	"alertengine/pkg/storage/sqldb"

	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleCacheServed accompanies a result holding last-known-good data.
	ErrStaleCacheServed    = errors.New("stale data served")
	ErrProviderUnavailable = fetcher.ErrProviderUnavailable
)

// Status labels the provenance of a GetCandles result.
type Status string

const (
	StatusLive        Status = "live"
	StatusCached      Status = "cached"
	StatusStale       Status = "stale"
	StatusUnavailable Status = "unavailable"
)

// CandleResult is a series read plus its gaps and provenance.
type CandleResult struct {
	Candles []market.Candle `json:"candles"`
	Gaps    []market.Gap    `json:"gaps,omitempty"`
	Status  Status          `json:"status"`
}

// CandleFetcher loads candles from the provider.
type CandleFetcher interface {
	Fetch(ctx context.Context, instrument string, interval market.Interval, r market.TimeRange) ([]market.Candle, error)
}

// CandleStore is the durable candle series.
type CandleStore interface {
	Upsert(ctx context.Context, candles []market.Candle) (sqldb.UpsertResult, error)
	Query(ctx context.Context, instrument string, interval market.Interval, r market.TimeRange) ([]market.Candle, error)
	Tail(ctx context.Context, instrument string, interval market.Interval, n int) ([]market.Candle, error)
}

// DefinitionStore keeps parameterised indicator instances across restarts.
type DefinitionStore interface {
	SaveDefinition(ctx context.Context, def indicator.Definition) error
	ListDefinitions(ctx context.Context) ([]indicator.Definition, error)
}

type Deps struct {
	Fetcher     CandleFetcher
	Candles     CandleStore
	Cache       *cache.CandleCache
	Engine      *indicator.Engine
	Definitions DefinitionStore
	Alerts      *alert.Service
	Evaluator   *alert.Evaluator
	Notifier    notify.Notifier
}

type Options struct {
	// LookbackBars bounds the series kept in cache and fed to indicators.
	LookbackBars int
	QueueSize    int
	Now          func() time.Time
}

// update is one ingested series waiting for evaluation.
type update struct {
	key    cache.Key
	series []market.Candle
}

// watermark is the last bar fed to the evaluator for a series.
type watermark struct {
	bar   time.Time
	close float64
}

type Service struct {
	fetcher     CandleFetcher
	candles     CandleStore
	cache       *cache.CandleCache
	engine      *indicator.Engine
	definitions DefinitionStore
	alerts      *alert.Service
	evaluator   *alert.Evaluator
	notifier    notify.Notifier

	lookback int
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics

	queue chan update

	wmu        sync.Mutex
	watermarks map[cache.Key]watermark
}

func New(deps Deps, opts Options, logger *zap.Logger, m *metrics.Metrics) *Service {
	if opts.LookbackBars <= 0 {
		opts.LookbackBars = 500
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(logger)
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		fetcher:     deps.Fetcher,
		candles:     deps.Candles,
		cache:       deps.Cache,
		engine:      deps.Engine,
		definitions: deps.Definitions,
		alerts:      deps.Alerts,
		evaluator:   deps.Evaluator,
		notifier:    deps.Notifier,
		lookback:    opts.LookbackBars,
		now:         opts.Now,
		logger:      logger,
		metrics:     m,
		queue:       make(chan update, opts.QueueSize),
		watermarks:  make(map[cache.Key]watermark),
	}
}
