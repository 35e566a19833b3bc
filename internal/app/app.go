// Package app wires the engine's components into a running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"alertengine/config"
	"alertengine/internal/alert"
	"alertengine/internal/cache"
	"alertengine/internal/catalog"
	"alertengine/internal/fetcher"
	"alertengine/internal/indicator"
	"alertengine/internal/metrics"
	"alertengine/internal/notify"
	"alertengine/internal/pipeline"
	"alertengine/internal/retention"
	"alertengine/internal/scheduler"
	"alertengine/internal/session"
	"alertengine/internal/stream"
	"alertengine/pkg/market"
	"alertengine/pkg/provider/bybit"
	"alertengine/pkg/storage/sqldb"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const statsInterval = time.Minute

// App holds the running components.
type App struct {
	Pipeline  *pipeline.Service
	Scheduler *scheduler.Scheduler
	Catalog   *catalog.Catalog

	db      *sqldb.Client
	closers []io.Closer
	logger  *zap.Logger
}

// Start builds every component from cfg and starts the background loops. They stop
// when ctx is cancelled; Close releases the remaining resources.
func Start(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger.Named("metrics"))
	}

	// Initialize the durable store
	db, err := sqldb.Open(cfg.Database, cfg.Log.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	a := &App{db: db, logger: logger}

	candles := sqldb.NewCandleStore(db, cfg.Provider.Venue)
	alerts := sqldb.NewAlertStore(db)

	// Provider and its rate-limited front
	rest := bybit.NewRESTClient(cfg.Provider.REST.BaseURL, cfg.Provider.Category, cfg.Provider.Venue,
		cfg.Provider.REST.Timeout, logger.Named("bybit"))
	f := fetcher.New(rest, fetcher.Config{
		RatePerSecond:  cfg.Fetcher.RatePerSecond,
		Burst:          cfg.Fetcher.Burst,
		MaxAttempts:    cfg.Fetcher.MaxAttempts,
		BaseDelay:      cfg.Fetcher.BaseDelay,
		MaxDelay:       cfg.Fetcher.MaxDelay,
		AttemptTimeout: cfg.Fetcher.AttemptTimeout,
	}, logger.Named("fetcher"), m)

	registry := indicator.NewRegistry(indicator.DefaultFamilies()...)
	engine := indicator.NewEngine(registry, cfg.Cache.IndicatorCapacity, m)

	evaluator := alert.NewEvaluator(alerts, logger.Named("evaluator"), m)
	knownSource := func(name string) bool {
		_, ok := registry.Lookup(name)
		return ok
	}
	alertService := alert.NewService(alerts, evaluator, knownSource, logger.Named("alerts"))

	notifier, err := a.buildNotifier(cfg.Notify, m)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Pipeline = pipeline.New(pipeline.Deps{
		Fetcher:     f,
		Candles:     candles,
		Cache:       cache.NewCandleCache(cfg.Cache.CandleCapacity, cache.DefaultStalePolicy(cfg.Cache.Stale)),
		Engine:      engine,
		Definitions: alerts,
		Alerts:      alertService,
		Evaluator:   evaluator,
		Notifier:    notifier,
	}, pipeline.Options{
		LookbackBars: cfg.Cache.LookbackBars,
		QueueSize:    cfg.Alerts.QueueSize,
	}, logger.Named("pipeline"), m)
	if err := a.Pipeline.Restore(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}
	go a.Pipeline.Run(ctx)

	// Instrument reference data: persisted copy first, provider refresh daily
	a.Catalog = catalog.New(rest, candles, cfg.Provider.Venue, cfg.Provider.REST.Timeout, logger.Named("catalog"))
	if _, err := a.Catalog.Restore(ctx); err != nil {
		logger.Warn("failed to restore instruments", zap.Error(err))
	}
	go retention.AtMidnight(ctx, nil, func(ctx context.Context) {
		if _, err := a.Catalog.Refresh(ctx); err != nil {
			logger.Warn("instrument refresh failed", zap.Error(err))
		}
	})

	cadence, err := parseCadence(cfg.Scheduler.Cadence)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Scheduler = scheduler.New(f, a.Pipeline, session.DefaultTable(), a.Catalog.Venue, scheduler.Config{
		Cadence:           cadence,
		ClosedFactor:      cfg.Scheduler.ClosedFactor,
		SuspendWhenClosed: cfg.Scheduler.SuspendWhenClosed,
		LookbackBars:      cfg.Cache.LookbackBars,
	}, logger.Named("scheduler"), m)
	a.Scheduler.Start(ctx)

	for _, w := range cfg.Scheduler.Watch {
		key, err := ParseWatch(w)
		if err != nil {
			logger.Warn("skipping watch entry", zap.String("entry", w), zap.Error(err))
			continue
		}
		if err := a.Scheduler.Watch(key.Instrument, key.Interval); err != nil {
			logger.Warn("failed to watch", zap.String("entry", w), zap.Error(err))
		}
	}

	retention.New(alerts, candles, cfg.Alerts.TriggerRetention, cfg.Alerts.CandleRetention,
		logger.Named("retention")).Start(ctx)

	if cfg.Provider.WS.Enabled {
		a.startStream(ctx, cfg.Provider.WS)
	}

	go a.logStats(ctx, evaluator, engine)

	logger.Info("alert engine started",
		zap.String("driver", db.Driver),
		zap.Int("alerts", evaluator.Len()),
		zap.Int("watching", len(a.Scheduler.States())))
	return a, nil
}

func (a *App) buildNotifier(cfg config.NotifyConfig, m *metrics.Metrics) (notify.Notifier, error) {
	multi := notify.NewMulti(a.logger.Named("notify"), m)
	multi.Add("log", notify.NewLogNotifier(a.logger.Named("triggers")))

	if cfg.Redis.Enabled {
		client, err := notify.DialRedis(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, client)
		multi.Add("redis", notify.NewRedisNotifier(client, cfg.Redis.Channel))
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("kafka notifier enabled without brokers")
		}
		w := notify.NewKafkaWriter(cfg.Kafka)
		a.closers = append(a.closers, w)
		multi.Add("kafka", notify.NewKafkaNotifier(w))
	}
	return multi, nil
}

// startStream subscribes to live klines for every watched pair. A failed first dial is
// retried by the listener.
func (a *App) startStream(ctx context.Context, cfg config.WSConfig) {
	ws := bybit.NewWSClient(cfg.URL, stream.Topics(a.Scheduler), a.logger.Named("ws"))
	ws.SetMessageHandler(stream.MakeMessageHandler(ctx, a.logger.Named("stream"), a.Pipeline, a.Scheduler.Watching))

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ws.Connect(dialCtx); err != nil {
		a.logger.Warn("initial websocket connect failed", zap.Error(err))
	}
	go ws.Listen(ctx)
}

// logStats periodically logs engine sizes for visibility.
func (a *App) logStats(ctx context.Context, evaluator *alert.Evaluator, engine *indicator.Engine) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.logger.Info("engine stats",
				zap.Int("alerts", evaluator.Len()),
				zap.Int("watching", len(a.Scheduler.States())),
				zap.Int("indicator_cache", engine.Len()),
				zap.Int64("indicator_computations", engine.Computations()))
		}
	}
}

// Close stops polling and releases the store and notifier connections.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseWatch parses a "TICKER:interval" watch entry.
func ParseWatch(s string) (scheduler.Key, error) {
	ticker, iv, ok := strings.Cut(s, ":")
	if !ok {
		return scheduler.Key{}, fmt.Errorf("watch entry %q: expected TICKER:interval", s)
	}
	t, err := market.NormalizeTicker(ticker)
	if err != nil {
		return scheduler.Key{}, fmt.Errorf("watch entry %q: %w", s, err)
	}
	interval, err := market.ParseInterval(strings.TrimSpace(iv))
	if err != nil {
		return scheduler.Key{}, fmt.Errorf("watch entry %q: %w", s, err)
	}
	return scheduler.Key{Instrument: t, Interval: interval}, nil
}

func parseCadence(raw map[string]time.Duration) (map[market.Interval]time.Duration, error) {
	out := make(map[market.Interval]time.Duration, len(raw))
	for k, d := range raw {
		iv, err := market.ParseInterval(k)
		if err != nil {
			return nil, fmt.Errorf("scheduler cadence: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("scheduler cadence for %s must be positive", iv)
		}
		out[iv] = d
	}
	return out, nil
}
