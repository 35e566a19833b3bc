// Package metrics holds the Prometheus instruments shared by the engine components.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	FetchAttempts *prometheus.CounterVec // labels: result=ok|rate_limited|transient|permanent
	FetchRetries  prometheus.Counter
	FetchOutcomes *prometheus.CounterVec // labels: result=ok|unavailable|permanent
	FetchDuration prometheus.Histogram

	CandlesUpserted  prometheus.Counter
	CandlesRejected  prometheus.Counter
	CacheLookups     *prometheus.CounterVec // labels: cache, result=hit|stale|miss
	IndicatorCompute prometheus.Histogram

	EvalDuration   prometheus.Histogram
	AlertsEvalTot  prometheus.Counter
	TriggersTotal  prometheus.Counter
	EvalFailures   prometheus.Counter
	QueueDropped   prometheus.Counter
	ActiveJobs     prometheus.Gauge
	NotifyFailures *prometheus.CounterVec // labels: sink
}

// New creates the metrics and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_fetch_attempts_total",
			Help: "Provider fetch attempts by result",
		}, []string{"result"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_fetch_retries_total",
			Help: "Provider fetch retries after a transient failure",
		}),
		FetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_fetch_outcomes_total",
			Help: "Final outcome of Fetch calls",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertengine_fetch_duration_seconds",
			Help:    "Wall time of Fetch including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		CandlesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_candles_upserted_total",
			Help: "Candles written to the store",
		}),
		CandlesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_candles_rejected_total",
			Help: "Candles dropped at ingestion for violating OHLC invariants",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_cache_lookups_total",
			Help: "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
		IndicatorCompute: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertengine_indicator_compute_seconds",
			Help:    "Indicator computation time on cache miss",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertengine_evaluation_seconds",
			Help:    "Duration of one evaluation pass including trigger persistence",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		AlertsEvalTot: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_alerts_evaluated_total",
			Help: "Alert rule evaluations",
		}),
		TriggersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_triggers_total",
			Help: "Alert triggers persisted",
		}),
		EvalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_evaluation_failures_total",
			Help: "Evaluation passes rolled back",
		}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertengine_queue_dropped_total",
			Help: "Series updates dropped because the evaluation queue was full",
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertengine_scheduler_jobs",
			Help: "Active polling jobs",
		}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_notify_failures_total",
			Help: "Trigger notification failures by sink",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.FetchAttempts, m.FetchRetries, m.FetchOutcomes, m.FetchDuration,
		m.CandlesUpserted, m.CandlesRejected, m.CacheLookups, m.IndicatorCompute,
		m.EvalDuration, m.AlertsEvalTot, m.TriggersTotal, m.EvalFailures,
		m.QueueDropped, m.ActiveJobs, m.NotifyFailures,
	)
	return m
}

// NewNop returns metrics registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Serve exposes /metrics for gatherer on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics listener failed", zap.Error(err))
	}
}
