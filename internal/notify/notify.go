// Package notify fans persisted triggers out to delivery sinks.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"alertengine/internal/alert"
	"alertengine/internal/metrics"

	"go.uber.org/zap"
)

// Notifier delivers a batch of triggers that are already persisted.
type Notifier interface {
	Notify(ctx context.Context, triggers []alert.Trigger) error
}

// Message is the JSON payload published for every trigger.
type Message struct {
	TriggerID     uint      `json:"trigger_id"`
	AlertID       string    `json:"alert_id"`
	Instrument    string    `json:"instrument"`
	Condition     string    `json:"condition"`
	Threshold     float64   `json:"threshold"`
	Previous      float64   `json:"previous"`
	ObservedValue float64   `json:"observed_value"`
	ObservedAt    time.Time `json:"observed_at"`
	FiredAt       time.Time `json:"fired_at"`
}

func toMessage(t alert.Trigger) Message {
	return Message{
		TriggerID:     t.ID,
		AlertID:       t.AlertID,
		Instrument:    t.Instrument,
		Condition:     string(t.Condition),
		Threshold:     t.Threshold,
		Previous:      t.Previous,
		ObservedValue: t.ObservedValue,
		ObservedAt:    t.ObservedAt,
		FiredAt:       t.FiredAt,
	}
}

func encode(t alert.Trigger) ([]byte, error) {
	return json.Marshal(toMessage(t))
}

// LogNotifier writes each trigger to the log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, triggers []alert.Trigger) error {
	for _, t := range triggers {
		n.logger.Info("alert triggered",
			zap.String("alert_id", t.AlertID),
			zap.String("instrument", t.Instrument),
			zap.String("condition", string(t.Condition)),
			zap.Float64("threshold", t.Threshold),
			zap.Float64("previous", t.Previous),
			zap.Float64("observed", t.ObservedValue),
			zap.Time("fired_at", t.FiredAt))
	}
	return nil
}

type sink struct {
	name     string
	notifier Notifier
}

// Multi delivers to every sink. A failing sink does not stop the others.
type Multi struct {
	sinks   []sink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewMulti(logger *zap.Logger, m *metrics.Metrics) *Multi {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Multi{logger: logger, metrics: m}
}

// Add registers a named sink.
func (m *Multi) Add(name string, n Notifier) {
	m.sinks = append(m.sinks, sink{name: name, notifier: n})
}

func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Notify(ctx context.Context, triggers []alert.Trigger) error {
	if len(triggers) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.notifier.Notify(ctx, triggers); err != nil {
			m.metrics.NotifyFailures.WithLabelValues(s.name).Inc()
			m.logger.Warn("notify failed",
				zap.String("sink", s.name),
				zap.Int("triggers", len(triggers)),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
