package alert

import (
	"context"
	"errors"
	"time"

	"alertengine/pkg/market"
)

var (
	// ErrValidation wraps every rejected alert definition; nothing is persisted.
	ErrValidation = errors.New("invalid alert")
	ErrNotFound   = errors.New("alert not found")
)

// Condition is the threshold rule an alert applies to consecutive observations.
type Condition string

const (
	ConditionAbove       Condition = "above"
	ConditionBelow       Condition = "below"
	ConditionCrossesUp   Condition = "crosses_up"
	ConditionCrossesDown Condition = "crosses_down"
)

// SourcePrice makes an alert observe candle closes. Any other source is an indicator
// instance name such as "rsi" or "sma_50".
const SourcePrice = "price"

// Alert is a user rule. Interval may be empty for price alerts, in which case closes of
// every polled interval are observed.
type Alert struct {
	ID         string          `json:"id"`
	Instrument string          `json:"instrument" validate:"required,max=64"`
	Interval   market.Interval `json:"interval,omitempty"`
	Source     string          `json:"source" validate:"required,max=64"`
	Condition  Condition       `json:"condition" validate:"required,oneof=above below crosses_up crosses_down"`
	Threshold  float64         `json:"threshold" validate:"gt=0"`
	Enabled    bool            `json:"enabled"`
	Cooldown   time.Duration   `json:"cooldown" validate:"gte=0"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Trigger records one firing. Triggers are append-only.
type Trigger struct {
	ID            uint      `json:"id"`
	AlertID       string    `json:"alert_id"`
	Instrument    string    `json:"instrument"`
	Condition     Condition `json:"condition"`
	Threshold     float64   `json:"threshold"`
	Previous      float64   `json:"previous"`
	ObservedValue float64   `json:"observed_value"`
	ObservedAt    time.Time `json:"observed_at"`
	FiredAt       time.Time `json:"fired_at"`
}

// Observation is one value of a source for an instrument and interval.
type Observation struct {
	Instrument string
	Interval   market.Interval
	Source     string
	Value      float64
	Time       time.Time
}

// Store persists alerts and their trigger history.
type Store interface {
	ListAlerts(ctx context.Context) ([]Alert, error)
	GetAlert(ctx context.Context, id string) (Alert, error)
	CreateAlert(ctx context.Context, a Alert) error
	UpdateAlert(ctx context.Context, a Alert) error
	DeleteAlert(ctx context.Context, id string) error

	// AppendTriggers writes all triggers in one transaction and returns them with ids set.
	AppendTriggers(ctx context.Context, triggers []Trigger) ([]Trigger, error)
	// ListTriggers returns triggers in firing order; an empty alertID lists all.
	ListTriggers(ctx context.Context, alertID string) ([]Trigger, error)
}
