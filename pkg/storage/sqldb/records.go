package sqldb

import (
	"encoding/json"
	"fmt"
	"time"

	"alertengine/internal/alert"
	"alertengine/internal/indicator"
	"alertengine/pkg/market"
)

// InstrumentRecord is reference data; rows are created lazily and never deleted.
type InstrumentRecord struct {
	Ticker    string    `gorm:"primaryKey;type:varchar(64)"`
	Name      string    `gorm:"type:text"`
	Venue     string    `gorm:"type:varchar(32);not null;default:''"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (InstrumentRecord) TableName() string { return "instrument" }

// CandleRecord is one stored bar. (instrument, bar_interval, start) is unique.
type CandleRecord struct {
	ID uint `gorm:"primaryKey"`

	Instrument string    `gorm:"type:varchar(64);not null;index:idx_candle_key,unique,priority:1"`
	Interval   string    `gorm:"column:bar_interval;type:varchar(8);not null;index:idx_candle_key,unique,priority:2"`
	Start      time.Time `gorm:"not null;index:idx_candle_key,unique,priority:3;index:idx_candle_start"`

	Open   float64 `gorm:"type:numeric;not null"`
	High   float64 `gorm:"type:numeric;not null"`
	Low    float64 `gorm:"type:numeric;not null"`
	Close  float64 `gorm:"type:numeric;not null"`
	Volume float64 `gorm:"type:numeric;not null"`

	RecordedAt time.Time `gorm:"not null"`
}

func (CandleRecord) TableName() string { return "candle" }

func toCandleRecord(c market.Candle, now time.Time) CandleRecord {
	return CandleRecord{
		Instrument: c.Instrument,
		Interval:   string(c.Interval),
		Start:      c.Time.UTC(),
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		Volume:     c.Volume,
		RecordedAt: now,
	}
}

func (r CandleRecord) candle() market.Candle {
	return market.NewCandle(r.Instrument, market.Interval(r.Interval), r.Start, r.Open, r.High, r.Low, r.Close, r.Volume)
}

// AlertRecord persists an alert rule. Deleting it removes its trigger history.
type AlertRecord struct {
	ID         string  `gorm:"primaryKey;type:varchar(36)"`
	Instrument string  `gorm:"type:varchar(64);not null;index:idx_alert_instrument"`
	Interval   string  `gorm:"column:bar_interval;type:varchar(8);not null;default:''"`
	Source     string  `gorm:"type:varchar(64);not null"`
	Condition  string  `gorm:"type:varchar(16);not null"`
	Threshold  float64 `gorm:"not null"`
	Enabled    bool    `gorm:"not null"`
	CooldownMS int64   `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Triggers []TriggerRecord `gorm:"foreignKey:AlertID;references:ID;constraint:OnDelete:CASCADE"`
}

func (AlertRecord) TableName() string { return "alert" }

func toAlertRecord(a alert.Alert) AlertRecord {
	return AlertRecord{
		ID:         a.ID,
		Instrument: a.Instrument,
		Interval:   string(a.Interval),
		Source:     a.Source,
		Condition:  string(a.Condition),
		Threshold:  a.Threshold,
		Enabled:    a.Enabled,
		CooldownMS: a.Cooldown.Milliseconds(),
		CreatedAt:  a.CreatedAt.UTC(),
		UpdatedAt:  a.UpdatedAt.UTC(),
	}
}

func (r AlertRecord) alert() alert.Alert {
	return alert.Alert{
		ID:         r.ID,
		Instrument: r.Instrument,
		Interval:   market.Interval(r.Interval),
		Source:     r.Source,
		Condition:  alert.Condition(r.Condition),
		Threshold:  r.Threshold,
		Enabled:    r.Enabled,
		Cooldown:   time.Duration(r.CooldownMS) * time.Millisecond,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

// TriggerRecord is one immutable firing of an alert.
type TriggerRecord struct {
	ID            uint      `gorm:"primaryKey"`
	AlertID       string    `gorm:"type:varchar(36);not null;index:idx_trigger_alert_fired,priority:1"`
	Instrument    string    `gorm:"type:varchar(64);not null"`
	Condition     string    `gorm:"type:varchar(16);not null"`
	Threshold     float64   `gorm:"not null"`
	Previous      float64   `gorm:"not null"`
	ObservedValue float64   `gorm:"not null"`
	ObservedAt    time.Time `gorm:"not null"`
	FiredAt       time.Time `gorm:"not null;index:idx_trigger_alert_fired,priority:2;index:idx_trigger_fired"`
}

func (TriggerRecord) TableName() string { return "alert_trigger" }

func toTriggerRecord(t alert.Trigger) TriggerRecord {
	return TriggerRecord{
		AlertID:       t.AlertID,
		Instrument:    t.Instrument,
		Condition:     string(t.Condition),
		Threshold:     t.Threshold,
		Previous:      t.Previous,
		ObservedValue: t.ObservedValue,
		ObservedAt:    t.ObservedAt.UTC(),
		FiredAt:       t.FiredAt.UTC(),
	}
}

func (r TriggerRecord) trigger() alert.Trigger {
	return alert.Trigger{
		ID:            r.ID,
		AlertID:       r.AlertID,
		Instrument:    r.Instrument,
		Condition:     alert.Condition(r.Condition),
		Threshold:     r.Threshold,
		Previous:      r.Previous,
		ObservedValue: r.ObservedValue,
		ObservedAt:    r.ObservedAt.UTC(),
		FiredAt:       r.FiredAt.UTC(),
	}
}

// IndicatorDefinitionRecord is a parameterised indicator instance, keyed by its derived name.
type IndicatorDefinitionRecord struct {
	Name      string    `gorm:"primaryKey;type:varchar(64)"`
	Base      string    `gorm:"type:varchar(32);not null"`
	Params    string    `gorm:"type:text;not null;default:'[]'"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (IndicatorDefinitionRecord) TableName() string { return "indicator_definition" }

func toDefinitionRecord(def indicator.Definition) (IndicatorDefinitionRecord, error) {
	params := def.Params
	if params == nil {
		params = indicator.Params{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return IndicatorDefinitionRecord{}, fmt.Errorf("encode params of %s: %w", def.Name(), err)
	}
	return IndicatorDefinitionRecord{Name: def.Name(), Base: def.Base, Params: string(raw)}, nil
}

func (r IndicatorDefinitionRecord) definition() (indicator.Definition, error) {
	var params indicator.Params
	if err := json.Unmarshal([]byte(r.Params), &params); err != nil {
		return indicator.Definition{}, fmt.Errorf("decode params of %s: %w", r.Name, err)
	}
	return indicator.Definition{Base: r.Base, Params: params}, nil
}
