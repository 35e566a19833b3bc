package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedCandle is returned when a bar violates the OHLC invariants.
var ErrMalformedCandle = errors.New("malformed candle")

// Candle is one OHLCV bar. (Instrument, Interval, Time) is its natural key.
type Candle struct {
	Instrument string    `json:"instrument"`
	Interval   Interval  `json:"interval"`
	Time       time.Time `json:"time"` // bar open time, always UTC
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

// NewCandle builds a candle with its timestamp normalized to UTC.
func NewCandle(instrument string, interval Interval, t time.Time, open, high, low, closePrice, volume float64) Candle {
	return Candle{
		Instrument: instrument,
		Interval:   interval,
		Time:       t.UTC(),
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closePrice,
		Volume:     volume,
	}
}

// Validate checks the OHLC invariants: high >= max(open, close), low <= min(open, close).
func (c Candle) Validate() error {
	if c.Instrument == "" {
		return fmt.Errorf("%w: empty instrument", ErrMalformedCandle)
	}
	if !c.Interval.IsValid() {
		return fmt.Errorf("%w: interval %q", ErrMalformedCandle, c.Interval)
	}
	if c.Time.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrMalformedCandle)
	}
	for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value at %s", ErrMalformedCandle, c.Time.Format(time.RFC3339))
		}
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume at %s", ErrMalformedCandle, c.Time.Format(time.RFC3339))
	}
	if c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) || c.Low > c.High {
		return fmt.Errorf("%w: %s o=%g h=%g l=%g c=%g", ErrMalformedCandle,
			c.Time.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close)
	}
	return nil
}

// Latest returns the greatest timestamp in candles, or the zero time for an empty slice.
func Latest(candles []Candle) time.Time {
	var latest time.Time
	for _, c := range candles {
		if c.Time.After(latest) {
			latest = c.Time
		}
	}
	return latest
}
