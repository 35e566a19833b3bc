// Package indicator computes technical indicators over candle series.
//
// Families (sma, ema, rsi, ...) implement Family and are registered in a Registry,
// which derives a deterministic instance name for every parameterisation. The Engine
// computes outputs for registered instances and caches them per series.
package indicator

import (
	"errors"
	"time"

	"alertengine/pkg/market"
)

var (
	ErrUnknownIndicator  = errors.New("unknown indicator")
	ErrInvalidParameters = errors.New("invalid indicator parameters")
)

// Point is one indicator value. Valid is false during warm-up.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
	Valid bool      `json:"valid"`
}

// Output is an indicator series aligned one point per input candle.
type Output struct {
	Instrument string          `json:"instrument"`
	Interval   market.Interval `json:"interval"`
	Name       string          `json:"name"`
	Points     []Point         `json:"points"`
}

// Last returns the newest point, or false for an empty output.
func (o Output) Last() (Point, bool) {
	if len(o.Points) == 0 {
		return Point{}, false
	}
	return o.Points[len(o.Points)-1], true
}

// Family is one indicator formula.
type Family interface {
	// Base is the family name, e.g. "sma".
	Base() string
	// Defaults lists every accepted parameter with its default, in naming order.
	Defaults() Params
	// Validate checks a fully merged parameter set.
	Validate(p Params) error
	// WarmUp is the number of leading points that are not Valid.
	WarmUp(p Params) int
	Calculate(candles []market.Candle, p Params) []Point
}
