package indicator

import (
	"fmt"
	"math"

	"alertengine/pkg/market"
)

const maxPeriod = 1000

// DefaultFamilies returns the built-in indicator families.
func DefaultFamilies() []Family {
	return []Family{
		movingAverage{base: "sma", period: 20, newCalc: func(n int) smoother { return newSMA(n) }},
		movingAverage{base: "ema", period: 20, newCalc: func(n int) smoother { return newEMA(n) }},
		movingAverage{base: "smma", period: 14, newCalc: func(n int) smoother { return newSMMA(n) }},
		rsiFamily{},
		atrFamily{},
		rocFamily{},
		macdFamily{},
	}
}

type smoother interface {
	update(v float64)
	ready() bool
	value() float64
}

// movingAverage covers the close-based moving averages that differ only in smoothing.
type movingAverage struct {
	base    string
	period  int
	newCalc func(period int) smoother
}

func (m movingAverage) Base() string            { return m.base }
func (m movingAverage) Defaults() Params        { return Params{{Name: "period", Value: float64(m.period)}} }
func (m movingAverage) Validate(p Params) error { return positiveInt(p, maxPeriod, "period") }
func (m movingAverage) WarmUp(p Params) int     { return p.Int("period") - 1 }

func (m movingAverage) Calculate(candles []market.Candle, p Params) []Point {
	calc := m.newCalc(p.Int("period"))
	out := make([]Point, len(candles))
	for i, c := range candles {
		calc.update(c.Close)
		out[i] = Point{Time: c.Time}
		if calc.ready() {
			out[i].Value, out[i].Valid = calc.value(), true
		}
	}
	return out
}

// rsiFamily is the Relative Strength Index with Wilder smoothing.
type rsiFamily struct{}

func (rsiFamily) Base() string            { return "rsi" }
func (rsiFamily) Defaults() Params        { return Params{{Name: "period", Value: 14}} }
func (rsiFamily) Validate(p Params) error { return positiveInt(p, maxPeriod, "period") }
func (rsiFamily) WarmUp(p Params) int     { return p.Int("period") }

func (rsiFamily) Calculate(candles []market.Candle, p Params) []Point {
	period := p.Int("period")
	n := float64(period)
	out := make([]Point, len(candles))

	var avgGain, avgLoss float64
	for i, c := range candles {
		out[i] = Point{Time: c.Time}
		if i == 0 {
			continue
		}
		delta := c.Close - candles[i-1].Close
		gain, loss := math.Max(delta, 0), math.Max(-delta, 0)

		switch {
		case i < period:
			avgGain += gain
			avgLoss += loss
			continue
		case i == period:
			avgGain = (avgGain + gain) / n
			avgLoss = (avgLoss + loss) / n
		default:
			avgGain = (avgGain*(n-1) + gain) / n
			avgLoss = (avgLoss*(n-1) + loss) / n
		}

		out[i].Valid = true
		if avgLoss == 0 {
			out[i].Value = 100
		} else {
			out[i].Value = 100 - 100/(1+avgGain/avgLoss)
		}
	}
	return out
}

// atrFamily is the Average True Range, Wilder-smoothed.
type atrFamily struct{}

func (atrFamily) Base() string            { return "atr" }
func (atrFamily) Defaults() Params        { return Params{{Name: "period", Value: 14}} }
func (atrFamily) Validate(p Params) error { return positiveInt(p, maxPeriod, "period") }
func (atrFamily) WarmUp(p Params) int     { return p.Int("period") - 1 }

func (atrFamily) Calculate(candles []market.Candle, p Params) []Point {
	calc := newSMMA(p.Int("period"))
	out := make([]Point, len(candles))
	for i, c := range candles {
		tr := c.High - c.Low
		if i > 0 {
			prev := candles[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		}
		calc.update(tr)
		out[i] = Point{Time: c.Time}
		if calc.ready() {
			out[i].Value, out[i].Valid = calc.value(), true
		}
	}
	return out
}

// rocFamily is the percentage rate of change over period bars.
type rocFamily struct{}

func (rocFamily) Base() string            { return "roc" }
func (rocFamily) Defaults() Params        { return Params{{Name: "period", Value: 10}} }
func (rocFamily) Validate(p Params) error { return positiveInt(p, maxPeriod, "period") }
func (rocFamily) WarmUp(p Params) int     { return p.Int("period") }

func (rocFamily) Calculate(candles []market.Candle, p Params) []Point {
	period := p.Int("period")
	out := make([]Point, len(candles))
	for i, c := range candles {
		out[i] = Point{Time: c.Time}
		if i < period {
			continue
		}
		if base := candles[i-period].Close; base != 0 {
			out[i].Value, out[i].Valid = (c.Close-base)/base*100, true
		}
	}
	return out
}

// macdFamily outputs the MACD histogram: (fast EMA - slow EMA) minus its signal EMA.
type macdFamily struct{}

func (macdFamily) Base() string { return "macd" }

func (macdFamily) Defaults() Params {
	return Params{{Name: "fast", Value: 12}, {Name: "slow", Value: 26}, {Name: "signal", Value: 9}}
}

func (macdFamily) Validate(p Params) error {
	if err := positiveInt(p, maxPeriod, "fast", "slow", "signal"); err != nil {
		return err
	}
	if p.Int("fast") >= p.Int("slow") {
		return fmt.Errorf("%w: fast must be shorter than slow", ErrInvalidParameters)
	}
	return nil
}

func (macdFamily) WarmUp(p Params) int { return p.Int("slow") + p.Int("signal") - 2 }

func (macdFamily) Calculate(candles []market.Candle, p Params) []Point {
	fast, slow, signal := newEMA(p.Int("fast")), newEMA(p.Int("slow")), newEMA(p.Int("signal"))
	out := make([]Point, len(candles))
	for i, c := range candles {
		fast.update(c.Close)
		slow.update(c.Close)
		out[i] = Point{Time: c.Time}
		if !slow.ready() {
			continue
		}
		line := fast.value() - slow.value()
		signal.update(line)
		if signal.ready() {
			out[i].Value, out[i].Valid = line-signal.value(), true
		}
	}
	return out
}
