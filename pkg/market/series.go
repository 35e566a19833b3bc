package market

import (
	"sort"
	"time"
)

// TimeRange is a closed interval [From, To]. A zero To means "up to now".
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t lies inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// UTC returns r with both bounds converted to UTC.
func (r TimeRange) UTC() TimeRange {
	return TimeRange{From: r.From.UTC(), To: r.To.UTC()}
}

// Gap marks missing bars between two consecutive stored candles.
type Gap struct {
	After   time.Time `json:"after"`   // last candle before the hole
	Before  time.Time `json:"before"`  // first candle after the hole
	Missing int       `json:"missing"` // number of bars absent
}

// SortCandles orders candles by ascending timestamp in place. Equal timestamps keep
// their input order.
func SortCandles(candles []Candle) {
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
}

// Dedupe collapses candles sharing a timestamp to the last occurrence, a later revision
// of the bar, and returns them ascending.
func Dedupe(candles []Candle) []Candle {
	pos := make(map[int64]int, len(candles))
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		k := c.Time.UnixNano()
		if i, ok := pos[k]; ok {
			out[i] = c
			continue
		}
		pos[k] = len(out)
		out = append(out, c)
	}
	SortCandles(out)
	return out
}

// Filter returns the candles inside r, preserving order.
func Filter(candles []Candle, r TimeRange) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if r.Contains(c.Time) {
			out = append(out, c)
		}
	}
	return out
}

// DetectGaps reports holes in an ascending series. The expected next timestamp is the
// previous one plus the interval duration; nothing is interpolated.
func DetectGaps(candles []Candle, interval Interval) []Gap {
	step := interval.Duration()
	if step <= 0 || len(candles) < 2 {
		return nil
	}
	var gaps []Gap
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Time, candles[i].Time
		expected := prev.Add(step)
		if cur.After(expected) {
			missing := int(cur.Sub(prev)/step) - 1
			if missing < 1 {
				missing = 1 // misaligned bar
			}
			gaps = append(gaps, Gap{After: prev, Before: cur, Missing: missing})
		}
	}
	return gaps
}
