package market

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval is returned for bar sizes outside the supported set.
var ErrInvalidInterval = errors.New("invalid interval")

// Interval is the bar size of a candle series. The set is closed; use ParseInterval.
type Interval string

// IntervalMeta holds the provider value, duration and polling policy for an Interval.
type IntervalMeta struct {
	APIValue string        // value sent to the provider REST/WS API
	Duration time.Duration // bar length
	Refresh  time.Duration // default polling cadence while the session is open
	Stale    time.Duration // cache entries older than this are served as stale
}

const (
	Interval1Min   Interval = "1m"
	Interval3Min   Interval = "3m"
	Interval5Min   Interval = "5m"
	Interval15Min  Interval = "15m"
	Interval30Min  Interval = "30m"
	Interval1Hour  Interval = "1h"
	Interval2Hour  Interval = "2h"
	Interval4Hour  Interval = "4h"
	Interval6Hour  Interval = "6h"
	Interval12Hour Interval = "12h"
	Interval1Day   Interval = "1d"
	Interval1Week  Interval = "1w"
)

var intervals = map[Interval]IntervalMeta{
	Interval1Min:   {APIValue: "1", Duration: time.Minute, Refresh: 15 * time.Second, Stale: 30 * time.Second},
	Interval3Min:   {APIValue: "3", Duration: 3 * time.Minute, Refresh: 30 * time.Second, Stale: time.Minute},
	Interval5Min:   {APIValue: "5", Duration: 5 * time.Minute, Refresh: time.Minute, Stale: 2 * time.Minute},
	Interval15Min:  {APIValue: "15", Duration: 15 * time.Minute, Refresh: 2 * time.Minute, Stale: 5 * time.Minute},
	Interval30Min:  {APIValue: "30", Duration: 30 * time.Minute, Refresh: 5 * time.Minute, Stale: 10 * time.Minute},
	Interval1Hour:  {APIValue: "60", Duration: time.Hour, Refresh: 5 * time.Minute, Stale: 15 * time.Minute},
	Interval2Hour:  {APIValue: "120", Duration: 2 * time.Hour, Refresh: 10 * time.Minute, Stale: 20 * time.Minute},
	Interval4Hour:  {APIValue: "240", Duration: 4 * time.Hour, Refresh: 15 * time.Minute, Stale: 30 * time.Minute},
	Interval6Hour:  {APIValue: "360", Duration: 6 * time.Hour, Refresh: 20 * time.Minute, Stale: 45 * time.Minute},
	Interval12Hour: {APIValue: "720", Duration: 12 * time.Hour, Refresh: 30 * time.Minute, Stale: time.Hour},
	Interval1Day:   {APIValue: "D", Duration: 24 * time.Hour, Refresh: time.Hour, Stale: 2 * time.Hour},
	Interval1Week:  {APIValue: "W", Duration: 7 * 24 * time.Hour, Refresh: 6 * time.Hour, Stale: 12 * time.Hour},
}

// Intervals returns every supported interval, shortest first.
func Intervals() []Interval {
	return []Interval{
		Interval1Min, Interval3Min, Interval5Min, Interval15Min, Interval30Min,
		Interval1Hour, Interval2Hour, Interval4Hour, Interval6Hour, Interval12Hour,
		Interval1Day, Interval1Week,
	}
}

// IsValid checks if the Interval is one of the predefined bar sizes.
func (i Interval) IsValid() bool {
	_, ok := intervals[i]
	return ok
}

// Meta returns the policy row for i. The zero value is returned for unknown intervals.
func (i Interval) Meta() IntervalMeta {
	return intervals[i]
}

// Duration is the bar length of i.
func (i Interval) Duration() time.Duration {
	return intervals[i].Duration
}

func (i Interval) String() string { return string(i) }

// ParseInterval parses a string into a supported Interval.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if !iv.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	return iv, nil
}

// IntervalFromAPI maps a provider interval value (e.g. "60", "D") back to an Interval.
func IntervalFromAPI(v string) (Interval, error) {
	for iv, meta := range intervals {
		if meta.APIValue == v {
			return iv, nil
		}
	}
	return "", fmt.Errorf("%w: api value %q", ErrInvalidInterval, v)
}
