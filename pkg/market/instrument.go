package market

import (
	"errors"
	"strings"
)

// ErrInvalidInstrument marks an instrument identifier the provider does not know.
var ErrInvalidInstrument = errors.New("invalid instrument")

// Instrument is immutable reference data for a tracked ticker.
type Instrument struct {
	Ticker string `json:"ticker"` // e.g. "BTCUSDT"
	Name   string `json:"name"`
	Venue  string `json:"venue"` // session table key, e.g. "bybit", "nyse"
	Active bool   `json:"active"`
}

// NormalizeTicker upper-cases and trims a ticker. Empty input is an invalid instrument.
func NormalizeTicker(s string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if t == "" {
		return "", ErrInvalidInstrument
	}
	return t, nil
}
