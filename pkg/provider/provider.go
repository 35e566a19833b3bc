// Package provider defines the contract between the engine and market-data sources.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alertengine/pkg/market"
)

// Provider is one external market-data source.
type Provider interface {
	Name() string
	// FetchCandles returns the bars of instrument/interval inside r.
	// Rate limiting is reported as *RateLimitError, non-retryable failures as *PermanentError
	// or market.ErrInvalidInstrument; anything else is treated as transient.
	FetchCandles(ctx context.Context, instrument string, interval market.Interval, r market.TimeRange) ([]market.Candle, error)
}

// InstrumentLister is implemented by providers that can enumerate their instruments.
type InstrumentLister interface {
	ListInstruments(ctx context.Context) ([]market.Instrument, error)
}

// RateLimitError signals the provider refused the call for rate reasons.
// RetryAfter is the provider's hint, zero when none was given.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// PermanentError wraps failures that retrying cannot fix (bad request, unknown symbol).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent provider error: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe) ||
		errors.Is(err, market.ErrInvalidInstrument) ||
		errors.Is(err, market.ErrInvalidInterval)
}

// RetryAfterHint extracts the provider retry hint from err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
