package fetcher

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable is matched by *UnavailableError: transient failures exhausted
	// the retry budget. Retry later.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrPermanent marks failures that must not be retried (unknown instrument, bad request).
	ErrPermanent = errors.New("permanent provider failure")
)

// UnavailableError reports retry exhaustion.
type UnavailableError struct {
	Instrument string
	Attempts   int
	Err        error // last transient cause
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider unavailable for %s after %d attempts: %v", e.Instrument, e.Attempts, e.Err)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrProviderUnavailable }

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on a later retry.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, ErrPermanent)
}
