package fetcher

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Schedule is a backoff.BackOff producing base, 2*base, 4*base ... capped at max,
// each plus positive jitter of up to JitterFraction of the step. Delays never decrease:
// once capped, a draw below the previous delay is lifted to it.
type Schedule struct {
	Base           time.Duration
	Max            time.Duration
	JitterFraction float64

	mu      sync.Mutex
	rng     *rand.Rand
	attempt int
	last    time.Duration
	hint    time.Duration
}

var _ backoff.BackOff = (*Schedule)(nil)

// NewSchedule returns a schedule with 10% jitter seeded from the clock.
func NewSchedule(base, max time.Duration) *Schedule {
	return &Schedule{
		Base:           base,
		Max:            max,
		JitterFraction: 0.1,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Hint makes the next NextBackOff return d instead of the computed step.
func (s *Schedule) Hint(d time.Duration) {
	s.mu.Lock()
	s.hint = d
	s.mu.Unlock()
}

// NextBackOff implements backoff.BackOff.
func (s *Schedule) NextBackOff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := s.step(s.attempt)
	s.attempt++

	if s.hint > 0 {
		d := s.hint
		s.hint = 0
		return d
	}

	jitter := time.Duration(s.rng.Float64() * s.JitterFraction * float64(step))
	d := step + jitter
	if d < s.last {
		d = s.last
	}
	s.last = d
	return d
}

// Reset implements backoff.BackOff.
func (s *Schedule) Reset() {
	s.mu.Lock()
	s.attempt = 0
	s.last = 0
	s.hint = 0
	s.mu.Unlock()
}

func (s *Schedule) step(attempt int) time.Duration {
	d := s.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= s.Max {
			return s.Max
		}
	}
	if d > s.Max {
		return s.Max
	}
	return d
}
