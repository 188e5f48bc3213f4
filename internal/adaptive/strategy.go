// Package adaptive tunes the control loop's cadence and risk tolerance
// from a rolling window of recent cycle outcomes.
package adaptive

import (
	"sync"
	"time"
)

// DefaultWindowSize is the number of recent outcomes the strategy
// remembers.
const DefaultWindowSize = 20

const (
	// Ratio bounds for cadence adjustment: sustained success speeds the
	// loop up, sustained failure slows it down, the band between leaves
	// it alone.
	highSuccessRatio = 0.9
	lowSuccessRatio  = 0.5

	shrinkFactor = 0.8
	growFactor   = 1.5

	// A pause verdict needs evidence, not one bad cycle.
	minPauseSamples = 5
)

// Strategy keeps the rolling outcome window. Mutated only by the
// coordinator; the mutex serves diagnostic readers.
type Strategy struct {
	mu     sync.Mutex
	window []bool
	size   int
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithWindowSize overrides the rolling window length.
func WithWindowSize(n int) Option {
	return func(s *Strategy) {
		if n > 0 {
			s.size = n
		}
	}
}

// NewStrategy builds a strategy with an empty window.
func NewStrategy(opts ...Option) *Strategy {
	s := &Strategy{size: DefaultWindowSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe pushes one cycle outcome into the window, evicting the oldest
// once the window is full.
func (s *Strategy) Observe(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) == s.size {
		copy(s.window, s.window[1:])
		s.window[s.size-1] = success
		return
	}
	s.window = append(s.window, success)
}

// SuccessRatio returns the fraction of successes in the window. An
// empty window reads as 1.0: with no evidence the loop runs at its
// configured cadence rather than throttling itself preemptively.
func (s *Strategy) SuccessRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratioLocked()
}

func (s *Strategy) ratioLocked() float64 {
	if len(s.window) == 0 {
		return 1.0
	}
	successes := 0
	for _, ok := range s.window {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(s.window))
}

// FailureRate returns 1 - SuccessRatio for a non-empty window, 0
// otherwise.
func (s *Strategy) FailureRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) == 0 {
		return 0
	}
	return 1 - s.ratioLocked()
}

// NextInterval adjusts the cycle interval from the current success
// ratio: a ratio at or above the high band shrinks it, at or below the
// low band grows it, and the result is clamped to [min, max].
func (s *Strategy) NextInterval(current, min, max time.Duration) time.Duration {
	s.mu.Lock()
	ratio := s.ratioLocked()
	empty := len(s.window) == 0
	s.mu.Unlock()

	next := current
	switch {
	case empty:
		// No evidence, no adjustment.
	case ratio >= highSuccessRatio:
		next = time.Duration(float64(current) * shrinkFactor)
	case ratio <= lowSuccessRatio:
		next = time.Duration(float64(current) * growFactor)
	}
	if next < min {
		next = min
	}
	if next > max {
		next = max
	}
	return next
}

// AllowedChangeRate scales the configured change-rate ceiling by the
// success ratio: a struggling loop gets a proportionally smaller risk
// budget.
func (s *Strategy) AllowedChangeRate(base float64) float64 {
	return base * s.SuccessRatio()
}

// ShouldPause reports whether the rolling failure rate has reached the
// threshold. It never fires before minPauseSamples outcomes exist.
func (s *Strategy) ShouldPause(failureThreshold float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) < minPauseSamples {
		return false
	}
	return 1-s.ratioLocked() >= failureThreshold
}

// Counts returns the successes and failures currently in the window.
func (s *Strategy) Counts() (successes, failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ok := range s.window {
		if ok {
			successes++
		} else {
			failures++
		}
	}
	return successes, failures
}

// WindowLen returns how many outcomes the window currently holds.
func (s *Strategy) WindowLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.window)
}
