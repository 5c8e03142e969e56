// Package retry holds the task-level retry policy for issue delivery:
// how many failed attempts a task gets before it is dead-lettered, and how
// far into the future each failed attempt pushes its next eligibility.
package retry

import "time"

// Policy configures backoff between delivery attempts. Delay doubles per
// failed attempt starting at BaseDelay and is capped at MaxDelay.
type Policy struct {
	MaxRetries int           // dead-letter once n_retries reaches this
	BaseDelay  time.Duration // delay after the first failure
	MaxDelay   time.Duration // backoff cap
}

// DefaultPolicy matches the shipped defaults.yaml values.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  30 * time.Second,
		MaxDelay:   30 * time.Minute,
	}
}

// NextDelay returns the backoff for a task that has now failed nRetries times
// (1-based: the first failure passes 1).
func (p Policy) NextDelay(nRetries int) time.Duration {
	if nRetries <= 1 {
		return min(p.BaseDelay, p.MaxDelay)
	}

	// Shift instead of math.Pow; clamp the exponent so the shift cannot wrap.
	n := uint(nRetries - 1)
	if n > 32 {
		n = 32
	}
	d := p.BaseDelay << n
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether a task with the given retry count has used up its
// attempts and must be dead-lettered instead of rescheduled.
func (p Policy) Exhausted(nRetries int) bool {
	return nRetries >= p.MaxRetries
}
