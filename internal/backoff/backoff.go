// Package backoff provides retry delay strategies for the delivery engine.
// All strategies are stateless and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before retry n (1-indexed): retry 1
	// follows the first failed attempt.
	Delay(retry int) time.Duration
}

// None retries immediately. It is the default.
type None struct{}

// Delay always returns zero.
func (None) Delay(int) time.Duration { return 0 }

// Constant waits the same interval before every retry.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(int) time.Duration { return c.Interval }

// Exponential doubles the delay on each retry, capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * 2^(retry-1), capped at Max.
func (e Exponential) Delay(retry int) time.Duration {
	return time.Duration(exponential(e.Initial, e.Max, retry))
}

// Jitter applies full jitter to an exponential base so that targets
// failing together do not retry in lockstep.
type Jitter struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns a random duration in [0, min(Initial * 2^(retry-1), Max)].
func (j Jitter) Delay(retry int) time.Duration {
	base := exponential(j.Initial, j.Max, retry)
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter does not need crypto rand
}

// maxDuration is the largest Duration that survives a float64 round trip.
const maxDuration = time.Duration(math.MaxInt64 - 1023)

// exponential returns the capped delay in nanoseconds. The cap is applied
// in float64 so large retry counts cannot overflow time.Duration.
func exponential(initial, maxDelay time.Duration, retry int) float64 {
	if initial <= 0 {
		return 0
	}
	if retry < 1 {
		retry = 1
	}
	limit := float64(maxDuration)
	if maxDelay > 0 {
		limit = float64(maxDelay)
	}
	if d := float64(initial) * math.Pow(2, float64(retry-1)); d < limit {
		return d
	}
	return limit
}

// Parse builds a strategy by name: "none", "constant", "exponential" or
// "jitter". An empty name selects None.
func Parse(name string, initial, maxDelay time.Duration) (Strategy, error) {
	switch name {
	case "", "none":
		return None{}, nil
	case "constant":
		return Constant{Interval: initial}, nil
	case "exponential":
		return Exponential{Initial: initial, Max: maxDelay}, nil
	case "jitter":
		return Jitter{Initial: initial, Max: maxDelay}, nil
	}
	return nil, fmt.Errorf("backoff: unknown strategy %q", name)
}
