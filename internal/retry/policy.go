// Package retry wraps calls to external services with bounded attempts,
// exponential backoff and a per-attempt timeout.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy configures how an external call is attempted.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Factor is the exponential growth applied per attempt.
	Factor float64 `yaml:"factor"`

	// Jitter is the randomization fraction (0.0 to 1.0) added to each delay.
	Jitter float64 `yaml:"jitter"`

	// Timeout bounds a single attempt. Zero disables the per-attempt deadline.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultPolicy returns the policy used for embedding and model calls.
// Initial: 250ms, Max: 5s, Factor: 2, Jitter: 10%, Timeout: 30s, 3 attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Factor:       2,
		Jitter:       0.1,
		Timeout:      30 * time.Second,
	}
}

// Once returns a policy that attempts exactly once with the given timeout.
func Once(timeout time.Duration) Policy {
	return Policy{MaxAttempts: 1, Timeout: timeout}
}

// normalized fills zero fields with defaults without touching Timeout.
func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2.0
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Backoff returns the delay to wait after the given failed attempt.
// Attempt numbers start at 1.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.backoffWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// backoffWithRand computes min(max, initial*factor^(attempt-1) * (1 + jitter*r)).
func (p Policy) backoffWithRand(attempt int, r float64) time.Duration {
	p = p.normalized()
	exp := math.Max(float64(attempt-1), 0)

	base := float64(p.InitialDelay) * math.Pow(p.Factor, exp)
	total := math.Min(float64(p.MaxDelay), base+base*p.Jitter*r)

	return time.Duration(math.Round(total))
}
