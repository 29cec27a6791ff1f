// Package retry computes backoff delays between job attempts, sharing
// one jittered policy across every strategy instead of hand-rolling
// exponential backoff at each call site.
package retry

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/muaviaUsmani/bananas/internal/job"
)

// DefaultJitterFactor is the default +/- spread applied to computed delays.
const DefaultJitterFactor = 0.2

// CustomFunc computes the delay before attempt n (1-indexed) for
// job.BackoffCustom specs. Set once on Policy.Custom and used for every
// job the policy serves; Policy falls back to a fixed base delay when none
// is set.
type CustomFunc func(attempt int, spec job.BackoffSpec) time.Duration

// Policy computes the delay before retrying a failed job.
type Policy struct {
	JitterFactor float64
	Custom       CustomFunc
}

// NewPolicy returns a Policy with the default jitter factor.
func NewPolicy() *Policy {
	return &Policy{JitterFactor: DefaultJitterFactor}
}

// NextDelay returns the delay to wait before attempt (1-indexed) given
// spec, jittered by ±JitterFactor and capped by spec.Cap when set.
func (p *Policy) NextDelay(attempt int, spec job.BackoffSpec) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch spec.Strategy {
	case job.BackoffFixed:
		delay = spec.Base
	case job.BackoffLinear:
		delay = spec.Base * time.Duration(attempt)
	case job.BackoffCustom:
		if p.Custom != nil {
			delay = p.Custom(attempt, spec)
		} else {
			delay = spec.Base
		}
	case job.BackoffExponential:
		fallthrough
	default:
		delay = exponentialDelay(attempt, spec)
	}

	if spec.Cap > 0 && delay > spec.Cap {
		delay = spec.Cap
	}

	return jitter(delay, p.jitterFactor())
}

func (p *Policy) jitterFactor() float64 {
	if p.JitterFactor > 0 {
		return p.JitterFactor
	}
	return 0
}

// exponentialDelay delegates to backoff.ExponentialBackOff so the growth
// curve and its internal jitter knobs come from the same library the
// rest of the ecosystem reaches for, instead of a hand-rolled 1<<attempt.
func exponentialDelay(attempt int, spec job.BackoffSpec) time.Duration {
	base := spec.Base
	if base <= 0 {
		base = time.Second
	}
	factor := spec.Factor
	if factor <= 1 {
		factor = 2
	}
	cap := spec.Cap
	if cap <= 0 {
		cap = time.Minute
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = factor
	eb.MaxInterval = cap
	eb.RandomizationFactor = 0 // jitter applied once, uniformly, below
	eb.Reset()

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = eb.NextBackOff()
		if delay == backoff.Stop {
			return cap
		}
	}
	return delay
}

// jitter applies a uniform ±factor jitter around delay.
func jitter(delay time.Duration, factor float64) time.Duration {
	if delay <= 0 || factor <= 0 {
		return delay
	}
	spread := float64(delay) * factor
	offset := (rand.Float64()*2 - 1) * spread
	jittered := float64(delay) + offset
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}
