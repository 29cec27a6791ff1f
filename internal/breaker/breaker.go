// Package breaker wraps sony/gobreaker with a per-call timeout and the
// CLOSED/OPEN/HALF_OPEN vocabulary the rest of the queue core uses.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	bananaserrors "github.com/muaviaUsmani/bananas/internal/errors"
	"github.com/sony/gobreaker"
)

// State mirrors gobreaker's internal state in the queue core's own vocabulary.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes a single breaker instance.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the breaker.
	FailureThreshold uint32
	// MaxRequests is how many calls are allowed through while half-open.
	MaxRequests uint32
	// Interval is how often the closed-state failure counters reset. Zero never resets.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing half-open.
	OpenTimeout time.Duration
	// CallTimeout bounds an individual call; a timeout counts as a failure.
	// Zero disables the timeout race.
	CallTimeout time.Duration
}

// DefaultConfig returns conservative breaker tuning for an external dependency call.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		MaxRequests:      1,
		Interval:         0,
		OpenTimeout:      30 * time.Second,
		CallTimeout:      5 * time.Second,
	}
}

// Breaker guards calls to a single named dependency.
type Breaker struct {
	name        string
	cb          *gobreaker.CircuitBreaker
	callTimeout time.Duration
}

// New creates a Breaker named name, tuned by cfg.
func New(name string, cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker{
		name:        name,
		cb:          gobreaker.NewCircuitBreaker(settings),
		callTimeout: cfg.CallTimeout,
	}
}

// Name returns the breaker's target name.
func (b *Breaker) Name() string { return b.name }

// State reports the breaker's current state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Execute runs fn through the breaker, racing it against CallTimeout when
// set. A timeout win is reported to the breaker as a failure, same as an
// error returned directly from fn. When the breaker is open, Execute
// returns a bananaserrors.CircuitOpen error without calling fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		var cancel context.CancelFunc
		if b.callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() { done <- fn(callCtx) }()

		select {
		case callErr := <-done:
			return nil, callErr
		case <-callCtx.Done():
			return nil, callCtx.Err()
		}
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return bananaserrors.CircuitOpen("breaker %q: %w", b.name, err)
	}
	return err
}

// Registry hands out one Breaker per target name, created lazily on first use.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a Registry that lazily creates breakers with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it if this is the first call for that name.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.cfg)
	r.breakers[name] = b
	return b
}

// States returns a snapshot of every known breaker's current state, keyed by name.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
