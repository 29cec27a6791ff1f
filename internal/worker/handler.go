package worker

import (
	"context"
	"fmt"

	"github.com/muaviaUsmani/bananas/internal/job"
)

// HandlerFunc is a function that processes a job
type HandlerFunc func(context.Context, *job.Job) error

// Middleware wraps a HandlerFunc with before/after behavior, chained around
// every registered handler in registration order (the first Middleware
// passed to Use runs outermost).
type Middleware func(HandlerFunc) HandlerFunc

// Registry manages job handlers by name
type Registry struct {
	handlers    map[string]HandlerFunc
	middlewares []Middleware
}

// NewRegistry creates a new handler registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Use appends middleware to the chain wrapped around every handler looked
// up through Get or Execute after this call.
func (r *Registry) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// Register adds a handler for a specific job name
func (r *Registry) Register(name string, handler HandlerFunc) {
	r.handlers[name] = handler
}

// Get retrieves a handler by job name, wrapped in the registry's middleware
// chain. Returns the handler and a boolean indicating if it exists.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	handler, exists := r.handlers[name]
	if !exists {
		return nil, false
	}
	return chain(handler, r.middlewares), true
}

// Count returns the number of registered handlers
func (r *Registry) Count() int {
	return len(r.handlers)
}

// Execute runs the appropriate handler for a job, through the middleware chain.
func (r *Registry) Execute(ctx context.Context, j *job.Job) error {
	handler, exists := r.Get(j.Name)
	if !exists {
		return fmt.Errorf("no handler registered for job: %s", j.Name)
	}
	return handler(ctx, j)
}

// chain wraps handler with mws, applied outermost-first: mws[0] sees the
// job before mws[1], and so on down to handler itself.
func chain(handler HandlerFunc, mws []Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i](handler)
	}
	return handler
}
