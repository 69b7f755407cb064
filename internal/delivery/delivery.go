// Package delivery invokes the external delivery capability for due
// mailings. Handlers are registered explicitly per (mailer, action) target;
// there is no reflective dispatch.
package delivery

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignite/drip-engine/internal/drip"
)

// Deliverable is a prepared message that knows how to send itself. A
// handler may do its setup work and return one; the registry then invokes
// it. One level of indirection, never recursive.
type Deliverable interface {
	Deliver(ctx context.Context) error
}

// HandlerFunc performs (or prepares) the delivery for one mailing. A nil
// Deliverable with a nil error means the handler delivered inline.
type HandlerFunc func(ctx context.Context, m *drip.Mailing) (Deliverable, error)

// Registry maps (mailer, action) delivery targets to their handlers and
// implements drip.Deliverer.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func key(mailer, action string) string { return mailer + "#" + action }

// Register associates a handler with a delivery target. Later
// registrations replace earlier ones.
func (r *Registry) Register(mailer, action string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key(mailer, action)] = fn
}

// Deliver runs the handler registered for the mailing's target, then
// invokes the returned Deliverable when the handler deferred the send.
func (r *Registry) Deliver(ctx context.Context, m *drip.Mailing) error {
	r.mu.RLock()
	fn, ok := r.handlers[key(m.Mailer, m.Action)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no delivery handler registered for %s#%s", m.Mailer, m.Action)
	}

	deliverable, err := fn(ctx, m)
	if err != nil {
		return err
	}
	if deliverable != nil {
		return deliverable.Deliver(ctx)
	}
	return nil
}
