package drip

import (
	"context"
	"sync"
)

// EntityResolver looks up a subscriber or actor entity of one registered
// type by its identifier.
type EntityResolver func(ctx context.Context, id string) (any, error)

// Registry holds the named campaign definitions and the per-type entity
// resolvers. It is an explicit value constructed per process (and per
// test), not a package-level cache.
type Registry struct {
	mu        sync.RWMutex
	drippers  map[string]*Dripper
	order     []string
	resolvers map[string]EntityResolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		drippers:  make(map[string]*Dripper),
		resolvers: make(map[string]EntityResolver),
	}
}

// Register adds a dripper under its campaign slug. Duplicate slugs fail
// with a ConfigurationError.
func (r *Registry) Register(dr *Dripper) error {
	if dr.Slug == "" {
		return &ConfigurationError{Campaign: dr.Slug, Reason: "a campaign slug is required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.drippers[dr.Slug]; dup {
		return &ConfigurationError{Campaign: dr.Slug, Reason: "campaign slug already registered"}
	}
	r.drippers[dr.Slug] = dr
	r.order = append(r.order, dr.Slug)
	return nil
}

// MustRegister is Register but panics on error.
func (r *Registry) MustRegister(dr *Dripper) {
	if err := r.Register(dr); err != nil {
		panic(err)
	}
}

// Dripper resolves a campaign's dripper by slug. Unknown slugs fail with a
// NotFoundError.
func (r *Registry) Dripper(slug string) (*Dripper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dr, ok := r.drippers[slug]
	if !ok {
		return nil, &NotFoundError{Kind: "campaign", Key: slug}
	}
	return dr, nil
}

// Drippers returns all registered drippers in registration order.
func (r *Registry) Drippers() []*Dripper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Dripper, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.drippers[slug])
	}
	return out
}

// RegisterEntityResolver associates an entity type tag with its lookup
// function. Later registrations replace earlier ones.
func (r *Registry) RegisterEntityResolver(entityType string, fn EntityResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[entityType] = fn
}

// ResolveEntity looks up the entity behind ref using the resolver
// registered for its type. Fails with a NotFoundError when no resolver is
// registered.
func (r *Registry) ResolveEntity(ctx context.Context, ref EntityRef) (any, error) {
	r.mu.RLock()
	fn, ok := r.resolvers[ref.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "entity resolver", Key: ref.Type}
	}
	return fn(ctx, ref.ID)
}
