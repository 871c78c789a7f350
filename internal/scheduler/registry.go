package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/mo"

	"github.com/watzon/cadence/internal/rules"
)

// OccurrenceHandler processes the overdue rules of one handler name. The
// store is bound to the pass transaction. The returned rules are advanced in
// bulk by the dispatcher; returning none is valid.
type OccurrenceHandler interface {
	Handle(ctx context.Context, store *rules.Store, now time.Time) ([]*rules.Rule, error)
}

// HandlerFunc adapts a function to OccurrenceHandler.
type HandlerFunc func(ctx context.Context, store *rules.Store, now time.Time) ([]*rules.Rule, error)

func (f HandlerFunc) Handle(ctx context.Context, store *rules.Store, now time.Time) ([]*rules.Rule, error) {
	return f(ctx, store, now)
}

// OccurrenceFunc handles one due rule of a related entity. A non-nil
// returned rule is advanced.
type OccurrenceFunc func(ctx context.Context, rule *rules.Rule) (*rules.Rule, error)

// OccurrenceReceiver is implemented by related entities that react to
// occurrences. The bool reports whether the entity has the named method.
type OccurrenceReceiver interface {
	OccurrenceHandler(method string) (OccurrenceFunc, bool)
}

// Methods is a ready-made OccurrenceReceiver keyed by method name.
type Methods map[string]OccurrenceFunc

func (m Methods) OccurrenceHandler(method string) (OccurrenceFunc, bool) {
	fn, ok := m[method]
	return fn, ok
}

// EntityResolver loads the related entity with the given id. A nil entity
// with a nil error means the entity no longer exists.
type EntityResolver func(ctx context.Context, id string) (any, error)

// Registry maps handler names and related entity types to code.
type Registry struct {
	mu        sync.RWMutex
	handlers  map[string]OccurrenceHandler
	resolvers map[string]EntityResolver
}

func NewRegistry() *Registry {
	return &Registry{
		handlers:  make(map[string]OccurrenceHandler),
		resolvers: make(map[string]EntityResolver),
	}
}

// Register binds a handler to name.
func (r *Registry) Register(name string, h OccurrenceHandler) error {
	if name == "" {
		return fmt.Errorf("handler name is required")
	}
	if h == nil {
		return fmt.Errorf("handler %s is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %s already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// RegisterResolver binds the loader for a related entity type.
func (r *Registry) RegisterResolver(relatedType string, resolver EntityResolver) error {
	if relatedType == "" {
		return fmt.Errorf("related type is required")
	}
	if resolver == nil {
		return fmt.Errorf("resolver for %s is nil", relatedType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resolvers[relatedType]; exists {
		return fmt.Errorf("resolver for %s already registered", relatedType)
	}
	r.resolvers[relatedType] = resolver
	return nil
}

// Handler looks up a handler by name.
func (r *Registry) Handler(name string) mo.Option[OccurrenceHandler] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return mo.None[OccurrenceHandler]()
	}
	return mo.Some(h)
}

// Resolver looks up the entity loader for a related type.
func (r *Registry) Resolver(relatedType string) mo.Option[EntityResolver] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolver, ok := r.resolvers[relatedType]
	if !ok {
		return mo.None[EntityResolver]()
	}
	return mo.Some(resolver)
}

// Names returns the registered handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
