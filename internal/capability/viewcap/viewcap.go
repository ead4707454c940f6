// Package viewcap is the default views.resolve capability: a registry
// of named ViewFactory tokens a renderer (internal/render/tui or
// internal/render/web) can mount for a flowdoc.View descriptor,
// without the orchestrator ever depending on a concrete UI toolkit.
package viewcap

import (
	"fmt"
	"sync"

	"github.com/flowcraft/orcd/internal/flowdoc"
)

// Factory builds an opaque renderer-specific mountable for a view,
// given the node's live context at entry.
type Factory func(view *flowdoc.View, ctx map[string]any) (any, error)

// Resolver implements the views.resolve capability contract: look up
// the factory named by view.Component and build its mountable.
type Resolver struct {
	mu   sync.RWMutex
	reg  map[string]Factory
}

// New returns an empty Resolver; call Register to add named factories.
func New() *Resolver {
	return &Resolver{reg: map[string]Factory{}}
}

// Register adds factory under name, replacing any prior registration.
func (r *Resolver) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reg[name] = factory
}

// Resolve builds the mountable for view.Component, or an error if no
// factory is registered under that name.
func (r *Resolver) Resolve(view *flowdoc.View, ctx map[string]any) (any, error) {
	if view == nil {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.reg[view.Component]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("viewcap: component %q is not registered", view.Component)
	}
	return factory(view, ctx)
}
