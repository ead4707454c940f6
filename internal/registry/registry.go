// Package registry implements the capability registry (spec §4.D): a
// per-orchestrator-instance named lookup table of external
// collaborators (services, guards, actions, views, tools, actors). The
// registry holds references only — it never invokes a capability.
package registry

import (
	"fmt"
	"sync"
)

// Namespace groups capabilities by kind.
type Namespace string

const (
	Services Namespace = "services"
	Guards   Namespace = "guards"
	Actions  Namespace = "actions"
	Views    Namespace = "views"
	Tools    Namespace = "tools"
	Actors   Namespace = "actors"
)

// ConfigError is returned for duplicate registration or config
// validation failure.
type ConfigError struct {
	Namespace Namespace
	Name      string
	Msg       string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("registry: %s/%s: %s", e.Namespace, e.Name, e.Msg)
}

// ConfigValidator validates a capability's per-call config. It is
// optional at registration time and, when present, runs per dynamic
// call via ValidateConfig; Register stores it without running it.
type ConfigValidator func(config any) error

type entry struct {
	impl      any
	validator ConfigValidator
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	table map[Namespace]map[string]entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{table: make(map[Namespace]map[string]entry)}
}

// Register adds impl under namespace/name. validator, if non-nil, is
// stored for later per-call validation via ValidateConfig; Register
// itself does not call it. Registering a duplicate name fails with
// ConfigError.
func (r *Registry) Register(namespace Namespace, name string, impl any, validator ConfigValidator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.table[namespace]
	if !ok {
		bucket = make(map[string]entry)
		r.table[namespace] = bucket
	}
	if _, exists := bucket[name]; exists {
		return &ConfigError{Namespace: namespace, Name: name, Msg: "already registered"}
	}
	bucket[name] = entry{impl: impl, validator: validator}
	return nil
}

// Lookup returns the registered implementation, or (nil, false).
func (r *Registry) Lookup(namespace Namespace, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket, ok := r.table[namespace]
	if !ok {
		return nil, false
	}
	e, ok := bucket[name]
	if !ok {
		return nil, false
	}
	return e.impl, true
}

// Has reports whether namespace/name is registered.
func (r *Registry) Has(namespace Namespace, name string) bool {
	_, ok := r.Lookup(namespace, name)
	return ok
}

// Remove deletes a registration. Removing an absent entry is a no-op.
func (r *Registry) Remove(namespace Namespace, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bucket, ok := r.table[namespace]; ok {
		delete(bucket, name)
	}
}

// List returns the registered names in namespace.
func (r *Registry) List(namespace Namespace) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket, ok := r.table[namespace]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(bucket))
	for name := range bucket {
		names = append(names, name)
	}
	return names
}

// ValidateConfig re-runs the registered validator for namespace/name
// against a dynamic, per-call config override. Returns nil if no
// validator was registered.
func (r *Registry) ValidateConfig(namespace Namespace, name string, config any) error {
	r.mu.RLock()
	bucket, ok := r.table[namespace]
	if !ok {
		r.mu.RUnlock()
		return &ConfigError{Namespace: namespace, Name: name, Msg: "not registered"}
	}
	e, ok := bucket[name]
	r.mu.RUnlock()
	if !ok {
		return &ConfigError{Namespace: namespace, Name: name, Msg: "not registered"}
	}
	if e.validator == nil {
		return nil
	}
	if err := e.validator(config); err != nil {
		return &ConfigError{Namespace: namespace, Name: name, Msg: err.Error()}
	}
	return nil
}
