// Package compiler implements the Flow Compiler (spec §4.G): parse,
// normalize, validate, and emit a flow document into the opaque
// in-memory Machine the runtime orchestrator drives. Compilation is
// deterministic and idempotent.
package compiler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/flowcraft/orcd/internal/flowdoc"
)

// ConfigError is the compile-time error type (spec §7): it halts
// Start and is never recovered.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "compile error: " + e.Msg }

func configErrf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// ServiceChecker lets the validator confirm invoke.type refers to a
// registered service without the compiler depending on a concrete
// registry implementation.
type ServiceChecker interface {
	Has(namespace, name string) bool
}

// Options configures a single Compile call.
type Options struct {
	// LegacyLogic allows the deprecated string-form condition
	// ("{{x === 'y'}}") to survive normalization. Off by default per
	// spec §9's resolution of that open question.
	LegacyLogic bool
	// Services, when set, is consulted to validate that every
	// invoke.type names a registered services capability.
	Services ServiceChecker
}

// Option mutates Options.
type Option func(*Options)

// WithLegacyLogic toggles acceptance of legacy string conditions.
func WithLegacyLogic(enabled bool) Option {
	return func(o *Options) { o.LegacyLogic = enabled }
}

// WithServiceChecker supplies the registry used to validate
// invoke.type references.
func WithServiceChecker(sc ServiceChecker) Option {
	return func(o *Options) { o.Services = sc }
}

// Machine is the compiler's opaque output: a normalized, validated
// document plus indices the runtime needs for O(1) node lookup. It is
// never serialized — the runtime consumes it in-process only.
type Machine struct {
	Doc     *flowdoc.Document
	Actions map[string]*flowdoc.ActionSpec // global action arena, keyed by stable id

	nodesByPath map[string]*flowdoc.StateNode
	parentOf    map[string]string
}

// Node looks up a state node by its dotted leaf/branch path.
func (m *Machine) Node(path string) (*flowdoc.StateNode, bool) {
	n, ok := m.nodesByPath[path]
	return n, ok
}

// DocInitial returns the document's top-level initial node path,
// satisfying internal/orchestrator.Machine.
func (m *Machine) DocInitial() string { return m.Doc.Initial }

// ErrorStates returns the document's optional errorStates block.
func (m *Machine) ErrorStates() *flowdoc.ErrorStates { return m.Doc.ErrorStates }

// GlobalActions returns the global action arena, satisfying
// internal/orchestrator.Machine.
func (m *Machine) GlobalActions() map[string]*flowdoc.ActionSpec { return m.Actions }

// Paths returns every known node path, sorted for deterministic
// iteration (used by tests and diagnostics).
func (m *Machine) Paths() []string {
	out := make([]string, 0, len(m.nodesByPath))
	for p := range m.nodesByPath {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsDescendant reports whether candidate is path itself or nested
// under it.
func (m *Machine) IsDescendant(ancestor, candidate string) bool {
	if ancestor == candidate {
		return true
	}
	return strings.HasPrefix(candidate, ancestor+".")
}

// Compile runs all four phases against raw JSON flow document bytes.
func Compile(raw []byte, opts ...Option) (*Machine, error) {
	options := Options{}
	for _, o := range opts {
		o(&options)
	}

	tree, err := parseRaw(raw)
	if err != nil {
		return nil, err
	}

	arena := newActionArena()
	if err := normalize(tree, options, arena); err != nil {
		return nil, err
	}

	normalized, err := json.Marshal(tree)
	if err != nil {
		return nil, configErrf("re-marshal after normalization failed: %v", err)
	}

	doc, err := flowdoc.Parse(normalized)
	if err != nil {
		return nil, configErrf("%v", err)
	}
	if doc.Actions == nil && len(arena.byID) > 0 {
		doc.Actions = map[string]*flowdoc.ActionSpec{}
	}
	for id, raw := range arena.byID {
		if _, exists := doc.Actions[id]; exists {
			continue
		}
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, configErrf("re-marshal action %q failed: %v", id, err)
		}
		var spec flowdoc.ActionSpec
		if err := json.Unmarshal(encoded, &spec); err != nil {
			return nil, configErrf("re-decode action %q failed: %v", id, err)
		}
		doc.Actions[id] = &spec
	}

	m := &Machine{
		Doc:         doc,
		Actions:     doc.Actions,
		nodesByPath: map[string]*flowdoc.StateNode{},
		parentOf:    map[string]string{},
	}
	indexNodes(doc.States, "", m)

	if err := validate(m, options); err != nil {
		return nil, err
	}

	return m, nil
}

func indexNodes(states map[string]*flowdoc.StateNode, prefix string, m *Machine) {
	for name, node := range states {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		m.nodesByPath[path] = node
		if prefix != "" {
			m.parentOf[path] = prefix
		}
		if node.States != nil {
			indexNodes(node.States, path, m)
		}
	}
}

// newActionID assigns a fresh id to an anonymous inline action,
// mirroring the compiler's "every action has an id for telemetry"
// de-sugaring rule. Anonymous ids are not part of the document's
// observable semantics (they exist for telemetry only), so Compile's
// idempotence property is judged on node/transition structure, not on
// anonymous-action id stability.
func newActionID() string {
	return "anon-" + uuid.NewString()
}
