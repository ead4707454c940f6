// Package flowdoc defines the canonical, typed representation of a
// flow document (spec §3): the state tree, action specs, and
// transition specs the compiler validates and the runtime executes.
//
// Documents are normally produced by internal/compiler from raw JSON
// (after its legacy-form bridge runs); flowdoc itself only owns the
// post-normalization shape and its JSON (de)serialization rules.
package flowdoc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NodeType is the discriminator on StateNode.Type.
type NodeType string

const (
	NodeAtomic   NodeType = "atomic"
	NodeCompound NodeType = "compound"
	NodeFinal    NodeType = "final"
)

// Document is the top-level, session-immutable flow definition.
type Document struct {
	ID          string                 `json:"id"`
	Initial     string                 `json:"initial"`
	Context     any                    `json:"context,omitempty"`
	States      map[string]*StateNode  `json:"states"`
	Actions     map[string]*ActionSpec `json:"actions,omitempty"`
	ErrorStates *ErrorStates           `json:"errorStates,omitempty"`
}

// ErrorStates is the single top-level key resolving the spec's open
// question about errorStep vs sessionExpired naming (spec §3, §9).
type ErrorStates struct {
	Fatal          string `json:"fatal,omitempty"`
	SessionExpired string `json:"sessionExpired,omitempty"`
}

// View is what the renderer should mount for a state node.
type View struct {
	ModuleID  string `json:"moduleId"`
	Slot      string `json:"slot,omitempty"`
	Component string `json:"component,omitempty"`
}

// Bind declares one input resolved on entry, before any invocation.
type Bind struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Invoke is a capability call bound to state entry.
type Invoke struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Config   map[string]any `json:"config,omitempty"`
	AssignTo string         `json:"assignTo,omitempty"`
}

// Lifecycle is the set of ordered Action Spec lists bound to a node's
// lifecycle slots.
type Lifecycle struct {
	Pre          []*ActionSpec `json:"pre,omitempty"`
	Post         []*ActionSpec `json:"post,omitempty"`
	PreNavigate  []*ActionSpec `json:"preNavigate,omitempty"`
	PostNavigate []*ActionSpec `json:"postNavigate,omitempty"`
}

// StateNode is one node in the hierarchical machine.
type StateNode struct {
	Type       NodeType              `json:"type,omitempty"`
	View       *View                 `json:"view,omitempty"`
	Bind       []Bind                `json:"bind,omitempty"`
	Invoke     []Invoke              `json:"invoke,omitempty"`
	BeforeNext []*ActionSpec         `json:"beforeNext,omitempty"`
	Lifecycle  Lifecycle             `json:"lifecycle,omitempty"`
	On         map[string]Transition `json:"on,omitempty"`
	AllowBack  bool                  `json:"allowBack,omitempty"`
	States     map[string]*StateNode `json:"states,omitempty"`
	Initial    string                `json:"initial,omitempty"`
}

// EffectiveType returns Type with the atomic default applied.
func (s *StateNode) EffectiveType() NodeType {
	if s.Type == "" {
		return NodeAtomic
	}
	return s.Type
}

// ActionSpec is a discriminated-on-Type action description (spec §3).
// All fields beyond Type are optional and only meaningful for the
// variants that use them; the action runner dispatches on Type.
type ActionSpec struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// assign
	To            string `json:"to,omitempty"`
	FromEventPath string `json:"fromEventPath,omitempty"`
	Value         any    `json:"value,omitempty"`

	// clear
	Paths []string `json:"paths,omitempty"`

	// track / event
	Event   string         `json:"event,omitempty"`
	Props   map[string]any `json:"props,omitempty"`
	Payload any            `json:"payload,omitempty"`

	// http
	Method     string            `json:"method,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]any    `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	TimeoutMs  int               `json:"timeoutMs,omitempty"`
	Retry      *RetryConfig      `json:"retry,omitempty"`
	CacheTtlMs int               `json:"cacheTtlMs,omitempty"`
	CacheKey   string            `json:"cacheKey,omitempty"`
	Expect     *ExpectConfig     `json:"expect,omitempty"`
	MapResult  map[string]string `json:"mapResult,omitempty"`
	Severity   string            `json:"severity,omitempty"`
	Rollback   []*ActionSpec     `json:"rollback,omitempty"`

	// delay
	DurationMs int `json:"durationMs,omitempty"`

	// use
	Use string `json:"use,omitempty"`

	// parallel
	Parallel []*ActionSpec `json:"parallel,omitempty"`
}

// RetryConfig controls the http action's retry/backoff behavior.
type RetryConfig struct {
	Max          int     `json:"max"`
	BackoffMs    int     `json:"backoffMs"`
	MaxBackoffMs int     `json:"maxBackoffMs,omitempty"`
	Multiplier   float64 `json:"multiplier,omitempty"`
}

// ExpectConfig is the http action's response validation clause.
type ExpectConfig struct {
	Status []int  `json:"status,omitempty"`
	Schema string `json:"schema,omitempty"`
}

// Condition is one branch of a conditional Transition target.
type Condition struct {
	If      any           `json:"if"`
	To      string        `json:"to"`
	Effects []*ActionSpec `json:"effects,omitempty"`
}

// ConditionalTarget is the {default, conditions[]} form of a
// Transition's target.
type ConditionalTarget struct {
	Default    string      `json:"default"`
	Conditions []Condition `json:"conditions"`
}

// Target is either a static string or a ConditionalTarget. It decodes
// from whichever shape is present in the document.
type Target struct {
	Static      *string
	Conditional *ConditionalTarget
}

func (t *Target) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Static = &s
		return nil
	}
	var ct ConditionalTarget
	if err := json.Unmarshal(data, &ct); err != nil {
		return fmt.Errorf("flowdoc: transition target must be a string or {default, conditions}: %w", err)
	}
	t.Conditional = &ct
	return nil
}

func (t Target) MarshalJSON() ([]byte, error) {
	if t.Static != nil {
		return json.Marshal(*t.Static)
	}
	if t.Conditional != nil {
		return json.Marshal(t.Conditional)
	}
	return json.Marshal(nil)
}

// IsConditional reports whether the target requires condition
// evaluation rather than a static jump.
func (t Target) IsConditional() bool { return t.Conditional != nil }

// Transition is the full {target, actions?} shape. A bare string in
// the document (on.NEXT: "b") decodes as Transition{Target:
// Target{Static: &"b"}}.
type Transition struct {
	Target  Target        `json:"target"`
	Actions []*ActionSpec `json:"actions,omitempty"`
}

func (tr *Transition) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		tr.Target = Target{Static: &s}
		return nil
	}
	type alias Transition
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("flowdoc: transition must be a string or {target, actions?}: %w", err)
	}
	*tr = Transition(a)
	return nil
}

// Parse decodes raw JSON bytes into a Document, rejecting any field
// not named in the §3 data model. It performs no semantic validation
// (target existence, use-cycle detection, ...) — that is
// internal/compiler's job — only strict structural JSON decoding.
func Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("flowdoc: invalid document: %w", err)
	}
	return &doc, nil
}
