// Package orchestrator implements the Runtime Orchestrator (spec
// §4.H): owns the Actor, drives the per-node lifecycle, mediates the
// renderer through Subscribe, persists snapshots, and handles
// cancellation. One Actor per compiled Machine instance; events are
// processed one at a time off a single-goroutine FIFO queue, mirroring
// the teacher's single-writer pipeline executor pattern
// (internal/pipeline/executor.go) generalized from pipeline steps to
// flow-document nodes.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/flowcraft/orcd/internal/actionrun"
	"github.com/flowcraft/orcd/internal/cache"
	"github.com/flowcraft/orcd/internal/errclass"
	"github.com/flowcraft/orcd/internal/flowdoc"
	"github.com/flowcraft/orcd/internal/pathutil"
	"github.com/flowcraft/orcd/internal/registry"
	"github.com/flowcraft/orcd/internal/transition"
)

// NodeState is the per-active-node machine state from spec §4.H.
type NodeState string

const (
	Idle       NodeState = "idle"
	Entering   NodeState = "entering"
	Active     NodeState = "active"
	Navigating NodeState = "navigating"
	ErrorState NodeState = "error"
	Final      NodeState = "final"
)

// Machine is the compiled-document contract the orchestrator depends
// on — matches internal/compiler.Machine's exported surface without
// importing the compiler package directly, keeping orchestrator
// testable against hand-built fixtures.
type Machine interface {
	Node(path string) (*flowdoc.StateNode, bool)
	DocInitial() string
	ErrorStates() *flowdoc.ErrorStates
	GlobalActions() map[string]*flowdoc.ActionSpec
}

// Snapshot is the read-only view handed to Subscribe listeners and
// returned by GetSnapshot (spec §4.H, §6).
type Snapshot struct {
	ActiveNode string
	Context    map[string]any
	History    []transition.HistoryEntry
	View       *flowdoc.View
	NodeState  NodeState
	Errors     []*errclass.Classified
}

// Storage is the storage.* capability contract (spec §6, §4.J).
type Storage interface {
	Save(flowID string, blob any) error
	Load(flowID string) (any, bool, error)
	Remove(flowID string) error
}

// Deps bundles everything Start needs beyond the compiled Machine.
type Deps struct {
	Registry *registry.Registry
	Cache    *cache.Cache
	Storage  Storage // optional
	Resume   bool
	FlowID   string
	Policy   errclass.Policy // optional, nil uses errclass.DefaultPolicy
}

type queuedEvent struct {
	name    string
	payload map[string]any
}

// Actor is the running instance returned by Start.
type Actor struct {
	machine Machine
	deps    Deps

	mu         sync.Mutex
	ctxRoot    map[string]any
	history    []transition.HistoryEntry
	results    map[string]any
	activeNode string
	nodeState  NodeState
	listeners  []func(Snapshot)
	lastErrors []*errclass.Classified

	queue      chan queuedEvent
	cancel     context.CancelFunc
	runCtx     context.Context
	stopped    bool
	drainedAll chan struct{}
}

const queueBound = 64

// Start compiles nothing itself — it drives an already-Compiled
// Machine (spec §4.H Start(flow, deps)). The flow document itself was
// already turned into Machine by internal/compiler.Compile.
func Start(m Machine, deps Deps) (*Actor, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor{
		machine:    m,
		deps:       deps,
		ctxRoot:    map[string]any{},
		results:    map[string]any{},
		nodeState:  Idle,
		queue:      make(chan queuedEvent, queueBound),
		cancel:     cancel,
		runCtx:     ctx,
		drainedAll: make(chan struct{}),
	}

	resumed := false
	if deps.Resume && deps.Storage != nil && deps.FlowID != "" {
		if blob, ok, err := deps.Storage.Load(deps.FlowID); err == nil && ok {
			if a.rehydrate(blob) {
				resumed = true
			}
		}
	}

	if !resumed {
		a.activeNode = m.DocInitial()
		a.ctxRoot = map[string]any{}
		a.results = map[string]any{}
	}

	go a.loop()

	if err := a.enterNode(a.activeNode, "start"); err != nil {
		return nil, err
	}

	return a, nil
}

// rehydrate restores {activeNode, context, history, results} from a
// persisted snapshot blob, matching the teacher's migration-guard
// pattern (internal/state/migration_runner.go): schema mismatch
// discards and falls through to a fresh start rather than erroring.
func (a *Actor) rehydrate(blob any) bool {
	m, ok := blob.(map[string]any)
	if !ok {
		return false
	}
	if v, ok := m["schemaVersion"].(float64); !ok || int(v) != SchemaVersion {
		return false
	}
	activeNode, _ := m["activeNode"].(string)
	if activeNode == "" {
		return false
	}
	a.activeNode = activeNode
	if c, ok := m["context"].(map[string]any); ok {
		a.ctxRoot = c
	}
	if h, ok := m["history"].([]any); ok {
		a.history = decodeHistory(h)
	}
	if r, ok := m["results"].(map[string]any); ok {
		a.results = r
	}
	return true
}

func decodeHistory(raw []any) []transition.HistoryEntry {
	out := make([]transition.HistoryEntry, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		node, _ := m["node"].(string)
		cause, _ := m["cause"].(string)
		ts, _ := m["timestamp"].(float64)
		allowBack, _ := m["allowBack"].(bool)
		out = append(out, transition.HistoryEntry{Node: node, Cause: cause, Timestamp: int64(ts), AllowBack: allowBack})
	}
	return out
}

// SchemaVersion gates snapshot compatibility (spec §4.J).
const SchemaVersion = 1

// Send enqueues event for processing. On overflow the oldest queued
// event is dropped to make room (transitions are never queued, so
// never dropped) and a warn-classified QueueOverflow error is
// recorded; Send never blocks the caller.
func (a *Actor) Send(event string, payload map[string]any) {
	ev := queuedEvent{name: event, payload: payload}
	select {
	case a.queue <- ev:
		return
	default:
	}
	select {
	case <-a.queue: // drop the oldest queued event
	default:
	}
	select {
	case a.queue <- ev:
	default:
	}
	a.mu.Lock()
	a.lastErrors = append(a.lastErrors, &errclass.Classified{Kind: errclass.KindQueueDrop, Severity: a.policy().SeverityFor(errclass.KindQueueDrop), Err: &dropError{}})
	a.mu.Unlock()
}

type dropError struct{}

func (e *dropError) Error() string { return "event queue overflow" }

// Stop drains in-flight work, persists a terminal snapshot, and
// releases the event loop.
func (a *Actor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	a.cancel()
	close(a.queue)
	<-a.drainedAll

	a.persist()
}

// Subscribe registers fn to be invoked after every committed
// transition. Not retroactive: fn does not fire for the current state.
func (a *Actor) Subscribe(fn func(Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// GetSnapshot returns the current read-only view.
func (a *Actor) GetSnapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// GetView returns just the active node's view descriptor, or nil.
func (a *Actor) GetView() *flowdoc.View {
	a.mu.Lock()
	defer a.mu.Unlock()
	node, ok := a.machine.Node(a.activeNode)
	if !ok {
		return nil
	}
	return node.View
}

func (a *Actor) snapshotLocked() Snapshot {
	node, _ := a.machine.Node(a.activeNode)
	var view *flowdoc.View
	if node != nil {
		view = node.View
	}
	return Snapshot{
		ActiveNode: a.activeNode,
		Context:    a.ctxRoot,
		History:    append([]transition.HistoryEntry(nil), a.history...),
		View:       view,
		NodeState:  a.nodeState,
		Errors:     a.lastErrors,
	}
}

func (a *Actor) policy() errclass.Policy {
	if a.deps.Policy != nil {
		return a.deps.Policy
	}
	return errclass.DefaultPolicy()
}

func (a *Actor) loop() {
	defer close(a.drainedAll)
	for ev := range a.queue {
		a.mu.Lock()
		state := a.nodeState
		a.mu.Unlock()
		if state == Navigating {
			// single-threaded FIFO: this branch is unreachable in
			// practice because the loop only dequeues once the
			// previous event's processing has returned, but the
			// check documents the invariant explicitly.
			continue
		}
		if state == Final {
			continue
		}
		if ev.name == "BACK" {
			a.handleBack()
			continue
		}
		a.handleEvent(ev.name, ev.payload)
	}
}

func (a *Actor) rc(event map[string]any) *actionrun.RunContext {
	a.mu.Lock()
	results := a.results
	a.mu.Unlock()
	return &actionrun.RunContext{
		Context: a.runCtx,
		Event:   event,
		Step:    a.activeNode,
		Reg:     a.deps.Registry,
		Cache:   a.deps.Cache,
		Results: results,
		Send:    sendAdapter{a},
	}
}

type sendAdapter struct{ a *Actor }

func (s sendAdapter) Send(event string, payload any) {
	p, _ := payload.(map[string]any)
	s.a.Send(event, p)
}

// enterNode runs the "entering" sequence: bind, lifecycle.pre, invoke,
// then transitions to active (or error/final).
func (a *Actor) enterNode(path, cause string) error {
	a.mu.Lock()
	a.nodeState = Entering
	a.mu.Unlock()

	node, ok := a.machine.Node(path)
	if !ok {
		return fmt.Errorf("orchestrator: node %q does not exist", path)
	}

	a.mu.Lock()
	a.activeNode = path
	a.history = transition.PushHistory(a.history, path, cause, node.AllowBack, 0)
	ctxRoot := a.ctxRoot
	a.mu.Unlock()

	rc := a.rc(nil)
	for _, b := range node.Bind {
		v := resolveBindSource(b.From, ctxRoot, rc.Event)
		applyAssign(ctxRoot, b.To, v)
	}

	out := actionrun.Run(rc, node.Lifecycle.Pre, ctxRoot, a.machine.GlobalActions())
	if out.Fatal {
		return a.gotoError(out.Errors)
	}

	for _, inv := range node.Invoke {
		assignInvoke(rc, ctxRoot, inv, a.deps.Registry)
	}

	a.mu.Lock()
	if node.EffectiveType() == flowdoc.NodeFinal {
		a.nodeState = Final
	} else {
		a.nodeState = Active
	}
	a.mu.Unlock()

	a.persist()
	a.notify()
	return nil
}

// gotoError implements the fatal-severity routing rule: transition to
// errorStates.fatal when the document defines one, otherwise enter a
// synthetic terminal error node (spec §4.E step 7, §9).
func (a *Actor) gotoError(errs []*errclass.Classified) error {
	a.mu.Lock()
	a.lastErrors = errs
	a.mu.Unlock()

	if es := a.machine.ErrorStates(); es != nil && es.Fatal != "" {
		if _, ok := a.machine.Node(es.Fatal); ok {
			return a.enterNode(es.Fatal, "fatal")
		}
	}

	a.mu.Lock()
	a.nodeState = ErrorState
	a.mu.Unlock()
	a.persist()
	a.notify()
	return nil
}

func (a *Actor) handleBack() {
	a.mu.Lock()
	node, history, ok := transition.Back(a.history)
	if !ok {
		a.mu.Unlock()
		return
	}
	a.history = history
	a.mu.Unlock()
	_ = a.enterNode(node, "back")
}

// handleEvent implements §4.H step "On event while active": pre,
// beforeNext, post, transition resolution, preNavigate, commit,
// postNavigate (fire-and-forget).
func (a *Actor) handleEvent(event string, payload map[string]any) {
	a.mu.Lock()
	if a.nodeState != Active && a.nodeState != ErrorState {
		a.mu.Unlock()
		return
	}
	a.nodeState = Navigating
	fromPath := a.activeNode
	ctxRoot := a.ctxRoot
	a.mu.Unlock()

	node, ok := a.machine.Node(fromPath)
	if !ok {
		a.mu.Lock()
		a.nodeState = Active
		a.mu.Unlock()
		return
	}

	rc := a.rc(payload)
	arena := a.machine.GlobalActions()

	out := actionrun.Run(rc, node.Lifecycle.Pre, ctxRoot, arena)
	if out.Fatal {
		a.gotoError(out.Errors)
		return
	}
	if out.Blocked {
		a.abandon(out.Errors)
		return
	}

	out = actionrun.Run(rc, node.BeforeNext, ctxRoot, arena)
	if out.Fatal {
		a.gotoError(out.Errors)
		return
	}
	if out.Blocked {
		a.abandon(out.Errors)
		return
	}

	out = actionrun.Run(rc, node.Lifecycle.Post, ctxRoot, arena)
	if out.Fatal {
		a.gotoError(out.Errors)
		return
	}

	res := transition.Resolve(rc, node, event, ctxRoot, arena, 0)
	if res.Dropped {
		a.mu.Lock()
		a.nodeState = Active
		a.mu.Unlock()
		return
	}
	if res.Fatal {
		a.gotoError(res.Errors)
		return
	}
	if res.Blocked {
		a.abandon(res.Errors)
		return
	}

	out = actionrun.Run(rc, node.Lifecycle.PreNavigate, ctxRoot, arena)
	if out.Fatal {
		a.gotoError(out.Errors)
		return
	}
	if out.Blocked {
		a.abandon(out.Errors)
		return
	}

	prevNode := fromPath
	if err := a.enterNode(res.Target, event); err != nil {
		a.gotoError([]*errclass.Classified{errclass.Classify(err, a.policy())})
		return
	}

	go a.firePostNavigate(prevNode, ctxRoot, arena)
}

// firePostNavigate runs lifecycle.postNavigate on the previous node
// best-effort, without blocking the event loop. Its outcome is
// discarded: failures are neither recorded nor logged, and never
// affect the committed transition.
func (a *Actor) firePostNavigate(prevNode string, ctxRoot map[string]any, arena map[string]*flowdoc.ActionSpec) {
	node, ok := a.machine.Node(prevNode)
	if !ok || len(node.Lifecycle.PostNavigate) == 0 {
		return
	}
	rc := a.rc(nil)
	actionrun.Run(rc, node.Lifecycle.PostNavigate, ctxRoot, arena)
}

func (a *Actor) abandon(errs []*errclass.Classified) {
	a.mu.Lock()
	a.nodeState = Active
	a.lastErrors = errs
	a.mu.Unlock()
	a.notify()
}

func (a *Actor) persist() {
	if a.deps.Storage == nil {
		return
	}
	a.mu.Lock()
	results := a.results
	a.mu.Unlock()
	snap := a.GetSnapshot()
	blob := map[string]any{
		"schemaVersion": SchemaVersion,
		"flowId":        a.deps.FlowID,
		"activeNode":    snap.ActiveNode,
		"context":       snap.Context,
		"history":       encodeHistory(snap.History),
		"results":       results,
	}
	_ = a.deps.Storage.Save(a.deps.FlowID, blob) // best-effort: a save error is ignored and never aborts the commit
}

func encodeHistory(entries []transition.HistoryEntry) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"node": e.Node, "cause": e.Cause, "timestamp": e.Timestamp, "allowBack": e.AllowBack,
		})
	}
	return out
}

func (a *Actor) notify() {
	a.mu.Lock()
	listeners := append([]func(Snapshot){}, a.listeners...)
	snap := a.snapshotLocked()
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// resolveBindSource resolves a bind[].from reference (spec §4.H): a
// "context.a.b" / "event.a.b" dotted path, or a bare path treated as
// relative to event, using full pathutil traversal rather than a flat
// single-segment lookup.
func resolveBindSource(from string, ctxRoot map[string]any, event map[string]any) any {
	switch {
	case strings.HasPrefix(from, "context."):
		return pathutil.GetOr(ctxRoot, strings.TrimPrefix(from, "context."), nil)
	case strings.HasPrefix(from, "event."):
		return pathutil.GetOr(event, strings.TrimPrefix(from, "event."), nil)
	default:
		return pathutil.GetOr(event, from, nil)
	}
}

// applyAssign writes value at a dotted path under ctxRoot, folding the
// structurally-shared result back into the caller's stable map
// reference the same way actionrun.copyInto does.
func applyAssign(ctxRoot map[string]any, to string, value any) {
	to = strings.TrimPrefix(to, "context.")
	updated, ok := pathutil.Set(ctxRoot, to, value).(map[string]any)
	if !ok {
		return
	}
	for k := range ctxRoot {
		if _, exists := updated[k]; !exists {
			delete(ctxRoot, k)
		}
	}
	for k, v := range updated {
		ctxRoot[k] = v
	}
}

// Invoker is the services.<named compute> capability contract (spec
// §6): a single async call taking the invocation's resolved config.
type Invoker interface {
	Invoke(ctx context.Context, config map[string]any) (any, error)
}

func assignInvoke(rc *actionrun.RunContext, ctxRoot map[string]any, inv flowdoc.Invoke, reg *registry.Registry) {
	impl, ok := reg.Lookup(registry.Services, inv.Type)
	if !ok {
		return
	}
	svc, ok := impl.(Invoker)
	if !ok {
		return
	}
	result, err := svc.Invoke(rc.Context, inv.Config)
	if err != nil || inv.AssignTo == "" {
		return
	}
	ctxRoot[inv.AssignTo] = result
}
