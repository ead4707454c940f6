package orchestrator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcraft/orcd/internal/cache"
	"github.com/flowcraft/orcd/internal/flowdoc"
	"github.com/flowcraft/orcd/internal/orchestrator"
	"github.com/flowcraft/orcd/internal/registry"
)

// fakeMachine satisfies orchestrator.Machine over a hand-built node
// map, so orchestrator tests don't need a real compiler.Compile pass.
type fakeMachine struct {
	initial string
	nodes   map[string]*flowdoc.StateNode
	errs    *flowdoc.ErrorStates
	actions map[string]*flowdoc.ActionSpec
}

func (f *fakeMachine) Node(path string) (*flowdoc.StateNode, bool) { n, ok := f.nodes[path]; return n, ok }
func (f *fakeMachine) DocInitial() string                          { return f.initial }
func (f *fakeMachine) ErrorStates() *flowdoc.ErrorStates            { return f.errs }
func (f *fakeMachine) GlobalActions() map[string]*flowdoc.ActionSpec { return f.actions }

func strPtr(s string) *string { return &s }

func twoNodeMachine() *fakeMachine {
	return &fakeMachine{
		initial: "start",
		nodes: map[string]*flowdoc.StateNode{
			"start": {
				On: map[string]flowdoc.Transition{
					"NEXT": {Target: flowdoc.Target{Static: strPtr("done")}},
				},
			},
			"done": {Type: flowdoc.NodeFinal},
		},
	}
}

func newDeps() orchestrator.Deps {
	return orchestrator.Deps{Registry: registry.New(), Cache: cache.New(0)}
}

func TestStart_EntersInitialNodeAsActive(t *testing.T) {
	a, err := orchestrator.Start(twoNodeMachine(), newDeps())
	require.NoError(t, err)
	defer a.Stop()

	snap := a.GetSnapshot()
	assert.Equal(t, "start", snap.ActiveNode)
	assert.Equal(t, orchestrator.Active, snap.NodeState)
}

func TestSend_TransitionsToTargetNode(t *testing.T) {
	a, err := orchestrator.Start(twoNodeMachine(), newDeps())
	require.NoError(t, err)
	defer a.Stop()

	done := make(chan orchestrator.Snapshot, 1)
	a.Subscribe(func(s orchestrator.Snapshot) {
		if s.ActiveNode == "done" {
			select {
			case done <- s:
			default:
			}
		}
	})

	a.Send("NEXT", nil)

	select {
	case snap := <-done:
		assert.Equal(t, "done", snap.ActiveNode)
		assert.Equal(t, orchestrator.Final, snap.NodeState)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transition to done")
	}
}

func TestSend_UnknownEventIsDropped(t *testing.T) {
	a, err := orchestrator.Start(twoNodeMachine(), newDeps())
	require.NoError(t, err)
	defer a.Stop()

	a.Send("NOPE", nil)
	time.Sleep(50 * time.Millisecond)

	snap := a.GetSnapshot()
	assert.Equal(t, "start", snap.ActiveNode)
	assert.Equal(t, orchestrator.Active, snap.NodeState)
}

func TestSend_FatalSeverityRoutesToErrorStatesFatal(t *testing.T) {
	m := &fakeMachine{
		initial: "start",
		errs:    &flowdoc.ErrorStates{Fatal: "boom"},
		nodes: map[string]*flowdoc.StateNode{
			"start": {
				On: map[string]flowdoc.Transition{
					"NEXT": {
						Target: flowdoc.Target{Static: strPtr("done")},
						Actions: []*flowdoc.ActionSpec{
							{Type: "http", Method: "GET", URL: "/x", Severity: "fatal"},
						},
					},
				},
			},
			"done": {Type: flowdoc.NodeFinal},
			"boom": {Type: flowdoc.NodeFinal},
		},
	}

	a, err := orchestrator.Start(m, newDeps())
	require.NoError(t, err)
	defer a.Stop()

	reached := make(chan string, 1)
	a.Subscribe(func(s orchestrator.Snapshot) { reached <- s.ActiveNode })

	a.Send("NEXT", nil)

	select {
	case node := <-reached:
		assert.Equal(t, "boom", node)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error routing")
	}
}

func TestGetView_ReturnsActiveNodeView(t *testing.T) {
	m := twoNodeMachine()
	m.nodes["start"].View = &flowdoc.View{ModuleID: "intro"}
	a, err := orchestrator.Start(m, newDeps())
	require.NoError(t, err)
	defer a.Stop()

	view := a.GetView()
	require.NotNil(t, view)
	assert.Equal(t, "intro", view.ModuleID)
}

func threeNodeBackMachine() *fakeMachine {
	return &fakeMachine{
		initial: "a",
		nodes: map[string]*flowdoc.StateNode{
			"a": {
				AllowBack: true,
				On:        map[string]flowdoc.Transition{"NEXT": {Target: flowdoc.Target{Static: strPtr("b")}}},
			},
			"b": {
				AllowBack: true,
				On:        map[string]flowdoc.Transition{"NEXT": {Target: flowdoc.Target{Static: strPtr("c")}}},
			},
			"c": {AllowBack: true},
		},
	}
}

// waitForActiveNode blocks until the actor reports node as active, or
// fails the test after 2s.
func waitForActiveNode(t *testing.T, a *orchestrator.Actor, node string) {
	t.Helper()
	hit := make(chan struct{}, 1)
	a.Subscribe(func(s orchestrator.Snapshot) {
		if s.ActiveNode == node {
			select {
			case hit <- struct{}{}:
			default:
			}
		}
	})
	if a.GetSnapshot().ActiveNode == node {
		return
	}
	// Subscribe is registered before this check, so a transition that
	// lands on node between the check above and here is still caught.
	select {
	case <-hit:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for active node %q", node)
	}
}

// TestSend_BackTwiceWalksHistoryInReverse covers spec §8 scenario 6:
// a -> b -> c, then two BACKs should land on b, then a — not re-enter
// c (history's top is always the current node, so Back must return
// the entry below it).
func TestSend_BackTwiceWalksHistoryInReverse(t *testing.T) {
	a, err := orchestrator.Start(threeNodeBackMachine(), newDeps())
	require.NoError(t, err)
	defer a.Stop()

	a.Send("NEXT", nil)
	waitForActiveNode(t, a, "b")
	a.Send("NEXT", nil)
	waitForActiveNode(t, a, "c")

	a.Send("BACK", nil)
	waitForActiveNode(t, a, "b")
	assert.Equal(t, "b", a.GetSnapshot().ActiveNode)

	a.Send("BACK", nil)
	waitForActiveNode(t, a, "a")
	assert.Equal(t, "a", a.GetSnapshot().ActiveNode)
}

func TestStop_IsIdempotentAndDrains(t *testing.T) {
	a, err := orchestrator.Start(twoNodeMachine(), newDeps())
	require.NoError(t, err)
	a.Stop()
	assert.NotPanics(t, func() { a.Stop() })
}

type fakeStorage struct {
	saved map[string]any
}

func (f *fakeStorage) Save(flowID string, blob any) error {
	if f.saved == nil {
		f.saved = map[string]any{}
	}
	f.saved[flowID] = blob
	return nil
}
func (f *fakeStorage) Load(flowID string) (any, bool, error) {
	v, ok := f.saved[flowID]
	return v, ok, nil
}
func (f *fakeStorage) Remove(flowID string) error { delete(f.saved, flowID); return nil }

func TestStart_PersistsSnapshotOnEntry(t *testing.T) {
	storage := &fakeStorage{}
	deps := newDeps()
	deps.Storage = storage
	deps.FlowID = "flow-1"

	a, err := orchestrator.Start(twoNodeMachine(), deps)
	require.NoError(t, err)
	defer a.Stop()

	blob, ok := storage.saved["flow-1"]
	require.True(t, ok)
	m, ok := blob.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "start", m["activeNode"])
}

func TestStart_ResumesFromMatchingSchemaVersion(t *testing.T) {
	storage := &fakeStorage{saved: map[string]any{
		"flow-1": map[string]any{
			"schemaVersion": float64(orchestrator.SchemaVersion),
			"activeNode":    "done",
			"context":       map[string]any{"resumed": true},
		},
	}}
	deps := newDeps()
	deps.Storage = storage
	deps.FlowID = "flow-1"
	deps.Resume = true

	a, err := orchestrator.Start(twoNodeMachine(), deps)
	require.NoError(t, err)
	defer a.Stop()

	snap := a.GetSnapshot()
	assert.Equal(t, "done", snap.ActiveNode)
	assert.Equal(t, true, snap.Context["resumed"])
}

func TestStart_DiscardsOnSchemaVersionMismatch(t *testing.T) {
	storage := &fakeStorage{saved: map[string]any{
		"flow-1": map[string]any{
			"schemaVersion": float64(999),
			"activeNode":    "done",
		},
	}}
	deps := newDeps()
	deps.Storage = storage
	deps.FlowID = "flow-1"
	deps.Resume = true

	a, err := orchestrator.Start(twoNodeMachine(), deps)
	require.NoError(t, err)
	defer a.Stop()

	snap := a.GetSnapshot()
	assert.Equal(t, "start", snap.ActiveNode)
}
