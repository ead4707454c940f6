package tui_test

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcraft/orcd/internal/cache"
	"github.com/flowcraft/orcd/internal/flowdoc"
	"github.com/flowcraft/orcd/internal/orchestrator"
	"github.com/flowcraft/orcd/internal/registry"
	"github.com/flowcraft/orcd/internal/render/tui"
)

type fakeMachine struct{ nodes map[string]*flowdoc.StateNode }

func (f *fakeMachine) Node(path string) (*flowdoc.StateNode, bool) { n, ok := f.nodes[path]; return n, ok }
func (f *fakeMachine) DocInitial() string                          { return "start" }
func (f *fakeMachine) ErrorStates() *flowdoc.ErrorStates            { return nil }
func (f *fakeMachine) GlobalActions() map[string]*flowdoc.ActionSpec { return nil }

func newActor(t *testing.T) *orchestrator.Actor {
	t.Helper()
	m := &fakeMachine{nodes: map[string]*flowdoc.StateNode{"start": {}}}
	actor, err := orchestrator.Start(m, orchestrator.Deps{Registry: registry.New(), Cache: cache.New(0)})
	require.NoError(t, err)
	t.Cleanup(actor.Stop)
	return actor
}

func TestModel_ViewRendersActiveNode(t *testing.T) {
	actor := newActor(t)
	m := tui.New(actor)
	view := m.View()
	assert.Contains(t, view, "start")
	assert.Contains(t, view, "active")
}

func TestModel_QuitKeyStopsTheProgram(t *testing.T) {
	actor := newActor(t)
	m := tui.New(actor)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, "", m.View())
}

func TestModel_SnapshotMsgUpdatesView(t *testing.T) {
	actor := newActor(t)
	m := tui.New(actor)
	updated, _ := m.Update(tui.SnapshotMsg(orchestrator.Snapshot{ActiveNode: "done", NodeState: orchestrator.Final}))
	mm := updated.(*tui.Model)
	assert.Contains(t, mm.View(), "done")
}
