// Package tui is the default terminal renderer for `orcd run`: a
// bubbletea program mirroring an orchestrator.Snapshot, adapted from
// the teacher's internal/display.ProgressModel (same tea.Model
// Init/Update/View shape, same tick-driven refresh), falling back to a
// plain-line renderer when stdout is not a TTY (internal/display's
// TerminalInfo.IsTTY gate, via golang.org/x/term).
package tui

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/flowcraft/orcd/internal/orchestrator"
)

// TickMsg drives periodic redraws, mirroring the teacher's TickMsg.
type TickMsg time.Time

// SnapshotMsg carries a fresh orchestrator.Snapshot into Update.
type SnapshotMsg orchestrator.Snapshot

// Model is the bubbletea model for one running flow.
type Model struct {
	actor *orchestrator.Actor
	snap  orchestrator.Snapshot
	quit  bool
}

// New wires a Model to an already-started Actor, seeded with its
// current snapshot. It does not subscribe; Wire does that once the
// tea.Program exists.
func New(actor *orchestrator.Actor) *Model {
	return &Model{actor: actor, snap: actor.GetSnapshot()}
}

// Wire subscribes program to actor snapshots — call after
// tea.NewProgram so Program.Send is available.
func Wire(program *tea.Program, actor *orchestrator.Actor) {
	actor.Subscribe(func(snap orchestrator.Snapshot) {
		program.Send(SnapshotMsg(snap))
	})
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m *Model) Init() tea.Cmd { return tickCmd() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quit = true
			return m, tea.Quit
		case "left", "b":
			m.actor.Send("BACK", nil)
		}
	case TickMsg:
		return m, tickCmd()
	case SnapshotMsg:
		m.snap = orchestrator.Snapshot(msg)
		if m.snap.NodeState == orchestrator.Final {
			return m, tea.Quit
		}
	}
	return m, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func (m *Model) View() string {
	if m.quit {
		return ""
	}
	header := headerStyle.Render(fmt.Sprintf("node: %s", m.snap.ActiveNode))
	state := dimStyle.Render(fmt.Sprintf("state: %s", m.snap.NodeState))

	var errs string
	if len(m.snap.Errors) > 0 {
		errs = "\n" + errorStyle.Render(fmt.Sprintf("last error: %s", m.snap.Errors[len(m.snap.Errors)-1].Error()))
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, state, errs, "", dimStyle.Render("q to quit, b to go back"))
}

// IsTTY reports whether stdout is a terminal, gating whether Run uses
// the full bubbletea program or the plain-line fallback.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Run drives the renderer for actor: a full bubbletea program on a
// TTY, or a one-line-per-transition fallback otherwise.
func Run(actor *orchestrator.Actor) error {
	if !IsTTY() {
		return runPlain(actor)
	}

	model := New(actor)
	program := tea.NewProgram(model)
	Wire(program, actor)
	_, err := program.Run()
	return err
}

func runPlain(actor *orchestrator.Actor) error {
	done := make(chan struct{})
	actor.Subscribe(func(snap orchestrator.Snapshot) {
		fmt.Printf("[%s] %s\n", snap.NodeState, snap.ActiveNode)
		if snap.NodeState == orchestrator.Final || snap.NodeState == orchestrator.ErrorState {
			close(done)
		}
	})
	<-done
	return nil
}
