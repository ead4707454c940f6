// Package transition implements the Transition resolver (spec §4.F):
// given a current node and an event name, pick a target from a static
// string or a {default, conditions[]} clause, run effects through the
// action runner, and maintain the de-duplicated navigation history.
package transition

import (
	"github.com/flowcraft/orcd/internal/actionrun"
	"github.com/flowcraft/orcd/internal/errclass"
	"github.com/flowcraft/orcd/internal/flowdoc"
	"github.com/flowcraft/orcd/internal/logic"
)

// HistoryEntry is one navigation record (spec §3 Machine Runtime State).
type HistoryEntry struct {
	Node      string
	Cause     string
	Timestamp int64
	AllowBack bool
}

// Resolution is the outcome of resolving a transition: either a target
// node was selected, or the event was silently dropped (no "on" entry),
// or a block/fatal severity aborted the pipeline before any target was
// chosen.
type Resolution struct {
	Dropped bool
	Target  string
	Blocked bool
	Fatal   bool
	Errors  []*errclass.Classified
}

// Resolve implements spec §4.F steps 1-4. now is injected by the caller
// (the orchestrator) rather than read from time.Now, so history
// timestamps stay under the caller's control.
func Resolve(rc *actionrun.RunContext, node *flowdoc.StateNode, event string, ctxRoot map[string]any, arena map[string]*flowdoc.ActionSpec, now int64) Resolution {
	tr, ok := node.On[event]
	if !ok {
		return Resolution{Dropped: true}
	}

	var target string
	if tr.Target.Static != nil {
		target = *tr.Target.Static
	} else if ct := tr.Target.Conditional; ct != nil {
		matched := false
		for _, cond := range ct.Conditions {
			v, err := logic.Eval(cond.If, ctxRoot)
			if err != nil {
				return Resolution{Errors: []*errclass.Classified{errclass.Classify(&errclass.ValidationError{Msg: err.Error()}, nil)}, Blocked: true}
			}
			if truthy(v) {
				out := actionrun.Run(rc, cond.Effects, ctxRoot, arena)
				if out.Blocked {
					return Resolution{Blocked: true, Fatal: out.Fatal, Errors: out.Errors}
				}
				target = cond.To
				matched = true
				break
			}
		}
		if !matched {
			target = ct.Default // compiler guarantees Default is non-empty when Conditions is non-empty
		}
	}

	out := actionrun.Run(rc, tr.Actions, ctxRoot, arena)
	if out.Blocked {
		return Resolution{Blocked: true, Fatal: out.Fatal, Errors: out.Errors}
	}

	return Resolution{Target: target, Errors: out.Errors}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// PushHistory appends node to history tagged with cause, unless it
// would duplicate the current top entry (spec §3: "no duplicate
// consecutive entries").
func PushHistory(history []HistoryEntry, node, cause string, allowBack bool, now int64) []HistoryEntry {
	if len(history) > 0 && history[len(history)-1].Node == node {
		return history
	}
	return append(history, HistoryEntry{Node: node, Cause: cause, Timestamp: now, AllowBack: allowBack})
}

// Back pops the current node off history and returns the node below
// it — the one to re-enter. The top of history is always the active
// node (enterNode pushes on every entry), so popping it alone would
// hand back the node we're already on; an empty stack, a top entry
// that disallows going back, or no entry left beneath it is a no-op,
// returning ("", history, false).
func Back(history []HistoryEntry) (string, []HistoryEntry, bool) {
	if len(history) < 2 {
		return "", history, false
	}
	top := history[len(history)-1]
	if !top.AllowBack {
		return "", history, false
	}
	prev := history[len(history)-2]
	return prev.Node, history[:len(history)-1], true
}
