package compiler

import (
	"fmt"
	"strings"

	"github.com/flowcraft/orcd/internal/flowdoc"
	"github.com/flowcraft/orcd/internal/logic"
)

func validate(m *Machine, opts Options) error {
	if m.Doc.ID == "" {
		return configErrf("document id is required")
	}
	if m.Doc.Initial == "" {
		return configErrf("document initial is required")
	}
	if _, ok := m.Node(m.Doc.Initial); !ok {
		return configErrf("initial %q does not resolve to an existing state", m.Doc.Initial)
	}

	for path, node := range m.nodesByPath {
		if node.EffectiveType() == flowdoc.NodeCompound {
			if node.Initial == "" {
				return configErrf("compound state %q requires an initial child", path)
			}
			childPath := path + "." + node.Initial
			if _, ok := m.Node(childPath); !ok {
				return configErrf("compound state %q initial %q is not a descendant", path, node.Initial)
			}
		}

		for event, tr := range node.On {
			if err := validateTransition(m, path, event, tr); err != nil {
				return err
			}
		}
		if err := validateActionList(m, node.BeforeNext); err != nil {
			return fmt.Errorf("state %q beforeNext: %w", path, err)
		}
		for _, slot := range []struct {
			name string
			list []*flowdoc.ActionSpec
		}{
			{"pre", node.Lifecycle.Pre}, {"post", node.Lifecycle.Post},
			{"preNavigate", node.Lifecycle.PreNavigate}, {"postNavigate", node.Lifecycle.PostNavigate},
		} {
			if err := validateActionList(m, slot.list); err != nil {
				return fmt.Errorf("state %q lifecycle.%s: %w", path, slot.name, err)
			}
		}
		for _, inv := range node.Invoke {
			if opts.Services != nil && !opts.Services.Has("services", inv.Type) {
				return configErrf("state %q invoke %q: type %q is not a registered service", path, inv.ID, inv.Type)
			}
		}
	}

	if err := validateUseCycles(m); err != nil {
		return err
	}

	return nil
}

func validateTransition(m *Machine, path, event string, tr flowdoc.Transition) error {
	if tr.Target.Static != nil {
		if _, ok := m.Node(*tr.Target.Static); !ok {
			return configErrf("state %q on.%s target %q does not exist", path, event, *tr.Target.Static)
		}
	} else if ct := tr.Target.Conditional; ct != nil {
		if len(ct.Conditions) > 0 && ct.Default == "" {
			return configErrf("state %q on.%s: default is required when conditions are present", path, event)
		}
		if ct.Default != "" {
			if _, ok := m.Node(ct.Default); !ok {
				return configErrf("state %q on.%s default %q does not exist", path, event, ct.Default)
			}
		}
		for i, cond := range ct.Conditions {
			if _, ok := m.Node(cond.To); !ok {
				return configErrf("state %q on.%s condition[%d] target %q does not exist", path, event, i, cond.To)
			}
			if err := logic.ValidateTree(cond.If); err != nil {
				return fmt.Errorf("state %q on.%s condition[%d]: %w", path, event, i, err)
			}
			if err := validateActionList(m, cond.Effects); err != nil {
				return fmt.Errorf("state %q on.%s condition[%d] effects: %w", path, event, i, err)
			}
		}
	} else {
		return configErrf("state %q on.%s has no target", path, event)
	}

	return validateActionList(m, tr.Actions)
}

func validateActionList(m *Machine, list []*flowdoc.ActionSpec) error {
	for _, a := range list {
		if err := validateAction(m, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(m *Machine, a *flowdoc.ActionSpec) error {
	if a == nil {
		return nil
	}
	if a.Type == "use" {
		if _, ok := m.Actions[a.Use]; !ok {
			return configErrf("action %q: use %q does not resolve", a.ID, a.Use)
		}
	}
	if a.Type == "parallel" {
		if err := validateActionList(m, a.Parallel); err != nil {
			return err
		}
	}
	return validateActionList(m, a.Rollback)
}

// validateUseCycles walks every global action's "use" edges looking
// for a cycle, adapted from the teacher's DAG cycle detector
// (internal/pipeline/dag.go DAGValidator.detectCycle) generalized from
// step-dependency edges to action-reference edges.
func validateUseCycles(m *Machine) error {
	visited := map[string]bool{}
	stack := map[string]bool{}

	var visit func(id string, chain []string) error
	visit = func(id string, chain []string) error {
		if stack[id] {
			return configErrf("use-cycle detected: %s -> %s", strings.Join(chain, " -> "), id)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		stack[id] = true
		defer delete(stack, id)

		spec, ok := m.Actions[id]
		if !ok || spec.Type != "use" {
			return nil
		}
		return visit(spec.Use, append(chain, id))
	}

	for id := range m.Actions {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}
