package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// topLevelKeys are the only keys Parse accepts on the document root.
var topLevelKeys = map[string]bool{
	"id": true, "initial": true, "context": true,
	"states": true, "actions": true, "errorStates": true,
}

func parseRaw(raw []byte) (map[string]any, error) {
	var tree map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, configErrf("invalid JSON document: %v", err)
	}
	for k := range tree {
		if !topLevelKeys[k] {
			return nil, configErrf("unknown top-level key %q", k)
		}
	}
	if tree["states"] == nil {
		return nil, configErrf("document has no states")
	}
	return normalizeNumbers(tree).(map[string]any), nil
}

// normalizeNumbers converts json.Number back to float64 throughout the
// tree, undoing UseNumber so downstream logic/template code sees the
// same types encoding/json would have produced without it. It runs
// right after parsing, before the normalize passes below, so every
// number (integers included) is a float64 by the time they see it.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, vv := range t {
			t[k] = normalizeNumbers(vv)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = normalizeNumbers(vv)
		}
		return t
	default:
		return v
	}
}

// actionArena records every inline action discovered during Normalize,
// keyed by its (possibly freshly assigned) id, so Compile can splice a
// promoted copy into Document.Actions after the strict-decode round
// trip — giving every action, inline or global, a stable telemetry id
// and a single place (Document.Actions) where "use" can resolve it.
type actionArena struct {
	byID map[string]map[string]any
}

func newActionArena() *actionArena {
	return &actionArena{byID: map[string]map[string]any{}}
}

// normalize runs the legacy-form bridge and the anonymous-action
// de-sugaring pass over the raw document tree, in place.
func normalize(tree map[string]any, opts Options, arena *actionArena) error {
	statesAny, ok := tree["states"]
	if !ok {
		return configErrf("document has no states")
	}
	states, ok := statesAny.(map[string]any)
	if !ok {
		return configErrf("states must be an object")
	}
	if err := normalizeStates(states, opts, arena); err != nil {
		return err
	}

	if actionsAny, ok := tree["actions"]; ok {
		actions, ok := actionsAny.(map[string]any)
		if !ok {
			return configErrf("actions must be an object")
		}
		for id, specAny := range actions {
			spec, ok := specAny.(map[string]any)
			if !ok {
				return configErrf("actions.%s must be an object", id)
			}
			if _, hasID := spec["id"]; !hasID {
				spec["id"] = id
			}
			if err := normalizeAction(spec, opts, arena); err != nil {
				return fmt.Errorf("actions.%s: %w", id, err)
			}
		}
	}
	return nil
}

func normalizeStates(states map[string]any, opts Options, arena *actionArena) error {
	for name, nodeAny := range states {
		node, ok := nodeAny.(map[string]any)
		if !ok {
			return configErrf("state %q must be an object", name)
		}
		if err := normalizeStateNode(node, opts, arena); err != nil {
			return fmt.Errorf("state %q: %w", name, err)
		}
	}
	return nil
}

// normalizeStateNode rewrites one state node's legacy forms and
// de-sugars its inline action lists.
func normalizeStateNode(node map[string]any, opts Options, arena *actionArena) error {
	// Legacy bridge: navigation.next ≡ on.NEXT.target
	if navAny, ok := node["navigation"]; ok {
		nav, ok := navAny.(map[string]any)
		if !ok {
			return configErrf("navigation must be an object")
		}
		if next, ok := nav["next"]; ok {
			on, _ := node["on"].(map[string]any)
			if on == nil {
				on = map[string]any{}
			}
			if _, exists := on["NEXT"]; !exists {
				on["NEXT"] = next
			}
			node["on"] = on
		}
		delete(node, "navigation")
	}

	if onAny, ok := node["on"]; ok {
		on, ok := onAny.(map[string]any)
		if !ok {
			return configErrf("on must be an object")
		}
		for event, trAny := range on {
			if err := normalizeTransition(trAny, opts, arena); err != nil {
				return fmt.Errorf("on.%s: %w", event, err)
			}
		}
	}

	if err := normalizeActionList(node, "beforeNext", opts, arena); err != nil {
		return err
	}

	if lcAny, ok := node["lifecycle"]; ok {
		lc, ok := lcAny.(map[string]any)
		if !ok {
			return configErrf("lifecycle must be an object")
		}
		for _, slot := range []string{"pre", "post", "preNavigate", "postNavigate"} {
			if err := normalizeActionList(lc, slot, opts, arena); err != nil {
				return err
			}
		}
	}

	if nested, ok := node["states"].(map[string]any); ok {
		if err := normalizeStates(nested, opts, arena); err != nil {
			return err
		}
	}

	return nil
}

// normalizeTransition rewrites the legacy string-logic "if" form
// inside a transition's conditions (only when opts.LegacyLogic is
// set) and de-sugars its action lists.
func normalizeTransition(trAny any, opts Options, arena *actionArena) error {
	switch tr := trAny.(type) {
	case string:
		return nil // bare target string, nothing to normalize
	case map[string]any:
		if err := normalizeActionList(tr, "actions", opts, arena); err != nil {
			return err
		}
		targetAny, ok := tr["target"]
		if !ok {
			return nil
		}
		target, ok := targetAny.(map[string]any)
		if !ok {
			return nil // bare string target
		}
		condsAny, ok := target["conditions"]
		if !ok {
			return nil
		}
		conds, ok := condsAny.([]any)
		if !ok {
			return configErrf("conditions must be an array")
		}
		for i, cAny := range conds {
			c, ok := cAny.(map[string]any)
			if !ok {
				return configErrf("condition %d must be an object", i)
			}
			if err := normalizeCondition(c, opts, arena); err != nil {
				return err
			}
		}
		return nil
	default:
		return configErrf("transition must be a string or object")
	}
}

func normalizeCondition(c map[string]any, opts Options, arena *actionArena) error {
	if ifAny, ok := c["if"]; ok {
		if s, isString := ifAny.(string); isString {
			if !opts.LegacyLogic {
				return configErrf("legacy string condition %q refused (enable WithLegacyLogic to allow)", s)
			}
			c["if"] = bridgeLegacyStringLogic(s)
		}
	}
	return normalizeActionList(c, "effects", opts, arena)
}

// bridgeLegacyStringLogic turns the legacy equality-against-true
// shorthand "{{x}}" into {"==":[{"var":"x"},true]}, per spec §4.G's
// bounded legacy bridge. The text between the braces is used verbatim
// as the var path; expressions such as "{{x === 'y'}}" are not parsed.
func bridgeLegacyStringLogic(expr string) map[string]any {
	trimmed := trimBraces(expr)
	return map[string]any{"==": []any{map[string]any{"var": trimmed}, true}}
}

func trimBraces(s string) string {
	out := s
	for len(out) > 1 && out[0] == '{' && out[len(out)-1] == '}' {
		out = out[1 : len(out)-1]
	}
	return out
}

// normalizeActionList de-sugars each inline action object under
// container[field] (a []any of action specs) by assigning it a stable
// id if it doesn't already have one, and records it in arena.
func normalizeActionList(container map[string]any, field string, opts Options, arena *actionArena) error {
	listAny, ok := container[field]
	if !ok {
		return nil
	}
	list, ok := listAny.([]any)
	if !ok {
		return configErrf("%s must be an array", field)
	}
	for i, itemAny := range list {
		item, ok := itemAny.(map[string]any)
		if !ok {
			return configErrf("%s[%d] must be an object", field, i)
		}
		if err := normalizeAction(item, opts, arena); err != nil {
			return fmt.Errorf("%s[%d]: %w", field, i, err)
		}
	}
	return nil
}

func normalizeAction(item map[string]any, opts Options, arena *actionArena) error {
	if _, hasID := item["id"]; !hasID {
		item["id"] = newActionID()
	}
	if _, hasType := item["type"]; !hasType {
		return configErrf("action %v is missing required field \"type\"", item["id"])
	}
	id, _ := item["id"].(string)
	arena.byID[id] = item

	for _, field := range []string{"rollback", "parallel"} {
		if err := normalizeActionList(item, field, opts, arena); err != nil {
			return err
		}
	}
	return nil
}
