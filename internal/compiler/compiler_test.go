package compiler_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcraft/orcd/internal/compiler"
)

const minimalDoc = `{
	"id": "checkout",
	"initial": "start",
	"states": {
		"start": {
			"on": { "NEXT": "done" }
		},
		"done": { "type": "final" }
	}
}`

func TestCompile_MinimalDocument(t *testing.T) {
	m, err := compiler.Compile([]byte(minimalDoc))
	require.NoError(t, err)
	assert.Equal(t, []string{"done", "start"}, m.Paths())
	n, ok := m.Node("start")
	require.True(t, ok)
	assert.Contains(t, n.On, "NEXT")
}

func TestCompile_UnknownTopLevelKeyRejected(t *testing.T) {
	_, err := compiler.Compile([]byte(`{"id":"x","initial":"a","states":{"a":{}},"bogus":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown top-level key")
}

func TestCompile_MissingInitialNode(t *testing.T) {
	_, err := compiler.Compile([]byte(`{
		"id": "x", "initial": "nope",
		"states": { "a": { "type": "final" } }
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial")
}

func TestCompile_TransitionTargetMustExist(t *testing.T) {
	_, err := compiler.Compile([]byte(`{
		"id": "x", "initial": "a",
		"states": {
			"a": { "on": { "NEXT": "missing" } }
		}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
}

func TestCompile_CompoundNodeRequiresDescendantInitial(t *testing.T) {
	_, err := compiler.Compile([]byte(`{
		"id": "x", "initial": "a",
		"states": {
			"a": {
				"type": "compound",
				"initial": "missing",
				"states": { "b": { "type": "final" } }
			}
		}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "descendant")
}

func TestCompile_ConditionalTargetWithoutDefaultRejected(t *testing.T) {
	_, err := compiler.Compile([]byte(`{
		"id": "x", "initial": "a",
		"states": {
			"a": {
				"on": {
					"NEXT": {
						"target": {
							"conditions": [
								{ "if": {"==": [{"var":"ok"}, true]}, "to": "b" }
							]
						}
					}
				}
			},
			"b": { "type": "final" }
		}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default is required")
}

func TestCompile_ConditionalTargetWithDefault(t *testing.T) {
	m, err := compiler.Compile([]byte(`{
		"id": "x", "initial": "a",
		"states": {
			"a": {
				"on": {
					"NEXT": {
						"target": {
							"default": "b",
							"conditions": [
								{ "if": {"==": [{"var":"ok"}, true]}, "to": "c" }
							]
						}
					}
				}
			},
			"b": { "type": "final" },
			"c": { "type": "final" }
		}
	}`))
	require.NoError(t, err)
	n, _ := m.Node("a")
	assert.True(t, n.On["NEXT"].Target.IsConditional())
}

func TestCompile_UnknownLogicOperatorRejected(t *testing.T) {
	_, err := compiler.Compile([]byte(`{
		"id": "x", "initial": "a",
		"states": {
			"a": {
				"on": {
					"NEXT": {
						"target": {
							"default": "b",
							"conditions": [
								{ "if": {"nope": [1,2]}, "to": "b" }
							]
						}
					}
				}
			},
			"b": { "type": "final" }
		}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown-op")
}

func TestCompile_LegacyNavigationBridge(t *testing.T) {
	m, err := compiler.Compile([]byte(`{
		"id": "x", "initial": "a",
		"states": {
			"a": { "navigation": { "next": "b" } },
			"b": { "type": "final" }
		}
	}`))
	require.NoError(t, err)
	n, _ := m.Node("a")
	require.Contains(t, n.On, "NEXT")
	assert.Equal(t, "b", *n.On["NEXT"].Target.Static)
}

func TestCompile_LegacyStringConditionRequiresOptIn(t *testing.T) {
	doc := []byte(`{
		"id": "x", "initial": "a",
		"states": {
			"a": {
				"on": {
					"NEXT": {
						"target": {
							"default": "b",
							"conditions": [ { "if": "{{flag}}", "to": "c" } ]
						}
					}
				}
			},
			"b": { "type": "final" },
			"c": { "type": "final" }
		}
	}`)

	_, err := compiler.Compile(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "legacy string condition")

	m, err := compiler.Compile(doc, compiler.WithLegacyLogic(true))
	require.NoError(t, err)
	n, _ := m.Node("a")
	cond := n.On["NEXT"].Target.Conditional.Conditions[0]
	asMap, ok := cond.If.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, asMap, "==")
}

func TestCompile_AnonymousActionsGetStableIDs(t *testing.T) {
	m, err := compiler.Compile([]byte(`{
		"id": "x", "initial": "a",
		"states": {
			"a": {
				"beforeNext": [ { "type": "assign", "to": "x", "value": 1 } ],
				"on": { "NEXT": "b" }
			},
			"b": { "type": "final" }
		}
	}`))
	require.NoError(t, err)
	n, _ := m.Node("a")
	require.Len(t, n.BeforeNext, 1)
	id := n.BeforeNext[0].ID
	assert.True(t, strings.HasPrefix(id, "anon-"))
	assert.Contains(t, m.Actions, id)
}

func TestCompile_UseReferenceMustResolve(t *testing.T) {
	_, err := compiler.Compile([]byte(`{
		"id": "x", "initial": "a",
		"states": {
			"a": {
				"beforeNext": [ { "type": "use", "use": "missing-action" } ],
				"on": { "NEXT": "b" }
			},
			"b": { "type": "final" }
		}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not resolve")
}

func TestCompile_UseCycleDetected(t *testing.T) {
	_, err := compiler.Compile([]byte(`{
		"id": "x", "initial": "a",
		"states": { "a": { "type": "final" } },
		"actions": {
			"loop-a": { "type": "use", "use": "loop-b" },
			"loop-b": { "type": "use", "use": "loop-a" }
		}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use-cycle detected")
}

func TestCompile_InvokeTypeMustBeRegisteredWhenCheckerSupplied(t *testing.T) {
	doc := []byte(`{
		"id": "x", "initial": "a",
		"states": {
			"a": { "invoke": [ { "id": "i1", "type": "payments.charge" } ], "on": {"NEXT":"b"} },
			"b": { "type": "final" }
		}
	}`)

	_, err := compiler.Compile(doc, compiler.WithServiceChecker(fakeChecker{known: nil}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a registered service")

	_, err = compiler.Compile(doc, compiler.WithServiceChecker(fakeChecker{known: map[string]bool{"payments.charge": true}}))
	require.NoError(t, err)
}

func TestCompile_IsIdempotentOnStructure(t *testing.T) {
	m1, err := compiler.Compile([]byte(minimalDoc))
	require.NoError(t, err)
	m2, err := compiler.Compile([]byte(minimalDoc))
	require.NoError(t, err)
	assert.Equal(t, m1.Paths(), m2.Paths())
	assert.Equal(t, m1.Doc.Initial, m2.Doc.Initial)
}

type fakeChecker struct{ known map[string]bool }

func (f fakeChecker) Has(namespace, name string) bool { return f.known[name] }
