package tmpl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func root() map[string]any {
	return map[string]any{
		"context": map[string]any{
			"name":  "Ada",
			"score": 42,
		},
	}
}

func TestResolve_DoubleBraceExpandsDottedPath(t *testing.T) {
	got := Resolve("hello {{context.name}}", root())
	assert.Equal(t, "hello Ada", got)
}

func TestResolve_LegacySingleBrace(t *testing.T) {
	got := Resolve("score={context.score}", root())
	assert.Equal(t, "score=42", got)
}

func TestResolve_NullishBecomesEmptyString(t *testing.T) {
	got := Resolve("[{{context.missing}}]", root())
	assert.Equal(t, "[]", got)
}

func TestResolve_NonTemplateStringPassesThrough(t *testing.T) {
	got := Resolve("no templates here", root())
	assert.Equal(t, "no templates here", got)
}

func TestResolve_WalksNestedStructures(t *testing.T) {
	in := map[string]any{
		"url":  "/api/{{context.name}}",
		"tags": []any{"{{context.score}}", "static"},
	}

	out := Resolve(in, root()).(map[string]any)

	assert.Equal(t, "/api/Ada", out["url"])
	assert.Equal(t, []any{"42", "static"}, out["tags"])
}

func TestResolve_StructuredTemplateForm(t *testing.T) {
	in := map[string]any{"$template": "context.name"}
	out := Resolve(in, root())
	assert.Equal(t, "Ada", out)
}

func TestResolve_IsPureAndSynchronous(t *testing.T) {
	r := root()
	first := Resolve("{{context.name}}", r)
	second := Resolve("{{context.name}}", r)
	assert.Equal(t, first, second)
}
