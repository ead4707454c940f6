// Package tmpl expands {{dotted.path}} (and legacy {dotted.path})
// placeholders inside strings and structurally-typed values against a
// data root. It never evaluates code — expressions are strictly
// dotted paths resolved via pathutil.Get.
package tmpl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flowcraft/orcd/internal/pathutil"
)

var (
	doubleBrace = regexp.MustCompile(`\{\{([^{}]*)\}\}`)
	singleBrace = regexp.MustCompile(`\{([^{}]*)\}`)
)

// TemplateKey is the discriminator for the structurally-typed template
// form: {"$template": "a.b.c"}.
const TemplateKey = "$template"

// Resolve expands templated strings anywhere inside value (recursing
// through maps and slices) against root. Non-template strings and
// non-string scalars pass through unchanged.
func Resolve(value any, root any) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, root)
	case map[string]any:
		if expr, ok := structuredTemplate(v); ok {
			return stringify(pathutil.GetOr(root, strings.TrimSpace(expr), ""))
		}
		out := make(map[string]any, len(v))
		for k, vv := range v {
			out[k] = Resolve(vv, root)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			out[i] = Resolve(vv, root)
		}
		return out
	default:
		return value
	}
}

func structuredTemplate(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	expr, ok := m[TemplateKey]
	if !ok {
		return "", false
	}
	s, ok := expr.(string)
	return s, ok
}

func resolveString(s string, root any) string {
	if !strings.Contains(s, "{") {
		return s
	}

	// Double-brace form takes precedence; the legacy single-brace form
	// is expanded only when the double-brace pass changed nothing.
	expanded := doubleBrace.ReplaceAllStringFunc(s, func(m string) string {
		expr := doubleBrace.FindStringSubmatch(m)[1]
		return lookup(root, expr)
	})

	if expanded == s {
		expanded = singleBrace.ReplaceAllStringFunc(s, func(m string) string {
			expr := singleBrace.FindStringSubmatch(m)[1]
			return lookup(root, expr)
		})
	}

	return expanded
}

func lookup(root any, expr string) string {
	v, ok := pathutil.Get(root, strings.TrimSpace(expr))
	if !ok {
		return ""
	}
	return stringify(v)
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
