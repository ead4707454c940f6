// Package logic evaluates a closed set of JSON-logic operators against
// a data root. It is pure, synchronous, and deterministic: every
// failure is returned as a typed Error, never a bare panic or a host
// exception escaping the package.
package logic

import (
	"fmt"
	"strings"

	"github.com/flowcraft/orcd/internal/pathutil"
)

// Error is the sole error type the evaluator returns.
type Error struct {
	Kind string // "unknown-op" | "arity" | "type"
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("logic: %s (%s): %s", e.Kind, e.Op, e.Msg)
}

// knownOps is the closed operator set from spec §4.C.
var knownOps = map[string]bool{
	"var": true,
	"==": true, "===": true, "!=": true, "!==": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"and": true, "or": true, "!": true, "!!": true,
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"in": true, "cat": true, "length": true,
	"if": true,
}

// ValidateTree statically walks a JSON-logic tree and rejects any
// operator outside the closed set, without evaluating it against a
// data root. Used by the compiler to catch unknown operators at
// compile time (spec §4.G validate phase), before any runtime data
// exists to evaluate against.
func ValidateTree(tree any) error {
	switch t := tree.(type) {
	case map[string]any:
		if len(t) != 1 {
			return &Error{Kind: "type", Op: "<object>", Msg: "logic node must have exactly one operator key"}
		}
		for op, args := range t {
			if !knownOps[op] {
				return &Error{Kind: "unknown-op", Op: op, Msg: "operator not in the supported set"}
			}
			if op == "var" {
				continue
			}
			list, ok := args.([]any)
			if !ok {
				list = []any{args}
			}
			for _, a := range list {
				if err := ValidateTree(a); err != nil {
					return err
				}
			}
		}
		return nil
	case []any:
		for _, v := range t {
			if err := ValidateTree(v); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func arityErr(op, msg string) error { return &Error{Kind: "arity", Op: op, Msg: msg} }
func typeErr(op, msg string) error  { return &Error{Kind: "type", Op: op, Msg: msg} }

// Eval evaluates a JSON-logic tree against root. Trees are represented
// as the values encoding/json produces: map[string]any, []any,
// scalars. A bare scalar or array literal evaluates to itself.
func Eval(tree any, root any) (any, error) {
	node, ok := tree.(map[string]any)
	if !ok {
		return tree, nil
	}
	if len(node) != 1 {
		return nil, &Error{Kind: "type", Op: "<object>", Msg: "logic node must have exactly one operator key"}
	}

	for op, rawArgs := range node {
		args, err := normalizeArgs(op, rawArgs)
		if err != nil {
			return nil, err
		}
		return apply(op, args, root)
	}
	panic("unreachable")
}

// normalizeArgs gives every operator a uniform []any operand list.
// JSON-logic allows a bare non-array operand as shorthand for a
// single-element list, except for "var" which keeps its raw form so
// the var handler can distinguish {var:"x"} from {var:["x", def]}.
func normalizeArgs(op string, raw any) ([]any, error) {
	if op == "var" {
		return []any{raw}, nil
	}
	if arr, ok := raw.([]any); ok {
		return arr, nil
	}
	return []any{raw}, nil
}

func apply(op string, args []any, root any) (any, error) {
	switch op {
	case "var":
		return evalVar(args[0], root)

	case "==":
		return binaryCompare(op, args, root, func(a, b any) bool { return looseEqual(a, b) })
	case "===":
		return binaryCompare(op, args, root, func(a, b any) bool { return strictEqual(a, b) })
	case "!=":
		return binaryCompare(op, args, root, func(a, b any) bool { return !looseEqual(a, b) })
	case "!==":
		return binaryCompare(op, args, root, func(a, b any) bool { return !strictEqual(a, b) })
	case "<":
		return numericCompare(op, args, root, func(a, b float64) bool { return a < b })
	case "<=":
		return numericCompare(op, args, root, func(a, b float64) bool { return a <= b })
	case ">":
		return numericCompare(op, args, root, func(a, b float64) bool { return a > b })
	case ">=":
		return numericCompare(op, args, root, func(a, b float64) bool { return a >= b })

	case "and":
		return evalAnd(args, root)
	case "or":
		return evalOr(args, root)
	case "!":
		return evalNot(op, args, root)
	case "!!":
		return evalBangBang(op, args, root)

	case "+":
		return arith(op, args, root, 0, func(acc, v float64) float64 { return acc + v })
	case "-":
		return evalMinus(args, root)
	case "*":
		return arith(op, args, root, 1, func(acc, v float64) float64 { return acc * v })
	case "/":
		return evalDivide(args, root)
	case "%":
		return evalMod(args, root)

	case "in":
		return evalIn(op, args, root)
	case "cat":
		return evalCat(args, root)
	case "length":
		return evalLength(op, args, root)

	case "if":
		return evalIf(args, root)

	default:
		return nil, &Error{Kind: "unknown-op", Op: op, Msg: "operator not in the supported set"}
	}
}

func evalVar(raw any, root any) (any, error) {
	switch v := raw.(type) {
	case []any:
		if len(v) == 0 {
			return root, nil
		}
		path, _ := v[0].(string)
		var def any
		if len(v) > 1 {
			def = v[1]
		}
		if val, ok := pathutil.Get(root, path); ok {
			return val, nil
		}
		return def, nil
	case string:
		if v == "" {
			return root, nil
		}
		val, ok := pathutil.Get(root, v)
		if !ok {
			return nil, nil
		}
		return val, nil
	case nil:
		return root, nil
	default:
		return nil, typeErr("var", "var argument must be a string or [string, default]")
	}
}

func evalArgs(args []any, root any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := Eval(a, root)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func binaryCompare(op string, args []any, root any, cmp func(a, b any) bool) (any, error) {
	vals, err := evalArgs(args, root)
	if err != nil {
		return nil, err
	}
	if len(vals) != 2 {
		return nil, arityErr(op, "requires exactly 2 operands")
	}
	return cmp(vals[0], vals[1]), nil
}

func numericCompare(op string, args []any, root any, cmp func(a, b float64) bool) (any, error) {
	vals, err := evalArgs(args, root)
	if err != nil {
		return nil, err
	}
	if len(vals) != 2 {
		return nil, arityErr(op, "requires exactly 2 operands")
	}
	a, ok1 := toFloat(vals[0])
	b, ok2 := toFloat(vals[1])
	if !ok1 || !ok2 {
		return nil, typeErr(op, "operands must be numeric")
	}
	return cmp(a, b), nil
}

func evalAnd(args []any, root any) (any, error) {
	var last any = true
	for _, a := range args {
		v, err := Eval(a, root)
		if err != nil {
			return nil, err
		}
		last = v
		if !truthy(v) {
			return v, nil
		}
	}
	return last, nil
}

func evalOr(args []any, root any) (any, error) {
	var last any
	for _, a := range args {
		v, err := Eval(a, root)
		if err != nil {
			return nil, err
		}
		last = v
		if truthy(v) {
			return v, nil
		}
	}
	return last, nil
}

func evalNot(op string, args []any, root any) (any, error) {
	vals, err := evalArgs(args, root)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, arityErr(op, "requires exactly 1 operand")
	}
	return !truthy(vals[0]), nil
}

func evalBangBang(op string, args []any, root any) (any, error) {
	vals, err := evalArgs(args, root)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, arityErr(op, "requires exactly 1 operand")
	}
	return truthy(vals[0]), nil
}

func arith(op string, args []any, root any, identity float64, fold func(acc, v float64) float64) (any, error) {
	vals, err := evalArgs(args, root)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, arityErr(op, "requires at least 1 operand")
	}
	acc := identity
	if op == "+" {
		acc = 0
	}
	first := true
	for _, v := range vals {
		f, ok := toFloat(v)
		if !ok {
			return nil, typeErr(op, "operands must be numeric")
		}
		if first && op == "*" {
			acc = f
			first = false
			continue
		}
		acc = fold(acc, f)
		first = false
	}
	return acc, nil
}

func evalMinus(args []any, root any) (any, error) {
	vals, err := evalArgs(args, root)
	if err != nil {
		return nil, err
	}
	if len(vals) == 1 {
		f, ok := toFloat(vals[0])
		if !ok {
			return nil, typeErr("-", "operand must be numeric")
		}
		return -f, nil
	}
	if len(vals) != 2 {
		return nil, arityErr("-", "requires 1 or 2 operands")
	}
	a, ok1 := toFloat(vals[0])
	b, ok2 := toFloat(vals[1])
	if !ok1 || !ok2 {
		return nil, typeErr("-", "operands must be numeric")
	}
	return a - b, nil
}

func evalDivide(args []any, root any) (any, error) {
	vals, err := evalArgs(args, root)
	if err != nil {
		return nil, err
	}
	if len(vals) != 2 {
		return nil, arityErr("/", "requires exactly 2 operands")
	}
	a, ok1 := toFloat(vals[0])
	b, ok2 := toFloat(vals[1])
	if !ok1 || !ok2 {
		return nil, typeErr("/", "operands must be numeric")
	}
	if b == 0 {
		return nil, typeErr("/", "division by zero")
	}
	return a / b, nil
}

func evalMod(args []any, root any) (any, error) {
	vals, err := evalArgs(args, root)
	if err != nil {
		return nil, err
	}
	if len(vals) != 2 {
		return nil, arityErr("%", "requires exactly 2 operands")
	}
	a, ok1 := toFloat(vals[0])
	b, ok2 := toFloat(vals[1])
	if !ok1 || !ok2 {
		return nil, typeErr("%", "operands must be numeric")
	}
	if b == 0 {
		return nil, typeErr("%", "modulo by zero")
	}
	ai, bi := int64(a), int64(b)
	return float64(ai % bi), nil
}

func evalIn(op string, args []any, root any) (any, error) {
	vals, err := evalArgs(args, root)
	if err != nil {
		return nil, err
	}
	if len(vals) != 2 {
		return nil, arityErr(op, "requires exactly 2 operands")
	}
	needle := vals[0]
	switch hay := vals[1].(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return nil, typeErr(op, "needle must be a string when haystack is a string")
		}
		return strings.Contains(hay, s), nil
	case []any:
		for _, v := range hay {
			if looseEqual(v, needle) {
				return true, nil
			}
		}
		return false, nil
	default:
		return nil, typeErr(op, "haystack must be a string or array")
	}
}

func evalCat(args []any, root any) (any, error) {
	vals, err := evalArgs(args, root)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, v := range vals {
		sb.WriteString(toDisplayString(v))
	}
	return sb.String(), nil
}

func evalLength(op string, args []any, root any) (any, error) {
	vals, err := evalArgs(args, root)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, arityErr(op, "requires exactly 1 operand")
	}
	switch v := vals[0].(type) {
	case string:
		return float64(len(v)), nil
	case []any:
		return float64(len(v)), nil
	case nil:
		return float64(0), nil
	default:
		return nil, typeErr(op, "operand must be an array or string")
	}
}

// evalIf implements the flattened [cond, then, cond, then, ..., else]
// form. Arguments are evaluated lazily: only the winning branch (and
// the conditions preceding it) are evaluated.
func evalIf(args []any, root any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	i := 0
	for i+1 < len(args) {
		cond, err := Eval(args[i], root)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return Eval(args[i+1], root)
		}
		i += 2
	}
	if i < len(args) {
		return Eval(args[i], root)
	}
	return nil, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toDisplayString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func strictEqual(a, b any) bool {
	af, aIsNum := toFloat(a)
	bf, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		_, aIsBool := a.(bool)
		_, bIsBool := b.(bool)
		if aIsBool != bIsBool {
			return false
		}
		return af == bf
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return as == bs
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return false
}

func looseEqual(a, b any) bool {
	if strictEqual(a, b) {
		return true
	}
	af, aIsNum := toFloat(a)
	bf, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return af == bf
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr != bIsStr {
		if aIsStr {
			if f, ok := parseFloat(as); ok {
				if bf2, ok2 := toFloat(b); ok2 {
					return f == bf2
				}
			}
		}
		if bIsStr {
			if f, ok := parseFloat(bs); ok {
				if af2, ok2 := toFloat(a); ok2 {
					return f == af2
				}
			}
		}
	}
	return false
}

func parseFloat(s string) (float64, bool) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	if err != nil {
		return 0, false
	}
	return f, true
}
