package world

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a G attribute value: nil, string, float64, bool, List, Dict, or
// Ref. G source text is an ordinary string; invocation, not storage, makes it
// code.
type Value any

// List is an ordered sequence of values.
type List []Value

// Dict maps string keys to values.
type Dict map[string]Value

// Ref is an object reference by ID (including the leading '#').
type Ref string

// CloneValue deep-copies container values; scalars are returned as-is.
func CloneValue(v Value) Value {
	switch t := v.(type) {
	case List:
		c := make(List, len(t))
		for i, e := range t {
			c[i] = CloneValue(e)
		}
		return c
	case Dict:
		c := make(Dict, len(t))
		for k, e := range t {
			c[k] = CloneValue(e)
		}
		return c
	default:
		return v
	}
}

// ToString renders a value in G's string-centric form: nil is the empty
// string, lists are bracketed and space-joined, numbers drop a trailing ".0".
func ToString(v Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case Ref:
		return string(t)
	case List:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = elementString(e)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case Dict:
		parts := make([]string, 0, len(t))
		for k, e := range t {
			parts = append(parts, k+" "+elementString(e))
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// elementString quotes strings inside list renderings so that the result
// re-parses to the same list.
func elementString(v Value) string {
	if s, ok := v.(string); ok {
		if s == "" || strings.ContainsAny(s, " \t[]\",") {
			return strconv.Quote(s)
		}
		return s
	}
	return ToString(v)
}

// ToNumber coerces per G's "parse decimal, else 0" rule.
func ToNumber(v Value) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Truthy implements G truthiness: false, 0, nil and "" are false.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != ""
	case List:
		return len(t) > 0
	case Dict:
		return len(t) > 0
	default:
		return true
	}
}

// Equal is value-wise for primitives and identity (ID) for object handles.
// Mixed numeric/string comparisons go through numeric coercion when both
// sides look numeric, string comparison otherwise.
func Equal(a, b Value) bool {
	switch at := a.(type) {
	case Ref:
		bt, ok := b.(Ref)
		return ok && at == bt
	case List:
		bt, ok := b.(List)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !Equal(at[i], bt[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	case float64, int:
		return ToNumber(a) == ToNumber(b)
	case bool:
		bb, ok := b.(bool)
		return ok && at == bb
	default:
		return ToString(a) == ToString(b)
	}
}
