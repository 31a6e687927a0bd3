package docstore

import (
	"encoding/json"
	"math"
	"reflect"
)

// cloneValue returns a deep copy of a JSON-model value.
// Values outside the JSON model (structs, typed slices...) are normalized through encoding/json.
func cloneValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64, float32, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return normalize(t)
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// normalize round-trips v through JSON so it only contains JSON-model types.
// Values that cannot be encoded become nil.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// toEntity converts an arbitrary caller value into a private Entity copy.
func toEntity(v any) (Entity, error) {
	if m, ok := v.(map[string]any); ok {
		if m == nil {
			return nil, &ShapeError{Where: "entity", Kind: "null"}
		}
		return cloneMap(m), nil
	}
	n := normalize(v)
	obj, ok := n.(map[string]any)
	if !ok {
		return nil, &ShapeError{Where: "entity", Kind: jsonKind(n)}
	}
	return obj, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "bool"
	}
	if _, ok := toNumber(v); ok {
		return "number"
	}
	return reflect.TypeOf(v).String()
}

// number holds a JSON number in the Go representation that keeps it exact.
type number struct {
	kind numKind
	i    int64
	u    uint64
	f    float64
}

type numKind int

const (
	numInt numKind = iota
	numUint
	numFloat
)

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case float64:
		return number{kind: numFloat, f: n}, true
	case float32:
		return number{kind: numFloat, f: float64(n)}, true
	case int:
		return number{kind: numInt, i: int64(n)}, true
	case int8:
		return number{kind: numInt, i: int64(n)}, true
	case int16:
		return number{kind: numInt, i: int64(n)}, true
	case int32:
		return number{kind: numInt, i: int64(n)}, true
	case int64:
		return number{kind: numInt, i: n}, true
	case uint:
		return number{kind: numUint, u: uint64(n)}, true
	case uint8:
		return number{kind: numUint, u: uint64(n)}, true
	case uint16:
		return number{kind: numUint, u: uint64(n)}, true
	case uint32:
		return number{kind: numUint, u: uint64(n)}, true
	case uint64:
		return number{kind: numUint, u: n}, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return number{kind: numInt, i: i}, true
		}
		f, err := n.Float64()
		return number{kind: numFloat, f: f}, err == nil
	}
	return number{}, false
}

// numbersEqual compares integers exactly. A float equals an integer only when it
// is integral and converts to exactly that integer.
func numbersEqual(a, b number) bool {
	if a.kind > b.kind {
		a, b = b, a
	}
	switch {
	case a.kind == numInt && b.kind == numInt:
		return a.i == b.i
	case a.kind == numUint && b.kind == numUint:
		return a.u == b.u
	case a.kind == numInt && b.kind == numUint:
		return a.i >= 0 && uint64(a.i) == b.u
	case a.kind == numFloat:
		return a.f == b.f && !math.IsNaN(a.f)
	}
	// b is a float, a an integer.
	f := b.f
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return false
	}
	if a.kind == numInt {
		return f >= -(1<<63) && f < (1<<63) && int64(f) == a.i
	}
	return f >= 0 && f < (1<<64) && uint64(f) == a.u
}

// valuesEqual compares two values with JSON semantics: numbers compare by value
// whatever their Go type, objects and arrays compare element by element.
func valuesEqual(a, b any) bool {
	if na, ok := toNumber(a); ok {
		nb, ok := toNumber(b)
		return ok && numbersEqual(na, nb)
	}
	switch ta := a.(type) {
	case nil:
		return b == nil
	case string:
		tb, ok := b.(string)
		return ok && ta == tb
	case bool:
		tb, ok := b.(bool)
		return ok && ta == tb
	case map[string]any:
		tb, ok := b.(map[string]any)
		return ok && mapsEqual(ta, tb)
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !valuesEqual(ta[i], tb[i]) {
				return false
			}
		}
		return true
	}
	return valuesEqual(normalize(a), normalize(b))
}

func mapsEqual(a, b map[string]any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !valuesEqual(va, vb) {
			return false
		}
	}
	return true
}
