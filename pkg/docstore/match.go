package docstore

import "fmt"

// MatchMode selects how predicate values are compared against entity fields.
type MatchMode int

const (
	// MatchEqual requires every predicate field to exist in the entity with an equal value.
	MatchEqual MatchMode = iota
	// MatchPresence only requires every predicate field to exist in the entity.
	// The predicate's values are ignored. Kept for data written by older deployments
	// that relied on this behavior.
	MatchPresence
)

// ParseMatchMode maps a config string ("equal", "presence") to a MatchMode.
func ParseMatchMode(s string) (MatchMode, error) {
	switch s {
	case "", "equal":
		return MatchEqual, nil
	case "presence":
		return MatchPresence, nil
	default:
		return MatchEqual, fmt.Errorf("unknown match mode %q", s)
	}
}

func (m MatchMode) String() string {
	switch m {
	case MatchEqual:
		return "equal"
	case MatchPresence:
		return "presence"
	default:
		return fmt.Sprintf("MatchMode(%d)", int(m))
	}
}

// Match reports whether e satisfies the predicate p.
// An empty entity never matches a non-empty predicate; an empty predicate matches everything.
func Match(e Entity, p Predicate, mode MatchMode) bool {
	return matchNormalized(e, normalizePredicate(p), mode)
}

// normalizePredicate copies p with every value in JSON-model form, so a typed
// slice or struct in a predicate compares like its JSON encoding.
func normalizePredicate(p Predicate) Predicate {
	if len(p) == 0 {
		return p
	}
	out := make(Predicate, len(p))
	for field, want := range p {
		out[field] = cloneValue(want)
	}
	return out
}

// matchNormalized is Match for a predicate already passed through normalizePredicate.
func matchNormalized(e Entity, p Predicate, mode MatchMode) bool {
	if len(p) == 0 {
		return true
	}
	if len(e) == 0 {
		return false
	}
	for field, want := range p {
		got, ok := e[field]
		if !ok {
			return false
		}
		if mode == MatchEqual && !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// uidLookup reports whether p is the single-field uid predicate and returns the key it names.
// ok is true for any {"uid": x} predicate; key is empty when x is not a string.
func uidLookup(p Predicate) (key string, ok bool) {
	if len(p) != 1 {
		return "", false
	}
	v, ok := p[UIDField]
	if !ok {
		return "", false
	}
	key, _ = v.(string)
	return key, true
}
