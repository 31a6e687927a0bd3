package docstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	e := Entity{
		"uid":    "a",
		"name":   "alpha",
		"count":  3,
		"tags":   []any{"x", "y"},
		"nested": map[string]any{"k": 1.0},
		"none":   nil,
	}
	tests := []struct {
		name     string
		p        Predicate
		equal    bool
		presence bool
	}{
		{"empty predicate", Predicate{}, true, true},
		{"same string", Predicate{"name": "alpha"}, true, true},
		{"different string", Predicate{"name": "beta"}, false, true},
		{"missing field", Predicate{"color": "red"}, false, false},
		{"int vs float", Predicate{"count": 3.0}, true, true},
		{"json number", Predicate{"count": json.Number("3")}, true, true},
		{"wrong number", Predicate{"count": 4}, false, true},
		{"number vs string", Predicate{"count": "3"}, false, true},
		{"array", Predicate{"tags": []any{"x", "y"}}, true, true},
		{"array order", Predicate{"tags": []any{"y", "x"}}, false, true},
		{"typed slice", Predicate{"tags": []string{"x", "y"}}, true, true},
		{"object", Predicate{"nested": map[string]any{"k": 1}}, true, true},
		{"null", Predicate{"none": nil}, true, true},
		{"all fields must hold", Predicate{"name": "alpha", "count": 99}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, Match(e, tt.p, MatchEqual), "equal mode")
			assert.Equal(t, tt.presence, Match(e, tt.p, MatchPresence), "presence mode")
		})
	}
}

func TestMatch_EmptyEntity(t *testing.T) {
	assert.False(t, Match(Entity{}, Predicate{"a": 1}, MatchEqual))
	assert.False(t, Match(Entity{}, Predicate{"a": 1}, MatchPresence))
	assert.True(t, Match(Entity{}, Predicate{}, MatchEqual))
}

// Presence mode ignores predicate values, so a filtered query or delete selects every
// entity that merely has the named fields. Equality mode compares the values.
func TestMatchModes_QueryAndDeleteDiverge(t *testing.T) {
	seed := func(opts ...Option) *DocumentStore {
		s := New(opts...)
		for _, e := range []map[string]any{
			{"uid": "1", "status": "open", "owner": "ann"},
			{"uid": "2", "status": "closed", "owner": "ann"},
			{"uid": "3", "owner": "bob"},
		} {
			_, err := s.Insert("tickets", e)
			require.NoError(t, err)
		}
		return s
	}

	eq := seed()
	assert.Equal(t, MatchEqual, eq.Mode())
	assert.Len(t, eq.Query("tickets", Predicate{"status": "open"}), 1)
	assert.Len(t, eq.Query("tickets", Predicate{"owner": "ann", "status": "closed"}), 1)
	assert.Equal(t, 1, eq.Delete("tickets", Predicate{"status": "open"}))
	assert.Equal(t, 2, eq.Len("tickets"))

	pr := seed(WithMatchMode(MatchPresence))
	assert.Len(t, pr.Query("tickets", Predicate{"status": "open"}), 2)
	assert.Len(t, pr.Query("tickets", Predicate{"owner": "nobody"}), 3)
	assert.Equal(t, 2, pr.Delete("tickets", Predicate{"status": "open"}))
	assert.Equal(t, 1, pr.Len("tickets"))

	// The uid fast path is a key lookup in both modes.
	assert.Len(t, pr.Query("tickets", Predicate{"uid": "3"}), 1)
	assert.Empty(t, pr.Query("tickets", Predicate{"uid": "1"}))
}

func TestParseMatchMode(t *testing.T) {
	m, err := ParseMatchMode("")
	require.NoError(t, err)
	assert.Equal(t, MatchEqual, m)

	m, err = ParseMatchMode("presence")
	require.NoError(t, err)
	assert.Equal(t, MatchPresence, m)
	assert.Equal(t, "presence", m.String())

	_, err = ParseMatchMode("fuzzy")
	assert.Error(t, err)
}

func TestValuesEqual_LargeIntegers(t *testing.T) {
	const big = int64(1<<53 + 1)
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int64 vs rounded float", big, float64(1 << 53), false},
		{"int64 vs same int64", big, big, true},
		{"int64 vs json number", big, json.Number("9007199254740993"), true},
		{"uint64 max vs int64", uint64(1<<64 - 1), int64(-1), false},
		{"uint vs int", uint8(7), 7, true},
		{"negative int vs uint", -1, uint(1), false},
		{"integral float vs int", 2.0, int32(2), true},
		{"fractional float vs int", 2.5, 2, false},
		{"float vs float", 0.1, 0.1, true},
		{"huge float vs int64", 1e300, int64(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.a, tt.b))
			assert.Equal(t, tt.want, valuesEqual(tt.b, tt.a))
		})
	}
}

func TestQuery_LargeIntegerPredicate(t *testing.T) {
	s := New()
	_, err := s.Insert("c", map[string]any{"uid": "a", "n": int64(1<<53 + 1)})
	require.NoError(t, err)
	assert.Empty(t, s.Query("c", Predicate{"n": float64(1 << 53)}))
	assert.Len(t, s.Query("c", Predicate{"n": int64(1<<53 + 1)}), 1)
}

func TestNormalizePredicate(t *testing.T) {
	tags := []string{"x", "y"}
	p := Predicate{"tags": tags, "n": 1}
	got := normalizePredicate(p)
	assert.Equal(t, Predicate{"tags": []any{"x", "y"}, "n": 1}, got)
	assert.Equal(t, []string{"x", "y"}, p["tags"], "the caller's predicate is not modified")

	s := New()
	_, err := s.Insert("c", map[string]any{"uid": "a", "tags": []any{"x", "y"}})
	require.NoError(t, err)
	assert.Len(t, s.Query("c", p), 1)
	assert.Equal(t, 1, s.Delete("c", Predicate{"tags": tags}))
}
