package sdk

import (
	"encoding/json"

	"github.com/celerix-dev/rungodb/pkg/docstore"
)

// ContainerScope pins a container name so callers don't repeat it.
type ContainerScope struct {
	store DocStore
	name  string
}

// Container returns a scope for the named container of s.
func Container(s DocStore, name string) *ContainerScope {
	return &ContainerScope{store: s, name: name}
}

// Name returns the pinned container name.
func (c *ContainerScope) Name() string {
	return c.name
}

// Insert stores entity in the scoped container.
func (c *ContainerScope) Insert(entity any) (string, error) {
	return c.store.Insert(c.name, entity)
}

// Query returns the entities of the scoped container matching p.
func (c *ContainerScope) Query(p docstore.Predicate) ([]docstore.Entity, error) {
	return c.store.Query(c.name, p)
}

// Get returns the entity stored under uid, or nil when there is none.
func (c *ContainerScope) Get(uid string) (docstore.Entity, error) {
	found, err := c.store.Query(c.name, docstore.Predicate{docstore.UIDField: uid})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// Delete removes the entities of the scoped container matching p.
func (c *ContainerScope) Delete(p docstore.Predicate) (int, error) {
	return c.store.Delete(c.name, p)
}

// --- Generics Support ---

// Insert stores a typed value. T must encode to a JSON object.
func Insert[T any](s Inserter, container string, val T) (string, error) {
	return s.Insert(container, val)
}

// Query decodes the matching entities into T.
func Query[T any](s Querier, container string, p docstore.Predicate) ([]T, error) {
	found, err := s.Query(container, p)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(found))
	for _, e := range found {
		// Entities are plain maps, so re-encode them to fill the caller's type.
		b, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		var target T
		if err := json.Unmarshal(b, &target); err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, nil
}
