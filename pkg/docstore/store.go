// Package docstore implements an in-memory tree of named containers holding
// JSON-like entities keyed by a unique identifier.
//
// A DocumentStore owns its data: entities are copied on insert and copies are
// handed back by queries and exports, so callers never alias stored values.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// UIDField is the entity field holding the identifier.
const UIDField = "uid"

// Entity is a JSON object stored under a uid.
type Entity = map[string]any

// Container maps a uid to its entity.
type Container map[string]Entity

// Tree maps a container name to its container. It is also the export format.
type Tree map[string]Container

// Predicate maps field names to required values. An empty predicate matches every entity.
type Predicate map[string]any

// Option configures a DocumentStore.
type Option func(*DocumentStore)

// WithMatchMode sets how Query and Delete evaluate predicates. Default is MatchEqual.
func WithMatchMode(m MatchMode) Option {
	return func(s *DocumentStore) { s.mode = m }
}

// WithUIDGenerator replaces the UUIDv4 generator.
func WithUIDGenerator(gen func() string) Option {
	return func(s *DocumentStore) { s.newUID = gen }
}

// DocumentStore is safe for concurrent use; a single lock guards the whole tree.
type DocumentStore struct {
	mu     sync.RWMutex
	root   Tree
	mode   MatchMode
	newUID func() string
}

// New returns an empty store.
func New(opts ...Option) *DocumentStore {
	s := &DocumentStore{
		root:   make(Tree),
		newUID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromTree returns a store seeded with a copy of a previously exported tree.
func NewFromTree(tree Tree, opts ...Option) *DocumentStore {
	s := New(opts...)
	s.root = copyTree(tree)
	return s
}

// FromJSON parses an exported JSON value into a new store.
func FromJSON(data []byte, opts ...Option) (*DocumentStore, error) {
	tree, err := ParseTree(data)
	if err != nil {
		return nil, err
	}
	return NewFromTree(tree, opts...), nil
}

// ParseTree decodes an exported JSON value, checking it is an object of objects of objects.
func ParseTree(data []byte) (Tree, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	root, ok := raw.(map[string]any)
	if !ok {
		return nil, &ShapeError{Where: "root", Kind: jsonKind(raw)}
	}
	tree := make(Tree, len(root))
	for name, c := range root {
		container, err := containerFromValue(name, c)
		if err != nil {
			return nil, err
		}
		tree[name] = container
	}
	return tree, nil
}

// ParseContainer decodes a single exported container.
func ParseContainer(name string, data []byte) (Container, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode container %q: %w", name, err)
	}
	return containerFromValue(name, raw)
}

func containerFromValue(name string, v any) (Container, error) {
	entities, ok := v.(map[string]any)
	if !ok {
		return nil, &ShapeError{Where: fmt.Sprintf("container %q", name), Kind: jsonKind(v)}
	}
	container := make(Container, len(entities))
	for key, e := range entities {
		obj, ok := e.(map[string]any)
		if !ok {
			return nil, &ShapeError{Where: fmt.Sprintf("entity %q in %q", key, name), Kind: jsonKind(e)}
		}
		container[key] = obj
	}
	return container, nil
}

// Mode returns the configured match mode.
func (s *DocumentStore) Mode() MatchMode {
	return s.mode
}

// GetOrCreateContainer returns the container called name, creating it if needed.
// The returned map is the store's live container: it must not be retained or used
// concurrently with other operations on s.
func (s *DocumentStore) GetOrCreateContainer(name string) Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.container(name)
}

// container must be called with s.mu held for writing.
func (s *DocumentStore) container(name string) Container {
	c, ok := s.root[name]
	if !ok || c == nil {
		c = make(Container)
		s.root[name] = c
	}
	return c
}

// Insert stores a copy of entity in the named container and returns its uid.
//
// A non-empty string uid is used as the key. An empty or missing uid is replaced with
// a fresh UUIDv4 written into the stored entity. An entity with the same uid is overwritten.
// Entities that are not JSON objects are rejected with ErrShape.
func (s *DocumentStore) Insert(containerName string, entity any) (string, error) {
	e, err := toEntity(entity)
	if err != nil {
		return "", err
	}
	uid, err := s.assignUID(e)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.container(containerName)[uid] = e
	return uid, nil
}

func (s *DocumentStore) assignUID(e Entity) (string, error) {
	if v, ok := e[UIDField]; ok {
		uid, isString := v.(string)
		if !isString {
			return "", fmt.Errorf("%w: got %s", ErrInvalidUID, jsonKind(v))
		}
		if uid != "" {
			return uid, nil
		}
	}
	uid := s.newUID()
	e[UIDField] = uid
	return uid, nil
}

// Query returns copies of the entities of the named container matching p.
// Querying an unknown container creates it and returns an empty slice.
func (s *DocumentStore) Query(containerName string, p Predicate) []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.container(containerName)
	result := []Entity{}
	if key, ok := uidLookup(p); ok {
		if e, found := c[key]; found && key != "" {
			result = append(result, cloneMap(e))
		}
		return result
	}
	p = normalizePredicate(p)
	for _, e := range c {
		if matchNormalized(e, p, s.mode) {
			result = append(result, cloneMap(e))
		}
	}
	return result
}

// Delete removes the entities of the named container matching p and returns how many
// were removed. An empty predicate empties the container but keeps it.
func (s *DocumentStore) Delete(containerName string, p Predicate) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.container(containerName)
	if len(p) == 0 {
		n := len(c)
		clear(c)
		return n
	}

	var keys []string
	if key, ok := uidLookup(p); ok {
		if _, found := c[key]; found && key != "" {
			keys = append(keys, key)
		}
	} else {
		p = normalizePredicate(p)
		for key, e := range c {
			if matchNormalized(e, p, s.mode) {
				keys = append(keys, key)
			}
		}
	}
	for _, key := range keys {
		delete(c, key)
	}
	return len(keys)
}

// Containers returns the sorted container names.
func (s *DocumentStore) Containers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.root))
	for name := range s.root {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the named container exists, without creating it.
func (s *DocumentStore) Has(containerName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.root[containerName]
	return ok
}

// Len returns the number of entities in the named container without creating it.
func (s *DocumentStore) Len(containerName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.root[containerName])
}

// Snapshot returns a deep copy of the whole tree.
func (s *DocumentStore) Snapshot() Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTree(s.root)
}

// Restore replaces the whole tree with a copy of tree.
func (s *DocumentStore) Restore(tree Tree) {
	fresh := copyTree(tree)
	s.mu.Lock()
	s.root = fresh
	s.mu.Unlock()
}

// ToJSON encodes the whole tree.
func (s *DocumentStore) ToJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// MarshalJSON implements json.Marshaler.
func (s *DocumentStore) MarshalJSON() ([]byte, error) {
	return s.ToJSON()
}

// copyTree deep-copies tree. The key an entity is stored under is authoritative:
// its uid field is rewritten to match.
func copyTree(tree Tree) Tree {
	out := make(Tree, len(tree))
	for name, c := range tree {
		cc := make(Container, len(c))
		for key, e := range c {
			if e == nil {
				continue
			}
			ec := cloneMap(e)
			ec[UIDField] = key
			cc[key] = ec
		}
		out[name] = cc
	}
	return out
}

// IsShapeError reports whether err was caused by a non-object value.
func IsShapeError(err error) bool {
	return errors.Is(err, ErrShape)
}
