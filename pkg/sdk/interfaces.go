package sdk

import "github.com/celerix-dev/rungodb/pkg/docstore"

// --- Functional Interfaces (Interface Segregation) ---

// Inserter stores entities.
type Inserter interface {
	Insert(container string, entity any) (string, error)
}

// Querier reads entities matching a predicate.
type Querier interface {
	Query(container string, p docstore.Predicate) ([]docstore.Entity, error)
}

// Deleter removes entities matching a predicate and reports how many went away.
type Deleter interface {
	Delete(container string, p docstore.Predicate) (int, error)
}

// Exporter retrieves bulk data.
type Exporter interface {
	Export() (docstore.Tree, error)
	Containers() ([]string, error)
}

// --- Composite Interfaces ---

// DocStore is the primary interface for interacting with the data store.
// Both the embedded *engine.Engine and the remote *Client implement it.
type DocStore interface {
	Inserter
	Querier
	Deleter
	Exporter
}
