// Package engine wraps a docstore.DocumentStore with durable persistence.
//
// Every mutation produces a versioned snapshot that is written by a Persister
// on a background goroutine. Snapshots older than the last one written are
// dropped, so a slow save can never overwrite newer data.
package engine

import (
	"context"
	"errors"

	"github.com/celerix-dev/rungodb/pkg/docstore"
)

// ErrUnknownBackend is returned by NewPersister for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown persistence backend")

// Persister loads and saves whole document trees.
// Implementations must be safe for concurrent use.
type Persister interface {
	// Load returns the stored tree, or an empty tree when nothing was saved yet.
	Load(ctx context.Context) (docstore.Tree, error)
	// Save replaces the stored tree, including empty containers.
	Save(ctx context.Context, tree docstore.Tree) error
	// Close releases the backend's resources.
	Close() error
}
