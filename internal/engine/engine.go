package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/celerix-dev/rungodb/pkg/docstore"
)

// Engine is the embedded store used by the daemon and by sdk.New in local mode.
type Engine struct {
	// mu orders mutations so snapshot versions follow mutation order.
	mu        sync.Mutex
	store     *docstore.DocumentStore
	persister Persister
	version   uint64

	saveMu sync.Mutex
	saved  uint64

	wg sync.WaitGroup
}

// New wraps store. p may be nil for a purely in-memory engine.
func New(store *docstore.DocumentStore, p Persister) *Engine {
	if store == nil {
		store = docstore.New()
	}
	return &Engine{store: store, persister: p}
}

// Open loads the tree saved by p and returns an engine serving it.
func Open(ctx context.Context, p Persister, opts ...docstore.Option) (*Engine, error) {
	tree, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return New(docstore.NewFromTree(tree, opts...), p), nil
}

// Wait waits for all background persistence tasks to complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Store returns the wrapped document store. Mutations made directly on it are
// not persisted until the next engine mutation or Flush.
func (e *Engine) Store() *docstore.DocumentStore {
	return e.store
}

// Insert stores entity in container and persists the change in the background.
func (e *Engine) Insert(container string, entity any) (string, error) {
	e.mu.Lock()
	uid, err := e.store.Insert(container, entity)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	tree, version := e.snapshotLocked()
	e.mu.Unlock()

	e.schedule(tree, version)
	return uid, nil
}

// Query returns copies of the matching entities. Querying an unknown container
// creates it, and the new empty container is persisted like any other mutation.
func (e *Engine) Query(container string, p docstore.Predicate) ([]docstore.Entity, error) {
	if e.store.Has(container) {
		return e.store.Query(container, p), nil
	}
	e.mu.Lock()
	created := !e.store.Has(container)
	found := e.store.Query(container, p)
	if !created {
		e.mu.Unlock()
		return found, nil
	}
	tree, version := e.snapshotLocked()
	e.mu.Unlock()

	e.schedule(tree, version)
	return found, nil
}

// Delete removes matching entities and persists the change in the background.
// A delete that removes nothing is persisted only when it created the container.
func (e *Engine) Delete(container string, p docstore.Predicate) (int, error) {
	e.mu.Lock()
	created := !e.store.Has(container)
	n := e.store.Delete(container, p)
	if n == 0 && !created {
		e.mu.Unlock()
		return 0, nil
	}
	tree, version := e.snapshotLocked()
	e.mu.Unlock()

	e.schedule(tree, version)
	return n, nil
}

// Export returns a deep copy of the whole tree.
func (e *Engine) Export() (docstore.Tree, error) {
	return e.store.Snapshot(), nil
}

// Containers lists container names.
func (e *Engine) Containers() ([]string, error) {
	return e.store.Containers(), nil
}

// Flush synchronously saves the current tree.
func (e *Engine) Flush(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	e.mu.Lock()
	e.version++
	version := e.version
	tree := e.store.Snapshot()
	e.mu.Unlock()
	return e.save(ctx, tree, version)
}

// Close waits for pending saves and closes the persister.
func (e *Engine) Close() error {
	e.Wait()
	if e.persister == nil {
		return nil
	}
	return e.persister.Close()
}

// snapshotLocked must be called with e.mu held.
func (e *Engine) snapshotLocked() (docstore.Tree, uint64) {
	if e.persister == nil {
		return nil, 0
	}
	e.version++
	return e.store.Snapshot(), e.version
}

func (e *Engine) schedule(tree docstore.Tree, version uint64) {
	if e.persister == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.save(context.Background(), tree, version); err != nil {
			slog.Error("Persisting snapshot failed", "version", version, "err", err)
		}
	}()
}

// save writes tree unless a newer version was already written.
func (e *Engine) save(ctx context.Context, tree docstore.Tree, version uint64) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if version <= e.saved {
		slog.Debug("Skipping stale snapshot", "version", version, "saved", e.saved)
		return nil
	}
	if err := e.persister.Save(ctx, tree); err != nil {
		return err
	}
	e.saved = version
	return nil
}
