package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/celerix-dev/rungodb/internal/vault"
	"github.com/celerix-dev/rungodb/pkg/docstore"
)

const (
	// SingleFileName holds the whole tree in single-file mode.
	SingleFileName = "rungodb.json"
	// ContainersDir holds one <container>.json per container in multi-file mode.
	ContainersDir = "containers"
)

// FilePersister stores the tree as JSON files in a data directory.
//
// Layout:
//
//	data_dir/
//	  rungodb.json           # single-file mode: the whole tree
//	  containers/
//	    projects.json        # multi-file mode: one file per container
//	    users.json
//
// Container names are path-escaped to form file names. Files are written
// atomically and may be sealed with AES-GCM.
type FilePersister struct {
	DataDir    string
	SingleFile bool

	sealer *vault.Sealer
	mu     sync.Mutex // Protects concurrent writes to the filesystem

	// skipped holds container files Load could not read. Save never removes them.
	skipped map[string]bool
}

// NewFilePersister prepares dir. sealer may be nil to store plain JSON.
func NewFilePersister(dir string, singleFile bool, sealer *vault.Sealer) (*FilePersister, error) {
	if err := os.MkdirAll(filepath.Join(dir, ContainersDir), 0o755); err != nil {
		return nil, err
	}
	return &FilePersister{DataDir: dir, SingleFile: singleFile, sealer: sealer, skipped: make(map[string]bool)}, nil
}

// Save writes tree to disk.
func (p *FilePersister) Save(_ context.Context, tree docstore.Tree) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.SingleFile {
		return p.writeFile(filepath.Join(p.DataDir, SingleFileName), tree)
	}

	dir := filepath.Join(p.DataDir, ContainersDir)
	keep := make(map[string]bool, len(tree))
	for name, c := range tree {
		if c == nil {
			c = docstore.Container{}
		}
		file := containerFile(name)
		keep[file] = true
		if p.skipped[file] {
			// The container was recreated after its file failed to load: keep the old bytes aside.
			backup := filepath.Join(dir, file+".bak")
			if err := os.Rename(filepath.Join(dir, file), backup); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("back up container %q: %w", name, err)
			}
			slog.Warn("Unreadable container file moved aside", "file", file, "backup", backup)
			delete(p.skipped, file)
		}
		if err := p.writeFile(filepath.Join(dir, file), c); err != nil {
			return fmt.Errorf("save container %q: %w", name, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || keep[entry.Name()] || p.skipped[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Load reads the tree back. Unreadable container files are skipped with a warning
// and left on disk by later saves.
func (p *FilePersister) Load(_ context.Context) (docstore.Tree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.SingleFile {
		content, err := p.readFile(filepath.Join(p.DataDir, SingleFileName))
		if os.IsNotExist(err) {
			return docstore.Tree{}, nil
		}
		if err != nil {
			return nil, err
		}
		return docstore.ParseTree(content)
	}

	dir := filepath.Join(p.DataDir, ContainersDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return docstore.Tree{}, nil
		}
		return nil, err
	}
	tree := make(docstore.Tree)
	clear(p.skipped)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			slog.Warn("Skipping container file with invalid name", "file", entry.Name(), "err", err)
			p.skipped[entry.Name()] = true
			continue
		}
		content, err := p.readFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Warn("Could not read container file", "file", entry.Name(), "err", err)
			p.skipped[entry.Name()] = true
			continue
		}
		c, err := docstore.ParseContainer(name, content)
		if err != nil {
			slog.Warn("Could not decode container file", "file", entry.Name(), "err", err)
			p.skipped[entry.Name()] = true
			continue
		}
		tree[name] = c
	}
	return tree, nil
}

// Close is a no-op; files are closed after every write.
func (p *FilePersister) Close() error {
	return nil
}

func containerFile(name string) string {
	return url.PathEscape(name) + ".json"
}

// writeFile encodes v and swaps it into place with a rename, so a crash leaves
// either the old file or the new one.
func (p *FilePersister) writeFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if p.sealer != nil {
		if data, err = p.sealer.Seal(data); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (p *FilePersister) readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if p.sealer != nil {
		return p.sealer.Open(data)
	}
	return data, nil
}
