package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/celerix-dev/rungodb/internal/config"
	"github.com/celerix-dev/rungodb/internal/vault"
	"github.com/celerix-dev/rungodb/pkg/docstore"
)

func sampleTree() docstore.Tree {
	return docstore.Tree{
		"projects": {
			"xxya": {"uid": "xxya", "name": "My project", "tags": []any{"a", "b"}},
			"p2":   {"uid": "p2", "nested": map[string]any{"n": float64(2)}},
		},
		"team/users": {
			"u1": {"uid": "u1"},
		},
		"empty": {},
	}
}

// runPersisterTests runs a common suite against any Persister implementation.
func runPersisterTests(t *testing.T, p Persister) {
	t.Helper()
	ctx := context.Background()

	t.Run("Load empty", func(t *testing.T) {
		tree, err := p.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(tree) != 0 {
			t.Fatalf("expected empty tree, got %v", tree)
		}
	})

	t.Run("Save and Load", func(t *testing.T) {
		if err := p.Save(ctx, sampleTree()); err != nil {
			t.Fatal(err)
		}
		tree, err := p.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(tree) != 3 {
			t.Fatalf("expected 3 containers, got %v", tree)
		}
		if _, ok := tree["empty"]; !ok {
			t.Fatal("empty container was lost")
		}
		if got := tree["projects"]["xxya"]["name"]; got != "My project" {
			t.Fatalf("expected name=My project, got %v", got)
		}
		if got := tree["team/users"]["u1"]["uid"]; got != "u1" {
			t.Fatalf("expected uid=u1, got %v", got)
		}
		nested, _ := tree["projects"]["p2"]["nested"].(map[string]any)
		if nested["n"] != float64(2) {
			t.Fatalf("expected nested n=2, got %v", tree["projects"]["p2"])
		}
	})

	t.Run("Save replaces", func(t *testing.T) {
		if err := p.Save(ctx, docstore.Tree{"projects": {"p2": {"uid": "p2"}}}); err != nil {
			t.Fatal(err)
		}
		tree, err := p.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(tree) != 1 || len(tree["projects"]) != 1 || tree["projects"]["p2"] == nil {
			t.Fatalf("expected only projects/p2, got %v", tree)
		}
	})
}

func TestFilePersister_SingleFile(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFilePersister(dir, true, nil)
	if err != nil {
		t.Fatalf("NewFilePersister failed: %v", err)
	}
	runPersisterTests(t, p)

	if _, err := os.Stat(filepath.Join(dir, SingleFileName)); err != nil {
		t.Fatalf("single file was not created: %v", err)
	}
}

func TestFilePersister_MultiFile(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFilePersister(dir, false, nil)
	if err != nil {
		t.Fatalf("NewFilePersister failed: %v", err)
	}
	runPersisterTests(t, p)

	entries, err := os.ReadDir(filepath.Join(dir, ContainersDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "projects.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only projects.json after replace, got %v", names)
	}
}

func TestFilePersister_SkipsCorruptContainer(t *testing.T) {
	dir := t.TempDir()
	p, _ := NewFilePersister(dir, false, nil)
	if err := p.Save(context.Background(), sampleTree()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ContainersDir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	tree, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := tree["broken"]; ok {
		t.Error("corrupt container should be skipped")
	}
	if len(tree) != 3 {
		t.Errorf("expected 3 containers, got %d", len(tree))
	}
}

func TestFilePersister_KeepsUnreadableContainerFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	p, _ := NewFilePersister(dir, false, nil)
	tree := docstore.Tree{
		"a": {"1": {"uid": "1"}},
		"b": {"2": {"uid": "2"}},
	}
	if err := p.Save(ctx, tree); err != nil {
		t.Fatal(err)
	}
	bFile := filepath.Join(dir, ContainersDir, "b.json")
	if err := os.WriteFile(bFile, []byte(`{"2": {"uid"`), 0o644); err != nil {
		t.Fatal(err)
	}

	e, err := Open(ctx, p)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := e.Insert("a", map[string]any{"uid": "3"}); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	raw, err := os.ReadFile(bFile)
	if err != nil {
		t.Fatalf("b.json was removed by the next save: %v", err)
	}
	if string(raw) != `{"2": {"uid"` {
		t.Errorf("b.json was rewritten: %q", raw)
	}

	// Recreating the container keeps the unreadable bytes in a backup.
	if _, err := e.Insert("b", map[string]any{"uid": "4"}); err != nil {
		t.Fatal(err)
	}
	e.Wait()
	if raw, err := os.ReadFile(bFile + ".bak"); err != nil || string(raw) != `{"2": {"uid"` {
		t.Errorf("Expected backup of the unreadable file, got %q, %v", raw, err)
	}
	loaded, err := p.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded["a"]) != 2 || len(loaded["b"]) != 1 {
		t.Errorf("Unexpected tree after saves: %v", loaded)
	}
}

func TestFilePersister_WrongKeyKeepsFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	right, _ := vault.NewSealer([]byte("thisis32byteslongsecretkey123456"))
	wrong, _ := vault.NewSealer([]byte("another32byteslongsecretkey12345"))

	p, _ := NewFilePersister(dir, false, right)
	if err := p.Save(ctx, sampleTree()); err != nil {
		t.Fatal(err)
	}

	bad, _ := NewFilePersister(dir, false, wrong)
	e, err := Open(ctx, bad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := e.Insert("new", map[string]any{"uid": "n"}); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	loaded, err := p.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded["projects"]) != 2 || len(loaded["team/users"]) != 1 {
		t.Errorf("Data sealed with the right key was lost: %v", loaded)
	}
}

func TestFilePersister_Sealed(t *testing.T) {
	dir := t.TempDir()
	sealer, err := vault.NewSealer([]byte("thisis32byteslongsecretkey123456"))
	if err != nil {
		t.Fatal(err)
	}
	p, _ := NewFilePersister(dir, true, sealer)
	runPersisterTests(t, p)

	raw, err := os.ReadFile(filepath.Join(dir, SingleFileName))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "p2") {
		t.Error("sealed file contains plaintext")
	}

	plain, _ := NewFilePersister(dir, true, nil)
	if _, err := plain.Load(context.Background()); err == nil {
		t.Error("loading a sealed file without the key should fail")
	}
}

func TestSqlitePersister(t *testing.T) {
	p, err := NewSqlitePersister(filepath.Join(t.TempDir(), SQLiteFileName))
	if err != nil {
		t.Fatalf("NewSqlitePersister failed: %v", err)
	}
	defer p.Close()
	runPersisterTests(t, p)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	src, _ := NewFilePersister(t.TempDir(), false, nil)
	if err := src.Save(ctx, sampleTree()); err != nil {
		t.Fatal(err)
	}
	dst, err := NewSqlitePersister(filepath.Join(t.TempDir(), SQLiteFileName))
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()

	containers, entities, err := Migrate(ctx, src, dst)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if containers != 3 || entities != 3 {
		t.Errorf("expected 3 containers and 3 entities, got %d and %d", containers, entities)
	}
	tree, _ := dst.Load(ctx)
	if tree["projects"]["xxya"]["name"] != "My project" {
		t.Errorf("migrated data mismatch: %v", tree)
	}
}

func TestNewPersister(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	p, err := NewPersister(ctx, cfg)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if fp, ok := p.(*FilePersister); !ok || !fp.SingleFile {
		t.Errorf("expected single-file FilePersister, got %T", p)
	}

	cfg.EncryptionKey = "not-a-key"
	if _, err := NewPersister(ctx, cfg); err == nil {
		t.Error("expected error for a malformed key")
	}
	cfg.EncryptionKey = ""

	cfg.Backend = config.BackendSQLite
	p, err = NewPersister(ctx, cfg)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if _, ok := p.(*SqlitePersister); !ok {
		t.Errorf("expected SqlitePersister, got %T", p)
	}
	p.Close()

	cfg.Backend = config.BackendMemory
	if p, err := NewPersister(ctx, cfg); err != nil || p != nil {
		t.Errorf("memory: expected nil persister, got %v, %v", p, err)
	}

	cfg.Backend = "etcd"
	if _, err := NewPersister(ctx, cfg); err == nil {
		t.Error("expected ErrUnknownBackend")
	}
}
