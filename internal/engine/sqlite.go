package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/celerix-dev/rungodb/pkg/docstore"
)

// SQLiteFileName is the database file created in the data directory.
const SQLiteFileName = "rungodb.db"

// SqlitePersister stores the tree in a single SQLite database.
//
// Tables:
//
//	containers(name)                    PRIMARY KEY (name)
//	entities(container, uid, data)      PRIMARY KEY (container, uid)
type SqlitePersister struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSqlitePersister opens (creating if needed) the database at dbPath.
func NewSqlitePersister(dbPath string) (*SqlitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS containers (
			name TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS entities (
			container TEXT NOT NULL,
			uid TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (container, uid)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &SqlitePersister{db: db}, nil
}

// Close closes the database.
func (s *SqlitePersister) Close() error {
	return s.db.Close()
}

// Save replaces the database contents with tree in one transaction.
func (s *SqlitePersister) Save(ctx context.Context, tree docstore.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM entities"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM containers"); err != nil {
		return err
	}
	insertContainer, err := tx.PrepareContext(ctx, "INSERT INTO containers (name) VALUES (?)")
	if err != nil {
		return err
	}
	defer insertContainer.Close()
	insertEntity, err := tx.PrepareContext(ctx, "INSERT INTO entities (container, uid, data) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer insertEntity.Close()

	for name, c := range tree {
		if _, err := insertContainer.ExecContext(ctx, name); err != nil {
			return fmt.Errorf("insert container %q: %w", name, err)
		}
		for uid, e := range c {
			b, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal %s/%s: %w", name, uid, err)
			}
			if _, err := insertEntity.ExecContext(ctx, name, uid, string(b)); err != nil {
				return fmt.Errorf("insert %s/%s: %w", name, uid, err)
			}
		}
	}
	return tx.Commit()
}

// Load reads every container and entity.
func (s *SqlitePersister) Load(ctx context.Context) (docstore.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree := make(docstore.Tree)
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM containers")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		tree[name] = make(docstore.Container)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, "SELECT container, uid, data FROM entities")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name, uid, raw string
		if err := rows.Scan(&name, &uid, &raw); err != nil {
			return nil, err
		}
		var e map[string]any
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", name, uid, err)
		}
		c, ok := tree[name]
		if !ok {
			c = make(docstore.Container)
			tree[name] = c
		}
		c[uid] = e
	}
	return tree, rows.Err()
}
