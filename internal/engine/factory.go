package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/celerix-dev/rungodb/internal/config"
	"github.com/celerix-dev/rungodb/internal/vault"
)

// NewPersister creates the Persister selected by cfg.Backend.
// The memory backend has no persister and returns nil.
//
// Supported backends:
//
//	"json"     - JSON files in DataDir (default), single or multi file
//	"sqlite"   - SQLite database at DataDir/rungodb.db
//	"dynamodb" - one item per entity in cfg.DynamoDB.Table
//	"memory"   - nothing is persisted
func NewPersister(ctx context.Context, cfg config.Config) (Persister, error) {
	switch cfg.Backend {
	case config.BackendJSON, "":
		var sealer *vault.Sealer
		if cfg.EncryptionKey != "" {
			key, err := vault.ParseKey(cfg.EncryptionKey)
			if err != nil {
				return nil, fmt.Errorf("encryption key: %w", err)
			}
			if sealer, err = vault.NewSealer(key); err != nil {
				return nil, err
			}
		}
		return NewFilePersister(cfg.DataDir, cfg.SingleFile, sealer)
	case config.BackendSQLite:
		return NewSqlitePersister(filepath.Join(cfg.DataDir, SQLiteFileName))
	case config.BackendDynamoDB:
		return DialDynamo(ctx, cfg.DynamoDB.Table, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint)
	case config.BackendMemory:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: json, sqlite, dynamodb, memory)", ErrUnknownBackend, cfg.Backend)
	}
}
