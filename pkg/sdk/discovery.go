package sdk

import (
	"context"
	"log/slog"
	"os"

	"github.com/celerix-dev/rungodb/internal/engine"
)

// New initializes the store based on the environment.
// It returns the interface, so the app doesn't care if it's local or remote.
func New(dataDir string) (DocStore, error) {
	if remoteAddr := os.Getenv("RUNGO_STORE_ADDR"); remoteAddr != "" {
		client, err := Connect(remoteAddr)
		if err == nil {
			return client, nil
		}
		slog.Warn("Remote store unreachable, using embedded mode", "addr", remoteAddr, "err", err)
	}

	// Embedded mode uses the same engine as the daemon, inside the app process.
	p, err := engine.NewFilePersister(dataDir, true, nil)
	if err != nil {
		return nil, err
	}
	e, err := engine.Open(context.Background(), p)
	if err != nil {
		return nil, err
	}
	return e, nil
}
