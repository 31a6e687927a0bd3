package engine

import (
	"context"
	"fmt"
)

// Migrate copies everything stored by src into dst, replacing dst's contents.
// This works for any pair of backends, e.g. json -> sqlite when a deployment grows,
// or dynamodb -> json for an offline backup.
func Migrate(ctx context.Context, src, dst Persister) (containers, entities int, err error) {
	tree, err := src.Load(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load source: %w", err)
	}
	for _, c := range tree {
		entities += len(c)
	}
	if err := dst.Save(ctx, tree); err != nil {
		return 0, 0, fmt.Errorf("failed to save destination: %w", err)
	}
	return len(tree), entities, nil
}
