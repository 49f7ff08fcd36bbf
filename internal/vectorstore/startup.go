package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// EnsureCollections ensures every named collection at dim and stops at the
// first failure.
func EnsureCollections(ctx context.Context, store Store, names []string, dim int, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("ensuring collections",
		zap.Strings("collections", names),
		zap.Int("dimension", dim))

	for _, name := range names {
		if err := store.EnsureCollection(ctx, name, dim); err != nil {
			logger.Error("startup blocked: collection ensure failed",
				zap.String("collection", name),
				zap.Int("dimension", dim),
				zap.Error(err))
			return fmt.Errorf("ensuring collection %s: %w", name, err)
		}
	}

	logger.Info("collections ready", zap.Int("count", len(names)))
	return nil
}
