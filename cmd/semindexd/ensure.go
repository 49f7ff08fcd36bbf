package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semindex/internal/config"
	"github.com/fyrsmithlabs/semindex/internal/index"
	"github.com/fyrsmithlabs/semindex/internal/vectorstore"
)

var ensureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create or verify every vector collection, then exit",
	Long: `Create missing collections at the configured embedding dimension and
verify existing ones. Exits non-zero if any collection has a different
dimension.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadWithFile(configPath)
		if err != nil {
			return err
		}
		return ensure(cmd.Context(), cfg)
	},
}

func ensure(ctx context.Context, cfg *config.Config) error {
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	registry, err := index.NewRegistry(cfg)
	if err != nil {
		return err
	}
	store, err := vectorstore.NewStore(ctx, cfg.VectorStore, rt.logger)
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	defer store.Close()

	if err := index.Ensure(ctx, cfg, store, registry, rt.logger); err != nil {
		return err
	}
	rt.logger.Info("collections ready",
		zap.Strings("collections", registry.PhysicalNames()),
		zap.Int("dimension", cfg.Embeddings.Dimension))
	return nil
}
