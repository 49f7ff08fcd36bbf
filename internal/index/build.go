package index

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semindex/internal/collections"
	"github.com/fyrsmithlabs/semindex/internal/config"
	"github.com/fyrsmithlabs/semindex/internal/embeddings"
	"github.com/fyrsmithlabs/semindex/internal/indexer"
	"github.com/fyrsmithlabs/semindex/internal/reranker"
	"github.com/fyrsmithlabs/semindex/internal/retry"
	"github.com/fyrsmithlabs/semindex/internal/search"
	"github.com/fyrsmithlabs/semindex/internal/vectorstore"
)

// NewRegistry builds the collection registry from configuration.
func NewRegistry(cfg *config.Config) (*collections.Registry, error) {
	return collections.NewRegistry(cfg.VectorStore.CollectionPrefix, cfg.Indexing.DefaultBatchSize, cfg.Indexing.BatchSizes)
}

// Ensure validates or creates every registered collection at the
// configured dimension. A mismatch is fatal.
func Ensure(ctx context.Context, cfg *config.Config, store vectorstore.Store, registry *collections.Registry, logger *zap.Logger) error {
	return vectorstore.EnsureCollections(ctx, store, registry.PhysicalNames(), cfg.Embeddings.Dimension, logger)
}

// Build wires a Service from configuration: vector store, embedding
// client, reranker, pipeline and orchestrator. Collections are ensured
// before it returns; on any error nothing is left open.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}

	store, err := vectorstore.NewStore(ctx, cfg.VectorStore, logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	if err := Ensure(ctx, cfg, store, registry, logger); err != nil {
		_ = store.Close()
		return nil, err
	}

	backend, err := embeddings.NewService(embeddings.Config{
		BaseURL:           cfg.Embeddings.BaseURL,
		Model:             cfg.Embeddings.Model,
		APIKey:            cfg.Embeddings.APIKey.Value(),
		Timeout:           cfg.Embeddings.Timeout.Duration(),
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		Burst:             cfg.Embeddings.Burst,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating embedding service: %w", err)
	}

	embedder, err := embeddings.NewClient(backend,
		embeddings.NewCache(cfg.Embeddings.CacheTTL.Duration(), cfg.Embeddings.CacheMaxEntries),
		embeddings.ClientConfig{
			Model:         cfg.Embeddings.Model,
			Dimension:     cfg.Embeddings.Dimension,
			MaxInputChars: cfg.Embeddings.MaxInputChars,
		}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	rr, err := reranker.New(cfg.Rerank, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating reranker: %w", err)
	}

	pipeline, err := indexer.New(store, embedder, registry, indexer.Config{
		MaxInputChars:    cfg.Embeddings.MaxInputChars,
		BuildConcurrency: cfg.Indexing.BuildConcurrency,
		ItemTimeout:      cfg.Indexing.ItemTimeout.Duration(),
		Retry: retry.Policy{
			MaxAttempts: cfg.Indexing.MaxAttempts,
			BaseDelay:   cfg.Indexing.BaseDelay.Duration(),
			MaxDelay:    cfg.Indexing.MaxDelay.Duration(),
			Jitter:      0.2,
		},
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	orchestrator, err := search.New(store, embedder, registry, rr, search.Config{
		Collections:         cfg.Search.Collections,
		MinScore:            cfg.Search.MinScore,
		CandidateMultiplier: cfg.Search.CandidateMultiplier,
		MaxCandidates:       cfg.Search.MaxCandidates,
		QueryTimeout:        cfg.Search.QueryTimeout.Duration(),
		CandidateChars:      cfg.Search.CandidateChars,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	svc := New(pipeline, orchestrator, store, registry, logger)
	svc.closers = append(svc.closers, store.Close)
	if rr != nil {
		svc.closers = append(svc.closers, rr.Close)
	}
	return svc, nil
}

// Close releases the store connection and the reranker.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
