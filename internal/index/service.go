// Package index is the caller-facing surface of semindex: upsert items,
// delete them by id, tenant or filter, and search.
//
// Deletions are best-effort. A store failure is logged and counted, never
// retried, and never returned; only invalid input is an error.
package index

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semindex/internal/collections"
	"github.com/fyrsmithlabs/semindex/internal/indexer"
	"github.com/fyrsmithlabs/semindex/internal/logging"
	"github.com/fyrsmithlabs/semindex/internal/search"
	"github.com/fyrsmithlabs/semindex/internal/vectorstore"
)

// ErrInvalidRequest wraps invalid delete input.
var ErrInvalidRequest = errors.New("invalid request")

// Service exposes the index operations.
type Service struct {
	pipeline *indexer.Pipeline
	search   *search.Orchestrator
	store    vectorstore.Store
	registry *collections.Registry
	logger   *zap.Logger
	closers  []func() error
}

// New creates a Service.
func New(pipeline *indexer.Pipeline, orchestrator *search.Orchestrator, store vectorstore.Store, registry *collections.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pipeline: pipeline,
		search:   orchestrator,
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// UpsertItems indexes items and reports how many were written.
func (s *Service) UpsertItems(ctx context.Context, items []indexer.Item) (*indexer.Report, error) {
	return s.pipeline.UpsertBatch(ctx, items)
}

// DeleteItems removes tenantID's records for the given source ids. Records
// of other tenants with the same source ids are untouched.
func (s *Service) DeleteItems(ctx context.Context, collection, tenantID string, ids []string) error {
	spec, err := s.registry.Lookup(collection)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if tenantID == "" {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, vectorstore.ErrInvalidTenant)
	}
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty id", ErrInvalidRequest)
		}
	}

	if err := s.store.DeleteMany(ctx, spec.Physical, spec.RecordIDs(tenantID, ids)); err != nil {
		s.deleteFailed(ctx, "delete_items", string(spec.Kind), err,
			zap.String("tenant_id", tenantID),
			zap.Strings("item_ids", ids))
	}
	return nil
}

// DeleteByTenant removes every record of tenantID from every collection.
func (s *Service) DeleteByTenant(ctx context.Context, tenantID string) error {
	filter, err := vectorstore.TenantFilter(tenantID, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for _, spec := range s.registry.All() {
		if err := s.store.DeleteByFilter(ctx, spec.Physical, filter); err != nil {
			s.deleteFailed(ctx, "delete_by_tenant", string(spec.Kind), err, zap.String("tenant_id", tenantID))
		}
	}
	return nil
}

// DeleteByFilter removes the tenant's records in collection matching every
// key of filter. The tenant scope is always applied.
func (s *Service) DeleteByFilter(ctx context.Context, collection, tenantID string, filter vectorstore.Filter) error {
	spec, err := s.registry.Lookup(collection)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(filter) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, vectorstore.ErrEmptyFilter)
	}
	scoped, err := vectorstore.TenantFilter(tenantID, filter)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := scoped.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := s.store.DeleteByFilter(ctx, spec.Physical, scoped); err != nil {
		s.deleteFailed(ctx, "delete_by_filter", string(spec.Kind), err,
			zap.String("tenant_id", tenantID),
			zap.Strings("filter_keys", scoped.Keys()))
	}
	return nil
}

// Search runs a unified search over the configured collections.
func (s *Service) Search(ctx context.Context, text, tenantID string, topK int) ([]search.Result, error) {
	return s.search.Search(ctx, text, tenantID, topK)
}

// SearchCollection searches a single collection.
func (s *Service) SearchCollection(ctx context.Context, text, tenantID, collection string, topK int) ([]search.Result, error) {
	return s.search.SearchCollection(ctx, text, tenantID, collection, topK)
}

func (s *Service) deleteFailed(ctx context.Context, op, collection string, err error, fields ...zap.Field) {
	DeleteFailures.WithLabelValues(op, collection).Inc()
	fields = append(fields,
		zap.String("op", op),
		zap.String("collection", collection),
		zap.Error(err))
	s.logger.With(logging.ContextFields(ctx)...).Warn("delete failed", fields...)
}
