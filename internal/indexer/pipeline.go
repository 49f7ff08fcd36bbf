// Package indexer turns domain items into vector records and writes them
// in bounded chunks.
//
// A chunk builds its records concurrently (id, embed, payload) and writes
// the survivors with a single store call, retried with backoff. A failing
// item is reported and skipped; it never fails its chunk. A chunk whose
// write is abandoned reports its items and never fails the batch.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/semindex/internal/collections"
	"github.com/fyrsmithlabs/semindex/internal/embeddings"
	"github.com/fyrsmithlabs/semindex/internal/logging"
	"github.com/fyrsmithlabs/semindex/internal/retry"
	"github.com/fyrsmithlabs/semindex/internal/sanitize"
	"github.com/fyrsmithlabs/semindex/internal/vectorstore"
)

var tracer = otel.Tracer("semindex.indexer")

// ErrInvalidItem is reported for items missing an id, tenant or collection.
var ErrInvalidItem = errors.New("invalid item")

// Item is one piece of content to index.
type Item struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	TenantID   string         `json:"tenant_id"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Stage names where an item failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageEmbed    Stage = "embed"
	StageWrite    Stage = "write"
)

// Failure records one item that was not indexed.
type Failure struct {
	ItemID     string `json:"item_id"`
	Collection string `json:"collection"`
	Stage      Stage  `json:"stage"`
	Err        error  `json:"-"`
}

// MarshalJSON renders Err as a string.
func (f Failure) MarshalJSON() ([]byte, error) {
	type alias Failure
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		alias
		Error string `json:"error"`
	}{alias(f), msg})
}

// Report summarizes an UpsertBatch call.
type Report struct {
	Total   int       `json:"total"`
	Indexed int       `json:"indexed"`
	Failed  []Failure `json:"failed"`
}

// Config tunes the pipeline.
type Config struct {
	// MaxInputChars caps the stored content payload.
	MaxInputChars int
	// BuildConcurrency bounds concurrent record builds within a chunk.
	BuildConcurrency int
	// ItemTimeout bounds building one record, embed call included.
	ItemTimeout time.Duration
	// Retry governs the chunk write.
	Retry retry.Policy
}

// Pipeline is the batch upsert pipeline.
type Pipeline struct {
	store    vectorstore.Store
	embedder embeddings.Embedder
	registry *collections.Registry
	cfg      Config
	logger   *zap.Logger
}

// New creates a Pipeline.
func New(store vectorstore.Store, embedder embeddings.Embedder, registry *collections.Registry, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if store == nil || embedder == nil || registry == nil {
		return nil, errors.New("indexer: store, embedder and registry are required")
	}
	if cfg.BuildConcurrency < 1 {
		cfg.BuildConcurrency = 1
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:    store,
		embedder: embedder,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

type group struct {
	spec  collections.Spec
	items []Item
}

// UpsertBatch indexes items. The report is always returned; the error is
// non-nil only when ctx ended before every chunk ran, in which case the
// unprocessed items are reported as failed.
func (p *Pipeline) UpsertBatch(ctx context.Context, items []Item) (*Report, error) {
	ctx, span := tracer.Start(ctx, "indexer.UpsertBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("items", len(items)))

	logger := p.logger.With(logging.ContextFields(ctx)...)
	report := &Report{Total: len(items), Failed: []Failure{}}

	groups := p.groupItems(items, report, logger)
	for _, g := range groups {
		for start := 0; start < len(g.items); start += g.spec.BatchSize {
			end := min(start+g.spec.BatchSize, len(g.items))
			chunk := g.items[start:end]

			if err := ctx.Err(); err != nil {
				for _, item := range g.items[start:] {
					report.fail(item, StageWrite, err)
				}
				break
			}
			p.processChunk(ctx, g.spec, chunk, report, logger)
		}
	}

	span.SetAttributes(attribute.Int("indexed", report.Indexed), attribute.Int("failed", len(report.Failed)))
	logger.Info("batch upsert finished",
		zap.Int("total", report.Total),
		zap.Int("indexed", report.Indexed),
		zap.Int("failed", len(report.Failed)))

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	return report, nil
}

// groupItems validates items and groups them by collection in first-seen order.
func (p *Pipeline) groupItems(items []Item, report *Report, logger *zap.Logger) []*group {
	var groups []*group
	byKind := make(map[collections.Kind]*group)
	for _, item := range items {
		spec, err := p.validate(item)
		if err != nil {
			logger.Warn("item rejected",
				zap.String("item_id", item.ID),
				zap.String("collection", item.Collection),
				zap.Error(err))
			report.fail(item, StageValidate, err)
			continue
		}
		g, ok := byKind[spec.Kind]
		if !ok {
			g = &group{spec: spec}
			byKind[spec.Kind] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, item)
	}
	return groups
}

func (p *Pipeline) validate(item Item) (collections.Spec, error) {
	if item.ID == "" {
		return collections.Spec{}, fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if item.TenantID == "" {
		return collections.Spec{}, fmt.Errorf("%w: empty tenant id", ErrInvalidItem)
	}
	spec, err := p.registry.Lookup(item.Collection)
	if err != nil {
		return collections.Spec{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	return spec, nil
}

type built struct {
	item   Item
	record vectorstore.Record
	err    error
}

func (p *Pipeline) processChunk(ctx context.Context, spec collections.Spec, chunk []Item, report *Report, logger *zap.Logger) {
	ctx, span := tracer.Start(ctx, "indexer.chunk")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", spec.Physical),
		attribute.Int("items", len(chunk)))

	logger = logger.With(zap.String("collection", string(spec.Kind)))

	if spec.PurgeBeforeUpsert {
		ids := make([]string, len(chunk))
		for i, item := range chunk {
			ids[i] = spec.RecordID(item.TenantID, item.ID)
		}
		if err := p.store.DeleteMany(ctx, spec.Physical, ids); err != nil {
			logger.Warn("purge before upsert failed", zap.Int("items", len(chunk)), zap.Error(err))
		}
	}

	results := make([]built, len(chunk))
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.BuildConcurrency)
	for i, item := range chunk {
		g.Go(func() error {
			rec, err := p.build(ctx, spec, item)
			results[i] = built{item: item, record: rec, err: err}
			return nil
		})
	}
	_ = g.Wait()

	records := make([]vectorstore.Record, 0, len(chunk))
	written := make([]Item, 0, len(chunk))
	for _, r := range results {
		if r.err != nil {
			logger.Warn("item build failed",
				zap.String("item_id", r.item.ID),
				zap.Error(r.err))
			report.fail(r.item, StageEmbed, r.err)
			continue
		}
		records = append(records, r.record)
		written = append(written, r.item)
	}
	if len(records) == 0 {
		return
	}

	attempts, err := retry.Do(ctx, p.cfg.Retry, func(ctx context.Context) error {
		err := p.store.Upsert(ctx, spec.Physical, records)
		if err != nil && vectorstore.IsPermanent(err) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		logger.Warn("chunk write failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err))
	})
	ChunkAttempts.WithLabelValues(string(spec.Kind)).Observe(float64(attempts))

	if err != nil {
		ids := make([]string, len(written))
		for i, item := range written {
			ids[i] = item.ID
			report.fail(item, StageWrite, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("chunk abandoned",
			zap.Strings("item_ids", ids),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return
	}

	report.Indexed += len(written)
	ItemsTotal.WithLabelValues(string(spec.Kind), "indexed").Add(float64(len(written)))
	logger.Debug("chunk written", zap.Int("records", len(records)), zap.Int("attempts", attempts))
}

// build derives the tenant-scoped id, embeds the text and assembles the payload.
func (p *Pipeline) build(ctx context.Context, spec collections.Spec, item Item) (vectorstore.Record, error) {
	if p.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ItemTimeout)
		defer cancel()
	}

	vec, err := p.embedder.Embed(ctx, item.Text)
	if err != nil {
		return vectorstore.Record{}, err
	}
	if dim := p.embedder.Dimension(); len(vec) != dim {
		return vectorstore.Record{}, fmt.Errorf("%w: expected %d, got %d", embeddings.ErrDimensionMismatch, dim, len(vec))
	}

	payload := sanitize.Flatten(item.Metadata)
	payload.Set(collections.KeySourceID, sanitize.String(item.ID))
	payload.Set(vectorstore.TenantKey, sanitize.String(item.TenantID))
	payload.Set(collections.KeyType, sanitize.String(string(spec.Kind)))
	payload.Set(collections.KeyContent, sanitize.String(embeddings.Normalize(item.Text, p.cfg.MaxInputChars)))

	return vectorstore.Record{
		ID:      spec.RecordID(item.TenantID, item.ID),
		Vector:  vec,
		Payload: payload,
	}, nil
}

func (r *Report) fail(item Item, stage Stage, err error) {
	r.Failed = append(r.Failed, Failure{
		ItemID:     item.ID,
		Collection: item.Collection,
		Stage:      stage,
		Err:        err,
	})
	label := "unknown"
	if kind, err := collections.ParseKind(item.Collection); err == nil {
		label = string(kind)
	}
	ItemsTotal.WithLabelValues(label, "failed").Inc()
}
