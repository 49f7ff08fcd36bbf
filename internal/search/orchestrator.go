// Package search runs one query across several collections and merges the
// results.
//
// The query is embedded once and sent to every target collection
// concurrently, scoped to the caller's tenant. A collection that fails or
// times out is logged and left out. Surviving matches below the minimum
// score are dropped; the rest are ordered by score and, when a reranker is
// configured, re-ordered by it. A failed rerank keeps score order.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/semindex/internal/collections"
	"github.com/fyrsmithlabs/semindex/internal/embeddings"
	"github.com/fyrsmithlabs/semindex/internal/logging"
	"github.com/fyrsmithlabs/semindex/internal/reranker"
	"github.com/fyrsmithlabs/semindex/internal/vectorstore"
)

var tracer = otel.Tracer("semindex.search")

const defaultMaxCandidates = 100

// ErrInvalidQuery is returned for an empty tenant or non-positive topK.
var ErrInvalidQuery = errors.New("invalid search query")

// Result is one ranked match.
type Result struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	// RerankScore is set when the reranker returned scores.
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// Config tunes the orchestrator.
type Config struct {
	// Collections lists the kinds Search fans out to.
	Collections []string
	// MinScore drops matches scoring below it.
	MinScore float64
	// CandidateMultiplier amplifies topK for amplified kinds.
	CandidateMultiplier int
	// MaxCandidates caps the limit of any single collection query.
	MaxCandidates int
	// QueryTimeout bounds each per-collection query.
	QueryTimeout time.Duration
	// CandidateChars caps the text sent to the reranker per match.
	CandidateChars int
}

// Orchestrator is the unified search orchestrator.
type Orchestrator struct {
	store    vectorstore.Store
	embedder embeddings.Embedder
	registry *collections.Registry
	reranker reranker.Reranker
	targets  []collections.Spec
	cfg      Config
	logger   *zap.Logger
}

// New creates an Orchestrator. rr may be nil to disable reranking.
func New(store vectorstore.Store, embedder embeddings.Embedder, registry *collections.Registry, rr reranker.Reranker, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if store == nil || embedder == nil || registry == nil {
		return nil, errors.New("search: store, embedder and registry are required")
	}
	targets, err := registry.Resolve(cfg.Collections)
	if err != nil {
		return nil, fmt.Errorf("search collections: %w", err)
	}
	if len(targets) == 0 {
		targets = registry.All()
	}
	if cfg.CandidateMultiplier < 1 {
		cfg.CandidateMultiplier = 1
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidates
	}
	if cfg.CandidateChars <= 0 {
		cfg.CandidateChars = 300
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		embedder: embedder,
		registry: registry,
		reranker: rr,
		targets:  targets,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Search queries every configured collection for tenantID and returns at
// most topK results. Only an invalid query or a failed query embedding
// return an error.
func (o *Orchestrator) Search(ctx context.Context, text, tenantID string, topK int) ([]Result, error) {
	return o.search(ctx, text, tenantID, topK, o.targets)
}

// SearchCollection is Search restricted to one collection.
func (o *Orchestrator) SearchCollection(ctx context.Context, text, tenantID, collection string, topK int) ([]Result, error) {
	spec, err := o.registry.Lookup(collection)
	if err != nil {
		return nil, err
	}
	return o.search(ctx, text, tenantID, topK, []collections.Spec{spec})
}

func (o *Orchestrator) search(ctx context.Context, text, tenantID string, topK int, targets []collections.Spec) (results []Result, err error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: empty tenant id", ErrInvalidQuery)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidQuery, topK)
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "search.Search")
	span.SetAttributes(attribute.Int("top_k", topK), attribute.Int("collections", len(targets)))
	defer func() {
		Duration.Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("results", len(results)))
		span.End()
	}()

	logger := o.logger.With(logging.ContextFields(ctx)...).With(zap.String("tenant_id", tenantID))

	filter, err := vectorstore.TenantFilter(tenantID, nil)
	if err != nil {
		return nil, err
	}

	vec, err := o.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	merged := o.fanOut(ctx, vec, filter, topK, targets, logger)

	kept := merged[:0]
	for _, r := range merged {
		if r.Score >= o.cfg.MinScore {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return []Result{}, nil
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	if o.reranker == nil {
		return truncate(kept, topK), nil
	}
	return o.rerank(ctx, text, kept, topK, logger), nil
}

// fanOut queries every target concurrently and concatenates the matches
// in target order. Failed targets contribute nothing.
func (o *Orchestrator) fanOut(ctx context.Context, vec []float32, filter vectorstore.Filter, topK int, targets []collections.Spec, logger *zap.Logger) []Result {
	perTarget := make([][]Result, len(targets))

	g := new(errgroup.Group)
	for i, spec := range targets {
		g.Go(func() error {
			limit := o.queryLimit(spec, topK)

			qctx := ctx
			if o.cfg.QueryTimeout > 0 {
				var cancel context.CancelFunc
				qctx, cancel = context.WithTimeout(ctx, o.cfg.QueryTimeout)
				defer cancel()
			}

			matches, err := o.store.Query(qctx, spec.Physical, vectorstore.Query{
				Vector:         vec,
				TopK:           limit,
				Filter:         filter,
				IncludePayload: true,
			})
			if err != nil {
				CollectionFailures.WithLabelValues(string(spec.Kind)).Inc()
				logger.Warn("collection query failed",
					zap.String("collection", string(spec.Kind)),
					zap.Error(err))
				return nil
			}

			out := make([]Result, 0, len(matches))
			for _, m := range matches {
				out = append(out, Result{
					ID:      m.ID,
					Type:    string(spec.Kind),
					Score:   float64(m.Score),
					Payload: m.Payload,
				})
			}
			perTarget[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var merged []Result
	for _, rs := range perTarget {
		merged = append(merged, rs...)
	}
	return merged
}

// queryLimit is topK, amplified for amplified kinds, capped at MaxCandidates.
func (o *Orchestrator) queryLimit(spec collections.Spec, topK int) int {
	ceiling := o.cfg.MaxCandidates
	if topK >= ceiling {
		return ceiling
	}
	if spec.Amplify {
		if topK > ceiling/o.cfg.CandidateMultiplier {
			return ceiling
		}
		return topK * o.cfg.CandidateMultiplier
	}
	return topK
}

// rerank re-orders ranked (already in score order) with the reranker and
// falls back to score order on any failure.
func (o *Orchestrator) rerank(ctx context.Context, query string, ranked []Result, topK int, logger *zap.Logger) []Result {
	candidates := make([]string, len(ranked))
	for i, r := range ranked {
		candidates[i] = candidateText(r, o.cfg.CandidateChars)
	}

	ranking, err := o.reranker.Rerank(ctx, query, candidates, topK)
	if err != nil {
		RerankFallbacks.WithLabelValues("error").Inc()
		logger.Warn("rerank failed, using score order",
			zap.Int("candidates", len(candidates)),
			zap.Error(err))
		return truncate(ranked, topK)
	}

	order := reranker.Apply(ranking, len(ranked))
	if len(order) == 0 {
		RerankFallbacks.WithLabelValues("empty").Inc()
		logger.Warn("rerank returned no usable indices, using score order",
			zap.Int("candidates", len(candidates)),
			zap.Int("returned", ranking.Len()))
		return truncate(ranked, topK)
	}

	var scores map[int]float64
	if scored, ok := ranking.(reranker.ScoredRanking); ok {
		scores = make(map[int]float64, len(scored))
		for _, s := range scored {
			if _, seen := scores[s.Index]; !seen {
				scores[s.Index] = s.Score
			}
		}
	}

	out := make([]Result, 0, min(len(order), topK))
	for _, idx := range order {
		if len(out) == topK {
			break
		}
		r := ranked[idx]
		if s, ok := scores[idx]; ok {
			r.RerankScore = &s
		}
		out = append(out, r)
	}
	return out
}

// candidateText is the payload content capped at limit runes.
func candidateText(r Result, limit int) string {
	text, _ := r.Payload[collections.KeyContent].(string)
	if text == "" {
		text, _ = r.Payload["title"].(string)
	}
	if utf8.RuneCountInString(text) > limit {
		text = string([]rune(text)[:limit])
	}
	return text
}

func truncate(results []Result, topK int) []Result {
	if len(results) > topK {
		return results[:topK]
	}
	return results
}
