package search_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/semindex/internal/collections"
	"github.com/fyrsmithlabs/semindex/internal/embeddings"
	"github.com/fyrsmithlabs/semindex/internal/logging"
	"github.com/fyrsmithlabs/semindex/internal/reranker"
	"github.com/fyrsmithlabs/semindex/internal/sanitize"
	"github.com/fyrsmithlabs/semindex/internal/search"
	"github.com/fyrsmithlabs/semindex/internal/vectorstore"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

// flakyStore fails queries against the listed physical collections and
// records the topK each collection was queried with.
type flakyStore struct {
	vectorstore.Store

	mu      sync.Mutex
	failing map[string]bool
	topK    map[string]int
}

func (s *flakyStore) Query(ctx context.Context, collection string, q vectorstore.Query) ([]vectorstore.Match, error) {
	s.mu.Lock()
	s.topK[collection] = q.TopK
	fail := s.failing[collection]
	s.mu.Unlock()

	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return s.Store.Query(ctx, collection, q)
}

// stubReranker returns a fixed ranking or error and records its input.
type stubReranker struct {
	ranking    reranker.Ranking
	err        error
	candidates []string
	topN       int
}

func (r *stubReranker) Rerank(_ context.Context, _ string, candidates []string, topN int) (reranker.Ranking, error) {
	r.candidates = candidates
	r.topN = topN
	return r.ranking, r.err
}

func (r *stubReranker) Close() error { return nil }

type fixture struct {
	store    *flakyStore
	registry *collections.Registry
	logs     *logging.TestLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	chromem, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	registry, err := collections.NewRegistry("semindex", 8, nil)
	require.NoError(t, err)
	require.NoError(t, vectorstore.EnsureCollections(context.Background(), chromem, registry.PhysicalNames(), 3, zap.NewNop()))

	return &fixture{
		store:    &flakyStore{Store: chromem, failing: map[string]bool{}, topK: map[string]int{}},
		registry: registry,
		logs:     logging.NewTestLogger(),
	}
}

func (f *fixture) seed(t *testing.T, kind, id, tenant string, vec []float32, content string) {
	t.Helper()
	spec, err := f.registry.Lookup(kind)
	require.NoError(t, err)

	payload := sanitize.Metadata{}
	payload.Set(vectorstore.TenantKey, sanitize.String(tenant))
	payload.Set(collections.KeyContent, sanitize.String(content))
	payload.Set(collections.KeySourceID, sanitize.String(id))
	require.NoError(t, f.store.Upsert(context.Background(), spec.Physical, []vectorstore.Record{
		{ID: id, Vector: vec, Payload: payload},
	}))
}

func (f *fixture) orchestrator(t *testing.T, rr reranker.Reranker, cfg search.Config) *search.Orchestrator {
	t.Helper()
	o, err := search.New(f.store, &fakeEmbedder{}, f.registry, rr, cfg, f.logs.Logger)
	require.NoError(t, err)
	return o
}

func ids(results []search.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func defaultConfig() search.Config {
	return search.Config{
		Collections:         []string{"faqs", "web", "offers"},
		MinScore:            0.3,
		CandidateMultiplier: 3,
		CandidateChars:      300,
	}
}

func TestSearch_MergesAndOrdersByScore(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "faqs", "faq-1", "t1", []float32{0.6, 0.8, 0}, "faq one")
	f.seed(t, "web", "web-1", "t1", []float32{1, 0, 0}, "web one")
	f.seed(t, "offers", "offer-1", "t1", []float32{0.8, 0.6, 0}, "offer one")

	o := f.orchestrator(t, nil, defaultConfig())
	results, err := o.Search(context.Background(), "query", "t1", 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"web-1", "offer-1", "faq-1"}, ids(results))
	assert.Equal(t, "web", results[0].Type)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Equal(t, "web one", results[0].Payload[collections.KeyContent])
	assert.Nil(t, results[0].RerankScore)
}

func TestSearch_DegradesWhenCollectionFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "faqs", "faq-1", "t1", []float32{1, 0, 0}, "faq one")
	f.seed(t, "web", "web-1", "t1", []float32{1, 0, 0}, "web one")
	f.seed(t, "offers", "offer-1", "t1", []float32{0.8, 0.6, 0}, "offer one")
	f.store.failing["semindex_web"] = true

	before := testutil.ToFloat64(search.CollectionFailures.WithLabelValues("web"))

	o := f.orchestrator(t, nil, defaultConfig())
	results, err := o.Search(context.Background(), "query", "t1", 10)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"faq-1", "offer-1"}, ids(results))
	assert.Equal(t, before+1, testutil.ToFloat64(search.CollectionFailures.WithLabelValues("web")))
	f.logs.AssertField(t, "collection query failed", "collection", "web")
}

func TestSearch_AllCollectionsFail(t *testing.T) {
	f := newFixture(t)
	f.store.failing["semindex_faqs"] = true

	o := f.orchestrator(t, nil, search.Config{Collections: []string{"faqs"}})
	results, err := o.Search(context.Background(), "query", "t1", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_ScoreThreshold(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "faqs", "close", "t1", []float32{1, 0, 0}, "close")
	f.seed(t, "faqs", "far", "t1", []float32{0.2, 0.98, 0}, "far")

	cfg := defaultConfig()
	cfg.MinScore = 0.5
	o := f.orchestrator(t, nil, cfg)

	results, err := o.Search(context.Background(), "query", "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"close"}, ids(results))
}

func TestSearch_NothingAboveThreshold(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "faqs", "far", "t1", []float32{0, 1, 0}, "far")
	rr := &stubReranker{ranking: reranker.IndexRanking{0}}

	o := f.orchestrator(t, rr, defaultConfig())
	results, err := o.Search(context.Background(), "query", "t1", 10)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Nil(t, rr.candidates)
}

func TestSearch_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "faqs", "mine", "t1", []float32{1, 0, 0}, "mine")
	f.seed(t, "faqs", "theirs", "t2", []float32{1, 0, 0}, "theirs")

	o := f.orchestrator(t, nil, defaultConfig())
	results, err := o.Search(context.Background(), "query", "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, ids(results))
}

func TestSearch_TruncatesToTopK(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.seed(t, "faqs", fmt.Sprintf("faq-%d", i), "t1", []float32{1, float32(i) * 0.1, 0}, "faq")
	}

	o := f.orchestrator(t, nil, defaultConfig())
	results, err := o.Search(context.Background(), "query", "t1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"faq-0", "faq-1"}, ids(results))
}

func TestSearch_AmplifiesProducts(t *testing.T) {
	f := newFixture(t)
	cfg := defaultConfig()
	cfg.Collections = []string{"products", "faqs"}

	o := f.orchestrator(t, nil, cfg)
	_, err := o.Search(context.Background(), "query", "t1", 4)
	require.NoError(t, err)

	assert.Equal(t, 12, f.store.topK["semindex_products"])
	assert.Equal(t, 4, f.store.topK["semindex_faqs"])
}

func TestSearch_CapsCandidateLimit(t *testing.T) {
	tests := []struct {
		name         string
		topK         int
		wantProducts int
		wantFAQs     int
	}{
		{name: "below cap", topK: 5, wantProducts: 15, wantFAQs: 5},
		{name: "amplified past cap", topK: 10, wantProducts: 20, wantFAQs: 10},
		{name: "topK past cap", topK: 50, wantProducts: 20, wantFAQs: 20},
		{name: "overflowing topK", topK: int(^uint(0) >> 1), wantProducts: 20, wantFAQs: 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			cfg := defaultConfig()
			cfg.Collections = []string{"products", "faqs"}
			cfg.MaxCandidates = 20

			o := f.orchestrator(t, nil, cfg)
			_, err := o.Search(context.Background(), "query", "t1", tt.topK)
			require.NoError(t, err)

			assert.Equal(t, tt.wantProducts, f.store.topK["semindex_products"])
			assert.Equal(t, tt.wantFAQs, f.store.topK["semindex_faqs"])
		})
	}
}

func TestSearch_Rerank(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "faqs", "a", "t1", []float32{1, 0, 0}, "alpha")
	f.seed(t, "faqs", "b", "t1", []float32{0.8, 0.6, 0}, "bravo")
	f.seed(t, "faqs", "c", "t1", []float32{0.6, 0.8, 0}, "charlie")

	tests := []struct {
		name    string
		ranking reranker.Ranking
		topK    int
		want    []string
		scores  []float64
	}{
		{
			name:    "index ranking",
			ranking: reranker.IndexRanking{2, 0, 1},
			topK:    3,
			want:    []string{"c", "a", "b"},
		},
		{
			name:    "scored ranking",
			ranking: reranker.ScoredRanking{{Index: 1, Score: 0.9}, {Index: 2, Score: 0.4}},
			topK:    3,
			want:    []string{"b", "c"},
			scores:  []float64{0.9, 0.4},
		},
		{
			name:    "out of range and duplicate indices discarded",
			ranking: reranker.IndexRanking{7, 1, -1, 1, 0},
			topK:    3,
			want:    []string{"b", "a"},
		},
		{
			name:    "truncated to topK",
			ranking: reranker.IndexRanking{2, 1, 0},
			topK:    2,
			want:    []string{"c", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := &stubReranker{ranking: tt.ranking}
			o := f.orchestrator(t, rr, defaultConfig())

			results, err := o.Search(context.Background(), "query", "t1", tt.topK)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(results))
			assert.Equal(t, []string{"alpha", "bravo", "charlie"}, rr.candidates)
			assert.Equal(t, tt.topK, rr.topN)

			for i, s := range tt.scores {
				require.NotNil(t, results[i].RerankScore)
				assert.InDelta(t, s, *results[i].RerankScore, 1e-9)
			}
		})
	}
}

func TestSearch_RerankFallback(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "faqs", "a", "t1", []float32{1, 0, 0}, "alpha")
	f.seed(t, "faqs", "b", "t1", []float32{0.8, 0.6, 0}, "bravo")
	f.seed(t, "faqs", "c", "t1", []float32{0.6, 0.8, 0}, "charlie")

	tests := []struct {
		name   string
		rr     *stubReranker
		reason string
	}{
		{
			name:   "rerank error",
			rr:     &stubReranker{err: fmt.Errorf("%w: status 500", reranker.ErrRerankFailed)},
			reason: "error",
		},
		{
			name:   "malformed ranking",
			rr:     &stubReranker{err: reranker.ErrMalformedRanking},
			reason: "error",
		},
		{
			name:   "no usable indices",
			rr:     &stubReranker{ranking: reranker.IndexRanking{5, 9}},
			reason: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(search.RerankFallbacks.WithLabelValues(tt.reason))
			o := f.orchestrator(t, tt.rr, defaultConfig())

			results, err := o.Search(context.Background(), "query", "t1", 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids(results))
			assert.Equal(t, before+1, testutil.ToFloat64(search.RerankFallbacks.WithLabelValues(tt.reason)))
		})
	}
	f.logs.AssertLogged(t, zapcore.WarnLevel, "using score order")
}

func TestSearch_CandidateTextTruncated(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "faqs", "a", "t1", []float32{1, 0, 0}, strings.Repeat("é", 20))

	cfg := defaultConfig()
	cfg.CandidateChars = 5
	rr := &stubReranker{ranking: reranker.IndexRanking{0}}
	o := f.orchestrator(t, rr, cfg)

	_, err := o.Search(context.Background(), "query", "t1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"ééééé"}, rr.candidates)
}

func TestSearch_WithSimpleReranker(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "faqs", "a", "t1", []float32{1, 0, 0}, "shipping takes five days")
	f.seed(t, "faqs", "b", "t1", []float32{0.8, 0.6, 0}, "refund policy for returns")

	o := f.orchestrator(t, reranker.NewSimpleReranker(), defaultConfig())
	results, err := o.Search(context.Background(), "refund returns", "t1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(results))
	require.NotNil(t, results[0].RerankScore)
	assert.InDelta(t, 1.0, *results[0].RerankScore, 1e-9)
}

func TestSearchCollection(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "faqs", "faq-1", "t1", []float32{1, 0, 0}, "faq")
	f.seed(t, "bot-faqs", "bot-1", "t1", []float32{1, 0, 0}, "bot")

	o := f.orchestrator(t, nil, defaultConfig())
	results, err := o.SearchCollection(context.Background(), "query", "t1", "bot-faqs", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bot-1", results[0].ID)
	assert.Equal(t, "bot-faqs", results[0].Type)

	_, err = o.SearchCollection(context.Background(), "query", "t1", "recipes", 5)
	assert.ErrorIs(t, err, collections.ErrUnknownCollection)
}

func TestSearch_InvalidQuery(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, nil, defaultConfig())

	_, err := o.Search(context.Background(), "query", "", 5)
	assert.ErrorIs(t, err, search.ErrInvalidQuery)

	_, err = o.Search(context.Background(), "query", "t1", 0)
	assert.ErrorIs(t, err, search.ErrInvalidQuery)
}

func TestSearch_EmbedFailure(t *testing.T) {
	f := newFixture(t)
	o, err := search.New(f.store, &fakeEmbedder{err: embeddings.ErrEmbeddingFailed}, f.registry, nil, defaultConfig(), nil)
	require.NoError(t, err)

	_, err = o.Search(context.Background(), "query", "t1", 5)
	assert.ErrorIs(t, err, embeddings.ErrEmbeddingFailed)
}

func TestNew_UnknownCollection(t *testing.T) {
	f := newFixture(t)
	_, err := search.New(f.store, &fakeEmbedder{}, f.registry, nil, search.Config{Collections: []string{"recipes"}}, nil)
	assert.ErrorIs(t, err, collections.ErrUnknownCollection)
}
