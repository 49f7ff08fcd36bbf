package index_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/semindex/internal/collections"
	"github.com/fyrsmithlabs/semindex/internal/config"
	"github.com/fyrsmithlabs/semindex/internal/index"
	"github.com/fyrsmithlabs/semindex/internal/indexer"
	"github.com/fyrsmithlabs/semindex/internal/logging"
	"github.com/fyrsmithlabs/semindex/internal/pointid"
	"github.com/fyrsmithlabs/semindex/internal/search"
	"github.com/fyrsmithlabs/semindex/internal/vectorstore"
)

func vectorFor(text string) []float32 {
	switch {
	case strings.Contains(text, "red"):
		return []float32{1, 0.1, 0}
	case strings.Contains(text, "shipping"):
		return []float32{0.1, 1, 0}
	default:
		return []float32{0.1, 0.1, 1}
	}
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return vectorFor(text), nil
}

func (fakeEmbedder) Dimension() int { return 3 }

// brokenDeletes fails every delete.
type brokenDeletes struct {
	vectorstore.Store
}

func (brokenDeletes) DeleteMany(context.Context, string, []string) error {
	return errors.New("connection refused")
}

func (brokenDeletes) DeleteByFilter(context.Context, string, vectorstore.Filter) error {
	return errors.New("connection refused")
}

func newService(t *testing.T, wrap func(vectorstore.Store) vectorstore.Store, logger *zap.Logger) *index.Service {
	t.Helper()
	ctx := context.Background()

	var store vectorstore.Store
	chromem, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	store = chromem
	if wrap != nil {
		store = wrap(store)
	}

	registry, err := collections.NewRegistry("semindex", 8, nil)
	require.NoError(t, err)
	require.NoError(t, vectorstore.EnsureCollections(ctx, store, registry.PhysicalNames(), 3, zap.NewNop()))

	pipeline, err := indexer.New(store, fakeEmbedder{}, registry, indexer.Config{MaxInputChars: 100}, logger)
	require.NoError(t, err)
	orchestrator, err := search.New(store, fakeEmbedder{}, registry, nil, search.Config{MinScore: 0.3}, logger)
	require.NoError(t, err)

	return index.New(pipeline, orchestrator, store, registry, logger)
}

func upsert(t *testing.T, svc *index.Service, items ...indexer.Item) {
	t.Helper()
	report, err := svc.UpsertItems(context.Background(), items)
	require.NoError(t, err)
	require.Equal(t, len(items), report.Indexed, "failed: %+v", report.Failed)
}

func TestService_DeleteItems(t *testing.T) {
	svc := newService(t, nil, nil)
	ctx := context.Background()
	upsert(t, svc,
		indexer.Item{ID: "p1", Collection: "products", TenantID: "t1", Text: "red shoes"},
		indexer.Item{ID: "p2", Collection: "products", TenantID: "t1", Text: "red hat"},
	)

	require.NoError(t, svc.DeleteItems(ctx, "products", "t1", []string{"p1"}))

	results, err := svc.SearchCollection(ctx, "red", "t1", "products", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, pointid.For("products/t1", "p2"), results[0].ID)
}

func TestService_SameSourceIDAcrossTenants(t *testing.T) {
	svc := newService(t, nil, nil)
	ctx := context.Background()
	upsert(t, svc, indexer.Item{ID: "p1", Collection: "faqs", TenantID: "tenantA", Text: "red returns"})
	upsert(t, svc, indexer.Item{ID: "p1", Collection: "faqs", TenantID: "tenantB", Text: "red exchanges"})

	a, err := svc.SearchCollection(ctx, "red", "tenantA", "faqs", 10)
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, "red returns", a[0].Payload[collections.KeyContent])

	b, err := svc.SearchCollection(ctx, "red", "tenantB", "faqs", 10)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.NotEqual(t, a[0].ID, b[0].ID)

	require.NoError(t, svc.DeleteItems(ctx, "faqs", "tenantB", []string{"p1"}))

	a, err = svc.SearchCollection(ctx, "red", "tenantA", "faqs", 10)
	require.NoError(t, err)
	assert.Len(t, a, 1)
	b, err = svc.SearchCollection(ctx, "red", "tenantB", "faqs", 10)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestService_DeleteItemsInvalid(t *testing.T) {
	svc := newService(t, nil, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.DeleteItems(ctx, "recipes", "t1", []string{"a"}), index.ErrInvalidRequest)
	assert.ErrorIs(t, svc.DeleteItems(ctx, "faqs", "t1", []string{"a", ""}), index.ErrInvalidRequest)
	assert.ErrorIs(t, svc.DeleteItems(ctx, "faqs", "", []string{"a"}), index.ErrInvalidRequest)
	assert.NoError(t, svc.DeleteItems(ctx, "faqs", "t1", nil))
}

func TestService_DeleteByTenant(t *testing.T) {
	svc := newService(t, nil, nil)
	ctx := context.Background()
	upsert(t, svc,
		indexer.Item{ID: "p1", Collection: "products", TenantID: "t1", Text: "red shoes"},
		indexer.Item{ID: "f1", Collection: "faqs", TenantID: "t1", Text: "red returns"},
		indexer.Item{ID: "p1", Collection: "products", TenantID: "t2", Text: "red scarf"},
	)

	require.NoError(t, svc.DeleteByTenant(ctx, "t1"))

	results, err := svc.Search(ctx, "red", "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, svc.DeleteByTenant(ctx, ""), index.ErrInvalidRequest)
}

func TestService_DeleteByFilter(t *testing.T) {
	svc := newService(t, nil, nil)
	ctx := context.Background()
	upsert(t, svc,
		indexer.Item{ID: "p1", Collection: "products", TenantID: "t1", Text: "red shoes", Metadata: map[string]any{"category_id": "shoes"}},
		indexer.Item{ID: "p2", Collection: "products", TenantID: "t1", Text: "red hat", Metadata: map[string]any{"category_id": "hats"}},
		indexer.Item{ID: "p3", Collection: "products", TenantID: "t2", Text: "red boots", Metadata: map[string]any{"category_id": "shoes"}},
	)

	require.NoError(t, svc.DeleteByFilter(ctx, "products", "t1", vectorstore.Filter{"category_id": "shoes"}))

	results, err := svc.SearchCollection(ctx, "red", "t1", "products", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hats", results[0].Payload["category_id"])

	results, err = svc.SearchCollection(ctx, "red", "t2", "products", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestService_DeleteByFilterInvalid(t *testing.T) {
	svc := newService(t, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		collection string
		tenant     string
		filter     vectorstore.Filter
	}{
		{name: "unknown collection", collection: "recipes", tenant: "t1", filter: vectorstore.Filter{"a": "b"}},
		{name: "empty filter", collection: "faqs", tenant: "t1", filter: vectorstore.Filter{}},
		{name: "missing tenant", collection: "faqs", tenant: "", filter: vectorstore.Filter{"a": "b"}},
		{name: "tenant override", collection: "faqs", tenant: "t1", filter: vectorstore.Filter{vectorstore.TenantKey: "t2"}},
		{name: "unsupported value", collection: "faqs", tenant: "t1", filter: vectorstore.Filter{"price": 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.DeleteByFilter(ctx, tt.collection, tt.tenant, tt.filter)
			assert.ErrorIs(t, err, index.ErrInvalidRequest)
		})
	}
}

func TestService_DeletesAreBestEffort(t *testing.T) {
	logs := logging.NewTestLogger()
	svc := newService(t, func(s vectorstore.Store) vectorstore.Store { return brokenDeletes{Store: s} }, logs.Logger)
	ctx := context.Background()

	before := testutil.ToFloat64(index.DeleteFailures.WithLabelValues("delete_items", "faqs"))

	assert.NoError(t, svc.DeleteItems(ctx, "faqs", "t1", []string{"a"}))
	assert.NoError(t, svc.DeleteByTenant(ctx, "t1"))
	assert.NoError(t, svc.DeleteByFilter(ctx, "faqs", "t1", vectorstore.Filter{"category_id": "x"}))

	assert.Equal(t, before+1, testutil.ToFloat64(index.DeleteFailures.WithLabelValues("delete_items", "faqs")))
	logs.AssertLogged(t, zapcore.WarnLevel, "delete failed")
	logs.AssertField(t, "delete failed", "op", "delete_by_tenant")
	assert.Len(t, logs.FilterMessage("delete failed").All(), 1+len(collections.Kinds())+1)
}

func newEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := struct {
			Embeddings [][]float32 `json:"embeddings"`
		}{}
		for _, text := range req.Texts {
			resp.Embeddings = append(resp.Embeddings, vectorFor(text))
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func loadConfig(t *testing.T, embedURL string) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SEMINDEX_EMBEDDINGS_BASE_URL", embedURL)
	t.Setenv("SEMINDEX_EMBEDDINGS_DIMENSION", "3")
	t.Setenv("SEMINDEX_VECTORSTORE_PROVIDER", "chromem")
	t.Setenv("SEMINDEX_RERANK_PROVIDER", "simple")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestBuild_EndToEnd(t *testing.T) {
	srv := newEmbeddingServer(t)
	cfg := loadConfig(t, srv.URL)
	ctx := context.Background()

	svc, err := index.Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	report, err := svc.UpsertItems(ctx, []indexer.Item{
		{ID: "p1", Collection: "products", TenantID: "t1", Text: "red running shoes"},
		{ID: "f1", Collection: "faqs", TenantID: "t1", Text: "shipping takes three days"},
		{ID: "p1", Collection: "products", TenantID: "t2", Text: "red sandals"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Indexed)

	results, err := svc.Search(ctx, "red shoes", "t1", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "products", results[0].Type)
	assert.Equal(t, "p1", results[0].Payload[collections.KeySourceID])
	assert.Equal(t, "t1", results[0].Payload[vectorstore.TenantKey])

	results, err = svc.SearchCollection(ctx, "shipping", "t1", "faqs", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "shipping takes three days", results[0].Payload[collections.KeyContent])

	require.NoError(t, svc.DeleteItems(ctx, "products", "t1", []string{"p1"}))
	results, err = svc.SearchCollection(ctx, "red", "t1", "products", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = svc.SearchCollection(ctx, "red", "t2", "products", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].Payload[collections.KeySourceID])
}

func TestBuild_RejectsDimensionMismatch(t *testing.T) {
	srv := newEmbeddingServer(t)
	cfg := loadConfig(t, srv.URL)
	cfg.VectorStore.ChromemPath = t.TempDir()
	ctx := context.Background()

	svc, err := index.Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	upsert(t, svc, indexer.Item{ID: "f1", Collection: "faqs", TenantID: "t1", Text: "shipping"})
	require.NoError(t, svc.Close())

	cfg.Embeddings.Dimension = 4
	_, err = index.Build(ctx, cfg, zap.NewNop())
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}
