package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semindex/internal/config"
	"github.com/fyrsmithlabs/semindex/internal/index"
	"github.com/fyrsmithlabs/semindex/internal/indexer"
	"github.com/fyrsmithlabs/semindex/internal/vectorstore"
)

// newEmbeddingServer returns 3-dimensional vectors keyed on the first word.
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
		var resp struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		for _, text := range req.Texts {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Fields(strings.ToLower(text))[0]))
			sum := h.Sum32()
			resp.Embeddings = append(resp.Embeddings, []float32{float32(sum%7) + 1, float32(sum%5) + 1, float32(sum%3) + 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testConfig(t *testing.T, embedURL string) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SEMINDEX_SERVER_HTTP_HOST", "127.0.0.1")
	t.Setenv("SEMINDEX_SERVER_HTTP_PORT", strconv.Itoa(freePort(t)))
	t.Setenv("SEMINDEX_EMBEDDINGS_BASE_URL", embedURL)
	t.Setenv("SEMINDEX_EMBEDDINGS_DIMENSION", "3")
	t.Setenv("SEMINDEX_VECTORSTORE_PROVIDER", "chromem")
	t.Setenv("SEMINDEX_SEARCH_MIN_SCORE", "0")
	t.Setenv("SEMINDEX_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func startRun(t *testing.T, cfg *config.Config) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg)
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)
	return base, cancel, errCh
}

func waitStopped(t *testing.T, cancel context.CancelFunc, errCh <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type searchResponse struct {
	Results []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"results"`
}

func searchIDs(t *testing.T, base, tenant string) []string {
	t.Helper()
	resp := postJSON(t, base+"/v1/search", map[string]any{"query": "shoes", "tenant_id": tenant, "top_k": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sr searchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	ids := make([]string, 0, len(sr.Results))
	for _, r := range sr.Results {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestRun_ServesIndexAndShutsDown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	cfg := testConfig(t, newEmbeddingServer(t).URL)
	base, cancel, errCh := startRun(t, cfg)

	resp := postJSON(t, base+"/v1/items", map[string]any{"items": []map[string]any{
		{"id": "p1", "collection": "products", "tenant_id": "t1", "text": "shoes for running"},
		{"id": "p2", "collection": "products", "tenant_id": "t2", "text": "shoes for hiking"},
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{"p1"}, searchIDs(t, base, "t1"))

	req, err := http.NewRequest(http.MethodDelete, base+"/v1/tenants/t1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	assert.Empty(t, searchIDs(t, base, "t1"))
	assert.Equal(t, []string{"p2"}, searchIDs(t, base, "t2"))

	waitStopped(t, cancel, errCh)
}

func TestRun_ConsumesCommands(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	nats := startTestNATSServer(t)
	t.Setenv("SEMINDEX_COMMANDS_ENABLED", "true")
	t.Setenv("SEMINDEX_COMMANDS_NATS_URL", nats.ClientURL())
	t.Setenv("SEMINDEX_COMMANDS_FETCH_WAIT", "100ms")
	cfg := testConfig(t, newEmbeddingServer(t).URL)
	base, cancel, errCh := startRun(t, cfg)

	resp := postJSON(t, base+"/v1/commands", map[string]any{
		"type": "upsert_items",
		"items": []map[string]any{
			{"id": "p1", "collection": "products", "tenant_id": "t1", "text": "shoes for running"},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Eventually(t, func() bool {
		ids := searchIDs(t, base, "t1")
		return len(ids) == 1 && ids[0] == "p1"
	}, 10*time.Second, 100*time.Millisecond)

	waitStopped(t, cancel, errCh)
}

func TestEnsure_RejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, newEmbeddingServer(t).URL)
	cfg.VectorStore.ChromemPath = t.TempDir()
	require.NoError(t, ensure(ctx, cfg))

	// A persisted collection needs a record before its dimension is known.
	svc, err := index.Build(ctx, cfg, nil)
	require.NoError(t, err)
	report, err := svc.UpsertItems(ctx, []indexer.Item{{ID: "f1", Collection: "faqs", TenantID: "t1", Text: "shipping"}})
	require.NoError(t, err)
	require.Equal(t, 1, report.Indexed)
	require.NoError(t, svc.Close())

	cfg.Embeddings.Dimension = 4
	assert.ErrorIs(t, ensure(ctx, cfg), vectorstore.ErrDimensionMismatch)
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "Version:    dev")
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
		JetStream:      true,
		StoreDir:       t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}
