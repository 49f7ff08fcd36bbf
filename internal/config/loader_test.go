package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "semindex")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SEMINDEX_EMBEDDINGS_BASE_URL", "http://embed:8080")
	t.Setenv("SEMINDEX_EMBEDDINGS_DIMENSION", "384")
}

func TestLoadWithFile_Defaults(t *testing.T) {
	setupTestHome(t)
	requiredEnv(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://embed:8080", cfg.Embeddings.BaseURL)
	assert.Equal(t, 384, cfg.Embeddings.Dimension)
	assert.Equal(t, 2000, cfg.Embeddings.MaxInputChars)
	assert.Equal(t, time.Hour, cfg.Embeddings.CacheTTL.Duration())
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, 3, cfg.Indexing.MaxAttempts)
	assert.Equal(t, 16, cfg.Indexing.BatchSizes["products"])
	assert.InDelta(t, 0.3, cfg.Search.MinScore, 1e-9)
	assert.Equal(t, 3, cfg.Search.CandidateMultiplier)
	assert.Equal(t, 100, cfg.Search.MaxCandidates)
	assert.Equal(t, []string{"products", "faqs", "documents", "web", "bot-faqs", "offers"}, cfg.Search.Collections)
	assert.Equal(t, "", cfg.Rerank.Provider)
}

func TestLoadWithFile_FileAndEnvPrecedence(t *testing.T) {
	dir := setupTestHome(t)
	requiredEnv(t)

	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
embeddings:
  dimension: 768
  cache_ttl: 5m
search:
  min_score: 0
  collections: [faqs]
vectorstore:
  provider: chromem
`)
	require.NoError(t, os.WriteFile(path, content, 0600))
	t.Setenv("SEMINDEX_SEARCH_CANDIDATE_MULTIPLIER", "5")
	t.Setenv("SEMINDEX_SEARCH_MAX_CANDIDATES", "40")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	// Env beats file.
	assert.Equal(t, 384, cfg.Embeddings.Dimension)
	assert.Equal(t, 5*time.Minute, cfg.Embeddings.CacheTTL.Duration())
	assert.Zero(t, cfg.Search.MinScore)
	assert.Equal(t, []string{"faqs"}, cfg.Search.Collections)
	assert.Equal(t, 5, cfg.Search.CandidateMultiplier)
	assert.Equal(t, 40, cfg.Search.MaxCandidates)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
}

func TestLoadWithFile_RejectsInsecureFile(t *testing.T) {
	dir := setupTestHome(t)
	requiredEnv(t)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	requiredEnv(t)

	_, err := LoadWithFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_MissingRequired(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SEMINDEX_EMBEDDINGS_BASE_URL":     "embeddings.base_url",
		"SEMINDEX_VECTORSTORE_QDRANT_HOST": "vectorstore.qdrant_host",
		"SEMINDEX_DEBUG":                   "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
