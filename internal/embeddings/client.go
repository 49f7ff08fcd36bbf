package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Embedder maps one text to one vector of Dimension() floats.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// ClientConfig configures a caching Client.
type ClientConfig struct {
	Model         string
	Dimension     int
	MaxInputChars int
}

// Client is the caching Embedder used by indexing and search.
type Client struct {
	backend Backend
	cache   *Cache
	cfg     ClientConfig
	metrics *Metrics
	logger  *zap.Logger
}

// NewClient wraps backend with normalization, caching and dimension checks.
// cache may be nil to disable caching.
func NewClient(backend Backend, cache *Cache, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend required", ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if cfg.MaxInputChars <= 0 {
		return nil, fmt.Errorf("%w: max input chars must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		backend: backend,
		cache:   cache,
		cfg:     cfg,
		metrics: NewMetrics(logger),
		logger:  logger,
	}, nil
}

// Dimension returns the configured vector length.
func (c *Client) Dimension() int { return c.cfg.Dimension }

// Embed returns the vector for text, from cache when possible.
// Backend failures are returned as is; a vector of the wrong length
// returns ErrDimensionMismatch and is not cached.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized := Normalize(text, c.cfg.MaxInputChars)
	if normalized == "" {
		return nil, ErrEmptyInput
	}

	key := CacheKey(c.cfg.Model, normalized)
	if c.cache != nil {
		if vec, ok := c.cache.Get(key); ok {
			if len(vec) == c.cfg.Dimension {
				c.metrics.RecordCache(ctx, true)
				return vec, nil
			}
			c.cache.Delete(key)
		}
		c.metrics.RecordCache(ctx, false)
	}

	vectors, err := c.backend.EmbedTexts(ctx, []string{normalized})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", ErrEmbeddingFailed, len(vectors))
	}
	vec := vectors[0]
	if len(vec) != c.cfg.Dimension {
		c.logger.Warn("embedding dimension mismatch",
			zap.Int("expected", c.cfg.Dimension),
			zap.Int("actual", len(vec)),
			zap.String("model", c.cfg.Model))
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.cfg.Dimension, len(vec))
	}

	if c.cache != nil {
		c.cache.Set(key, vec)
	}
	return vec, nil
}

// Normalize trims text, collapses whitespace runs to one space and caps the
// result at maxChars runes.
func Normalize(text string, maxChars int) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	out := b.String()
	if maxChars > 0 && utf8.RuneCountInString(out) > maxChars {
		out = strings.TrimRightFunc(string([]rune(out)[:maxChars]), unicode.IsSpace)
	}
	return out
}

// CacheKey hashes the model and normalized text.
func CacheKey(model, normalized string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}
