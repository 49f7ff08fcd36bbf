package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semindex/internal/sanitize"
)

// chromemPayloadKey holds the JSON-encoded typed payload of a document.
// chromem metadata is string-only; the scalar keys next to it exist for
// filtering.
const chromemPayloadKey = "_payload"

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the
	// database in memory. Supports ~ expansion.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// ChromemStore is a Store backed by chromem-go.
//
// chromem keeps no collection dimension of its own, so EnsureCollection
// probes a non-empty existing collection with a query of the configured
// dimension; chromem rejects vectors of a different length.
type ChromemStore struct {
	db     *chromem.DB
	dims   *dimensions
	logger *zap.Logger

	// mu serializes writes against the count-then-query sequence in Query.
	mu sync.RWMutex
}

// NewChromemStore opens an in-memory or persistent chromem database.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandChromemPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem database at %s: %w", path, err)
		}
		logger.Info("opened persistent chromem database", zap.String("path", path))
	}

	return &ChromemStore{
		db:     db,
		dims:   newDimensions(),
		logger: logger,
	}, nil
}

// expandChromemPath expands ~ to the user's home directory.
func expandChromemPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding path: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// precomputedOnly is installed as the collection embedding function. Every
// write and query carries its own vector, so it is never expected to run.
func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store requires precomputed embeddings")
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	c := s.db.GetCollection(name, precomputedOnly)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

// EnsureCollection implements Store.
func (s *ChromemStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	if err := validateEnsure(name, dim); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.db.GetCollection(name, precomputedOnly); c != nil {
		if c.Count() > 0 {
			probe := make([]float32, dim)
			probe[0] = 1
			if _, err := c.QueryEmbedding(ctx, probe, 1, nil, nil); err != nil {
				return fmt.Errorf("%w: collection %s rejects vectors of dimension %d: %v",
					ErrDimensionMismatch, name, dim, err)
			}
		}
		s.dims.set(name, dim)
		return nil
	}

	meta := map[string]string{"dimension": strconv.Itoa(dim)}
	if _, err := s.db.CreateCollection(name, meta, precomputedOnly); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	s.logger.Info("created collection",
		zap.String("collection", name),
		zap.Int("dimension", dim))
	s.dims.set(name, dim)
	return nil
}

// Upsert implements Store.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := s.dims.checkRecords(collection, records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.collection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		meta, err := chromemMetadata(r.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", r.ID, err)
		}
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Metadata:  meta,
			Embedding: slices.Clone(r.Vector),
		})
	}

	if err := c.AddDocuments(ctx, docs, min(len(docs), runtime.NumCPU())); err != nil {
		return fmt.Errorf("adding %d documents to %s: %w", len(docs), collection, err)
	}
	return nil
}

// Query implements Store.
func (s *ChromemStore) Query(ctx context.Context, collection string, q Query) ([]Match, error) {
	if err := s.dims.checkQuery(collection, q); err != nil {
		return nil, err
	}
	if q.TopK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults greater than the collection size.
	n := min(q.TopK, c.Count())
	if n == 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, q.Vector, n, chromemWhere(q.Filter), nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		m := Match{ID: r.ID, Score: r.Similarity}
		if q.IncludePayload {
			m.Payload = fromChromemMetadata(r.Metadata)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// DeleteMany implements Store.
func (s *ChromemStore) DeleteMany(ctx context.Context, collection string, ids []string) error {
	if _, err := s.dims.get(collection); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting %d documents from %s: %w", len(ids), collection, err)
	}
	return nil
}

// DeleteByFilter implements Store.
func (s *ChromemStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	if _, err := s.dims.get(collection); err != nil {
		return err
	}
	if err := validateDeleteFilter(filter); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, chromemWhere(filter), nil); err != nil {
		return fmt.Errorf("deleting by filter from %s: %w", collection, err)
	}
	return nil
}

// Close is a no-op; persistent documents are written on every change.
func (s *ChromemStore) Close() error {
	return nil
}

// chromemMetadata encodes a payload as string metadata plus the typed
// payload under chromemPayloadKey.
func chromemMetadata(m sanitize.Metadata) (map[string]string, error) {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		switch v.Kind() {
		case sanitize.KindString, sanitize.KindDate:
			out[k], _ = v.AsString()
		case sanitize.KindNumber:
			f, _ := v.AsNumber()
			out[k] = formatNumber(f)
		case sanitize.KindBool:
			b, _ := v.AsBool()
			out[k] = strconv.FormatBool(b)
		case sanitize.KindStrings:
			ss, _ := v.AsStrings()
			raw, err := json.Marshal(ss)
			if err != nil {
				return nil, err
			}
			out[k] = string(raw)
		}
	}

	raw, err := json.Marshal(m.Map())
	if err != nil {
		return nil, err
	}
	out[chromemPayloadKey] = string(raw)
	return out, nil
}

func fromChromemMetadata(meta map[string]string) map[string]any {
	raw, ok := meta[chromemPayloadKey]
	if !ok {
		out := make(map[string]any, len(meta))
		for k, v := range meta {
			out[k] = v
		}
		return out
	}

	return decodeJSONPayload([]byte(raw))
}

// stringList narrows a decoded JSON array to []string when every element
// is a string.
func stringList(list []any) any {
	strs := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return list
		}
		strs = append(strs, s)
	}
	return strs
}

// chromemWhere formats filter values the way chromemMetadata formats
// payload values.
func chromemWhere(f Filter) map[string]string {
	if len(f) == 0 {
		return nil
	}
	where := make(map[string]string, len(f))
	for k, v := range f {
		switch val := v.(type) {
		case string:
			where[k] = val
		case bool:
			where[k] = strconv.FormatBool(val)
		default:
			if n, ok := filterInt(val); ok {
				where[k] = strconv.FormatInt(n, 10)
			}
		}
	}
	return where
}

func formatNumber(f float64) string {
	if isIntegral(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
