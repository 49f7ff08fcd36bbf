package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/semindex/internal/sanitize"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionNotEnsured is returned when a collection is used before
	// EnsureCollection registered its dimension.
	ErrCollectionNotEnsured = errors.New("collection not ensured")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDimensionMismatch indicates a vector or collection of the wrong size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidFilter indicates a filter with an unsupported key or value.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrEmptyFilter is returned by DeleteByFilter for an empty filter, which
	// would otherwise delete the whole collection.
	ErrEmptyFilter = errors.New("empty filter")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrInvalidRecord indicates a record without an id or vector.
	ErrInvalidRecord = errors.New("invalid record")
)

// Record is a vector with its deterministic id and flat payload.
type Record struct {
	ID      string
	Vector  []float32
	Payload sanitize.Metadata
}

// Match is a single query hit.
type Match struct {
	ID    string
	Score float32

	// Payload holds string, float64, bool and []string values. It is nil
	// unless the query asked for it.
	Payload map[string]any
}

// Query describes a similarity search in one collection.
type Query struct {
	Vector         []float32
	TopK           int
	Filter         Filter
	IncludePayload bool
}

// Store is the vector database contract.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// EnsureCollection creates the collection if missing and validates the
	// dimension of an existing one. It must be called before any other
	// operation on the collection.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert writes records in one call. Writing an existing id replaces it.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Query returns up to TopK matches ordered by descending score.
	Query(ctx context.Context, collection string, q Query) ([]Match, error)

	// DeleteMany removes records by id. Unknown ids are ignored.
	DeleteMany(ctx context.Context, collection string, ids []string) error

	// DeleteByFilter removes every record matching the equality filter.
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error

	// Close releases the connection.
	Close() error
}

// Filter is a flat equality filter: every key must equal its value.
// Values must be string, bool or an integer type.
type Filter map[string]any

// Validate checks keys and value types.
func (f Filter) Validate() error {
	for k, v := range f {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidFilter)
		}
		switch v.(type) {
		case string, bool, int, int32, int64:
		default:
			return fmt.Errorf("%w: key %q has unsupported type %T", ErrInvalidFilter, k, v)
		}
	}
	return nil
}

// Keys returns the filter keys in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func filterInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// dimensions remembers the vector size of every ensured collection.
type dimensions struct {
	mu   sync.RWMutex
	dims map[string]int
}

func newDimensions() *dimensions {
	return &dimensions{dims: make(map[string]int)}
}

func (d *dimensions) set(name string, dim int) {
	d.mu.Lock()
	d.dims[name] = dim
	d.mu.Unlock()
}

func (d *dimensions) get(name string) (int, error) {
	d.mu.RLock()
	dim, ok := d.dims[name]
	d.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotEnsured, name)
	}
	return dim, nil
}

// checkRecords validates every record against the collection dimension.
func (d *dimensions) checkRecords(collection string, records []Record) (int, error) {
	dim, err := d.get(collection)
	if err != nil {
		return 0, err
	}
	for _, r := range records {
		if r.ID == "" {
			return 0, fmt.Errorf("%w: empty id", ErrInvalidRecord)
		}
		if len(r.Vector) != dim {
			return 0, fmt.Errorf("%w: record %s has %d values, collection %s expects %d",
				ErrDimensionMismatch, r.ID, len(r.Vector), collection, dim)
		}
	}
	return dim, nil
}

// checkQuery validates the query vector and filter.
func (d *dimensions) checkQuery(collection string, q Query) error {
	dim, err := d.get(collection)
	if err != nil {
		return err
	}
	if len(q.Vector) != dim {
		return fmt.Errorf("%w: query has %d values, collection %s expects %d",
			ErrDimensionMismatch, len(q.Vector), collection, dim)
	}
	return q.Filter.Validate()
}

func validateDeleteFilter(filter Filter) error {
	if len(filter) == 0 {
		return ErrEmptyFilter
	}
	return filter.Validate()
}

func validateEnsure(name string, dim int) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dim)
	}
	return nil
}
