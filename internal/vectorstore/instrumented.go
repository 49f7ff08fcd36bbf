package vectorstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("semindex.vectorstore")

// instrumented decorates a Store with Prometheus metrics and spans.
type instrumented struct {
	next Store
}

// Instrument wraps store so every operation is counted, timed and traced.
func Instrument(store Store) Store {
	if _, ok := store.(*instrumented); ok {
		return store
	}
	return &instrumented{next: store}
}

func (s *instrumented) observe(ctx context.Context, op, collection string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "vectorstore."+op,
		trace.WithAttributes(append(attrs, attribute.String("collection", collection))...))
	start := time.Now()
	return ctx, func(err error) {
		recordOperation(op, collection, time.Since(start).Seconds(), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (s *instrumented) EnsureCollection(ctx context.Context, name string, dim int) (err error) {
	ctx, done := s.observe(ctx, "ensure", name, attribute.Int("dimension", dim))
	defer func() { done(err) }()
	return s.next.EnsureCollection(ctx, name, dim)
}

func (s *instrumented) Upsert(ctx context.Context, collection string, records []Record) (err error) {
	ctx, done := s.observe(ctx, "upsert", collection, attribute.Int("records", len(records)))
	defer func() { done(err) }()
	if err = s.next.Upsert(ctx, collection, records); err == nil {
		RecordsWritten.WithLabelValues(collection).Add(float64(len(records)))
	}
	return err
}

func (s *instrumented) Query(ctx context.Context, collection string, q Query) (matches []Match, err error) {
	ctx, done := s.observe(ctx, "query", collection, attribute.Int("top_k", q.TopK))
	defer func() { done(err) }()
	return s.next.Query(ctx, collection, q)
}

func (s *instrumented) DeleteMany(ctx context.Context, collection string, ids []string) (err error) {
	ctx, done := s.observe(ctx, "delete_many", collection, attribute.Int("ids", len(ids)))
	defer func() { done(err) }()
	return s.next.DeleteMany(ctx, collection, ids)
}

func (s *instrumented) DeleteByFilter(ctx context.Context, collection string, filter Filter) (err error) {
	ctx, done := s.observe(ctx, "delete_by_filter", collection, attribute.StringSlice("filter_keys", filter.Keys()))
	defer func() { done(err) }()
	return s.next.DeleteByFilter(ctx, collection, filter)
}

func (s *instrumented) Close() error {
	return s.next.Close()
}
