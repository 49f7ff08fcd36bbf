// Package vectorstore is the only package aware of a vector database's wire
// protocol.
//
// Every other component depends on the Store contract:
//
//	EnsureCollection(ctx, name, dim)
//	Upsert(ctx, collection, records)
//	Query(ctx, collection, query)
//	DeleteMany(ctx, collection, ids)
//	DeleteByFilter(ctx, collection, filter)
//
// Three adapters implement it:
//
//   - QdrantStore: Qdrant over its native gRPC client (default)
//   - ChromemStore: embedded chromem-go database, in-memory or persisted
//   - MilvusStore: Milvus via milvus-sdk-go, payload stored as a JSON field
//
// # Dimension gate
//
// A collection must be ensured before it is written to or queried. Ensure
// records the collection's vector dimension and every Upsert and Query is
// checked against it, so a vector of the wrong length never reaches the
// database. Ensure never resizes: an existing collection with a different
// dimension fails with ErrDimensionMismatch.
//
// # Filters
//
// Filters are flat equality maps. Values must be strings, booleans or
// integers. TenantFilter builds a filter scoped to one tenant.
//
// # Observability
//
// Instrument wraps any Store with Prometheus counters, a latency histogram
// and OpenTelemetry spans.
package vectorstore
