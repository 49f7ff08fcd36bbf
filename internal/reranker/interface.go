// Package reranker re-orders search candidates by query relevance.
//
// A Reranker receives the query and short candidate strings and returns a
// Ranking: the candidate indices in preferred order, optionally with
// scores. Callers map indices back onto their own results and treat any
// error as a signal to keep the original order.
package reranker

import (
	"context"
	"errors"
)

// Errors returned by rerankers.
var (
	// ErrNilContext is returned when a nil context is passed to Rerank.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid reranker configuration")

	// ErrRerankFailed indicates a transport, status or circuit breaker failure.
	ErrRerankFailed = errors.New("rerank failed")

	// ErrMalformedRanking indicates a response that is empty or matches
	// neither ranking shape.
	ErrMalformedRanking = errors.New("malformed ranking")
)

// Reranker provides an interface for candidate re-ranking.
type Reranker interface {
	// Rerank ranks candidates against query and returns at most topN
	// entries. topN <= 0 means all candidates.
	Rerank(ctx context.Context, query string, candidates []string, topN int) (Ranking, error)

	// Close releases any resources held by the reranker.
	Close() error
}
