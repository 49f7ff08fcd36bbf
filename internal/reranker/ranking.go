package reranker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Ranking is the result of a rerank call. It has exactly two forms:
// IndexRanking and ScoredRanking.
type Ranking interface {
	// Indices returns candidate indices in ranked order, as received.
	Indices() []int
	// Len returns the number of entries.
	Len() int

	sealed()
}

// IndexRanking is a bare list of candidate indices, best first.
type IndexRanking []int

// Indices implements Ranking.
func (r IndexRanking) Indices() []int { return append([]int(nil), r...) }

// Len implements Ranking.
func (r IndexRanking) Len() int { return len(r) }

func (IndexRanking) sealed() {}

// ScoredIndex is one entry of a ScoredRanking.
type ScoredIndex struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// ScoredRanking is a list of index/score pairs, best first.
type ScoredRanking []ScoredIndex

// Indices implements Ranking.
func (r ScoredRanking) Indices() []int {
	out := make([]int, len(r))
	for i, s := range r {
		out[i] = s.Index
	}
	return out
}

// Len implements Ranking.
func (r ScoredRanking) Len() int { return len(r) }

func (ScoredRanking) sealed() {}

// Apply returns the ranked indices that address one of n candidates,
// dropping out-of-range and repeated indices.
func Apply(r Ranking, n int) []int {
	if r == nil {
		return nil
	}
	seen := make(map[int]bool, r.Len())
	out := make([]int, 0, r.Len())
	for _, idx := range r.Indices() {
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

type scoredEntry struct {
	Index          *int     `json:"index"`
	Score          *float64 `json:"score"`
	RelevanceScore *float64 `json:"relevance_score"`
}

// DecodeRanking parses a rerank response body. Accepted shapes, bare or
// wrapped in {"results": ...}:
//
//	[2, 0, 1]
//	[{"index": 2, "score": 0.9}, {"index": 0, "score": 0.4}]
//
// "relevance_score" is accepted in place of "score". Anything else,
// including an empty list, wraps ErrMalformedRanking.
func DecodeRanking(raw []byte) (Ranking, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedRanking)
	}

	if raw[0] == '{' {
		var envelope struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRanking, err)
		}
		raw = bytes.TrimSpace(envelope.Results)
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: object without results", ErrMalformedRanking)
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRanking, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrMalformedRanking)
	}

	if first := bytes.TrimSpace(items[0]); len(first) > 0 && first[0] == '{' {
		return decodeScored(items)
	}
	return decodeIndices(items)
}

func decodeIndices(items []json.RawMessage) (IndexRanking, error) {
	out := make(IndexRanking, 0, len(items))
	for i, item := range items {
		var idx int
		if err := json.Unmarshal(item, &idx); err != nil {
			return nil, fmt.Errorf("%w: entry %d is not an integer index", ErrMalformedRanking, i)
		}
		out = append(out, idx)
	}
	return out, nil
}

func decodeScored(items []json.RawMessage) (ScoredRanking, error) {
	out := make(ScoredRanking, 0, len(items))
	for i, item := range items {
		var e scoredEntry
		if err := json.Unmarshal(item, &e); err != nil || e.Index == nil {
			return nil, fmt.Errorf("%w: entry %d has no integer index", ErrMalformedRanking, i)
		}
		s := ScoredIndex{Index: *e.Index}
		switch {
		case e.Score != nil:
			s.Score = *e.Score
		case e.RelevanceScore != nil:
			s.Score = *e.RelevanceScore
		}
		out = append(out, s)
	}
	return out, nil
}
