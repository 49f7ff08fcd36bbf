package reranker

import (
	"context"
	"sort"
	"strings"
)

// SimpleReranker ranks candidates by term overlap with the query. It needs
// no external service and always returns a ScoredRanking.
type SimpleReranker struct{}

// NewSimpleReranker creates a new SimpleReranker instance.
func NewSimpleReranker() *SimpleReranker {
	return &SimpleReranker{}
}

// Rerank scores each candidate by the share of distinct query terms it
// contains. Ties keep the incoming order, so candidates already sorted by
// vector score stay sorted among equals. A query with no usable terms
// returns the incoming order with zero scores.
func (r *SimpleReranker) Rerank(ctx context.Context, query string, candidates []string, topN int) (Ranking, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}
	if len(candidates) == 0 {
		return ScoredRanking{}, nil
	}

	ranked := make(ScoredRanking, len(candidates))
	queryTokens := tokenize(query)
	for i, c := range candidates {
		ranked[i] = ScoredIndex{Index: i}
		if len(queryTokens) > 0 {
			ranked[i].Score = calculateTermOverlap(queryTokens, tokenize(c))
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked[:topN], nil
}

// Close closes the reranker. SimpleReranker has no resources to clean up.
func (r *SimpleReranker) Close() error {
	return nil
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true, "this": true,
	"that": true, "these": true, "those": true, "i": true, "you": true, "he": true,
	"she": true, "it": true, "we": true, "they": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "how": true, "any": true,
	"your": true, "our": true, "not": true,
}

// tokenize splits text into lowercase terms longer than two characters,
// dropping stopwords.
func tokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})

	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len(token) > 2 && !stopwords[token] {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}

// calculateTermOverlap returns the fraction of distinct query terms found
// in the candidate, in [0, 1].
func calculateTermOverlap(queryTokens, docTokens []string) float64 {
	docTokenSet := make(map[string]bool, len(docTokens))
	for _, token := range docTokens {
		docTokenSet[token] = true
	}

	distinct := make(map[string]bool, len(queryTokens))
	matched := 0
	for _, token := range queryTokens {
		if distinct[token] {
			continue
		}
		distinct[token] = true
		if docTokenSet[token] {
			matched++
		}
	}
	if len(distinct) == 0 {
		return 0
	}
	return float64(matched) / float64(len(distinct))
}
