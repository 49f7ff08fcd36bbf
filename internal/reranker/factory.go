package reranker

import (
	"fmt"

	"github.com/fyrsmithlabs/semindex/internal/config"
	"go.uber.org/zap"
)

// New builds the reranker selected by cfg.Provider. An empty provider
// disables reranking and returns a nil Reranker.
func New(cfg config.RerankConfig, logger *zap.Logger) (Reranker, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "simple":
		return NewSimpleReranker(), nil
	case "http":
		failures := cfg.BreakerFailures
		if failures < 0 {
			failures = 0
		}
		r, err := NewHTTPReranker(HTTPConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey.Value(),
			Timeout:           cfg.Timeout.Duration(),
			RequestsPerSecond: cfg.RequestsPerSecond,
			BreakerFailures:   uint32(failures),
			BreakerCooldown:   cfg.BreakerCooldown.Duration(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
