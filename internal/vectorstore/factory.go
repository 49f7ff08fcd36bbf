package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semindex/internal/config"
)

// NewStore creates the configured Store, wrapped with Instrument.
//
// Supported providers:
//   - "qdrant" (default): external Qdrant server over gRPC
//   - "chromem": embedded chromem-go, in-memory unless chromem_path is set
//   - "milvus": external Milvus server
func NewStore(ctx context.Context, cfg config.VectorStoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", cfg.Provider))

	var store Store
	var err error

	switch cfg.Provider {
	case "qdrant", "":
		store, err = NewQdrantStore(QdrantConfig{
			Host:          cfg.QdrantHost,
			Port:          cfg.QdrantPort,
			APIKey:        cfg.QdrantAPIKey.Value(),
			UseTLS:        cfg.QdrantUseTLS,
			HealthTimeout: cfg.Timeout.Duration(),
		}, logger)

	case "chromem":
		store, err = NewChromemStore(ChromemConfig{Path: cfg.ChromemPath}, logger)

	case "milvus":
		store, err = NewMilvusStore(ctx, MilvusConfig{
			Address:  cfg.MilvusAddress,
			Username: cfg.MilvusUsername,
			Password: cfg.MilvusPassword.Value(),
			DBName:   cfg.MilvusDB,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider: %s (supported: qdrant, chromem, milvus)",
			ErrInvalidConfig, cfg.Provider)
	}

	if err != nil {
		return nil, err
	}
	return Instrument(store), nil
}
