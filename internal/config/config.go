// Package config provides configuration loading for semindex.
package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete semindex configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Indexing      IndexingConfig      `koanf:"indexing"`
	Search        SearchConfig        `koanf:"search"`
	Rerank        RerankConfig        `koanf:"rerank"`
	Commands      CommandsConfig      `koanf:"commands"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// EmbeddingsConfig configures the external embedding service and its cache.
type EmbeddingsConfig struct {
	BaseURL           string   `koanf:"base_url"`
	Model             string   `koanf:"model"`
	APIKey            Secret   `koanf:"api_key"`
	Dimension         int      `koanf:"dimension"`
	MaxInputChars     int      `koanf:"max_input_chars"`
	CacheTTL          Duration `koanf:"cache_ttl"`
	CacheMaxEntries   int      `koanf:"cache_max_entries"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
}

// VectorStoreConfig selects and configures the vector database backend.
type VectorStoreConfig struct {
	Provider         string   `koanf:"provider"`
	CollectionPrefix string   `koanf:"collection_prefix"`
	Timeout          Duration `koanf:"timeout"`

	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantAPIKey Secret `koanf:"qdrant_api_key"`
	QdrantUseTLS bool   `koanf:"qdrant_use_tls"`

	MilvusAddress  string `koanf:"milvus_address"`
	MilvusUsername string `koanf:"milvus_username"`
	MilvusPassword Secret `koanf:"milvus_password"`
	MilvusDB       string `koanf:"milvus_db"`

	ChromemPath string `koanf:"chromem_path"`
}

// IndexingConfig configures the batch upsert pipeline.
type IndexingConfig struct {
	DefaultBatchSize int            `koanf:"default_batch_size"`
	BatchSizes       map[string]int `koanf:"batch_sizes"`
	MaxAttempts      int            `koanf:"max_attempts"`
	BaseDelay        Duration       `koanf:"base_delay"`
	MaxDelay         Duration       `koanf:"max_delay"`
	BuildConcurrency int            `koanf:"build_concurrency"`
	ItemTimeout      Duration       `koanf:"item_timeout"`
}

// SearchConfig configures the unified search orchestrator.
type SearchConfig struct {
	MinScore            float64  `koanf:"min_score"`
	CandidateMultiplier int      `koanf:"candidate_multiplier"`
	MaxCandidates       int      `koanf:"max_candidates"`
	Collections         []string `koanf:"collections"`
	QueryTimeout        Duration `koanf:"query_timeout"`
	CandidateChars      int      `koanf:"candidate_chars"`
}

// RerankConfig configures the optional rerank step.
type RerankConfig struct {
	Provider          string   `koanf:"provider"`
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	BreakerFailures   int      `koanf:"breaker_failures"`
	BreakerCooldown   Duration `koanf:"breaker_cooldown"`
}

// CommandsConfig configures the JetStream index command consumer.
type CommandsConfig struct {
	Enabled    bool     `koanf:"enabled"`
	NATSURL    string   `koanf:"nats_url"`
	Stream     string   `koanf:"stream"`
	Subject    string   `koanf:"subject"`
	Durable    string   `koanf:"durable"`
	FetchBatch int      `koanf:"fetch_batch"`
	FetchWait  Duration `koanf:"fetch_wait"`
	MaxDeliver int      `koanf:"max_deliver"`
}

// ObservabilityConfig configures logging and OpenTelemetry export.
type ObservabilityConfig struct {
	ServiceName     string  `koanf:"service_name"`
	LogLevel        string  `koanf:"log_level"`
	LogFormat       string  `koanf:"log_format"`
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	OTLPEndpoint    string  `koanf:"otlp_endpoint"`
	OTLPProtocol    string  `koanf:"otlp_protocol"`
	OTLPInsecure    bool    `koanf:"otlp_insecure"`
	SamplingRate    float64 `koanf:"sampling_rate"`
}

// Validate checks the configuration. Any error is fatal at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.http_port %d out of range", ErrInvalidConfig, c.Server.Port)
	}

	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("%w: embeddings.base_url is required", ErrInvalidConfig)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("%w: embeddings.dimension must be positive", ErrInvalidConfig)
	}
	if c.Embeddings.MaxInputChars <= 0 {
		return fmt.Errorf("%w: embeddings.max_input_chars must be positive", ErrInvalidConfig)
	}

	switch c.VectorStore.Provider {
	case "qdrant", "chromem":
	case "milvus":
		if c.VectorStore.MilvusAddress == "" {
			return fmt.Errorf("%w: vectorstore.milvus_address is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown vectorstore.provider %q", ErrInvalidConfig, c.VectorStore.Provider)
	}

	if c.Indexing.MaxAttempts < 1 {
		return fmt.Errorf("%w: indexing.max_attempts must be >= 1", ErrInvalidConfig)
	}
	if c.Indexing.DefaultBatchSize < 1 {
		return fmt.Errorf("%w: indexing.default_batch_size must be >= 1", ErrInvalidConfig)
	}
	for kind, size := range c.Indexing.BatchSizes {
		if size < 1 {
			return fmt.Errorf("%w: indexing.batch_sizes[%s] must be >= 1", ErrInvalidConfig, kind)
		}
	}

	if c.Search.MinScore < -1 || c.Search.MinScore > 1 {
		return fmt.Errorf("%w: search.min_score must be within [-1, 1]", ErrInvalidConfig)
	}
	if c.Search.CandidateMultiplier < 1 {
		return fmt.Errorf("%w: search.candidate_multiplier must be >= 1", ErrInvalidConfig)
	}
	if c.Search.MaxCandidates < 1 {
		return fmt.Errorf("%w: search.max_candidates must be >= 1", ErrInvalidConfig)
	}

	switch c.Rerank.Provider {
	case "", "simple":
	case "http":
		if c.Rerank.BaseURL == "" {
			return fmt.Errorf("%w: rerank.base_url is required for the http provider", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown rerank.provider %q", ErrInvalidConfig, c.Rerank.Provider)
	}

	if c.Commands.Enabled && c.Commands.NATSURL == "" {
		return fmt.Errorf("%w: commands.nats_url is required when commands are enabled", ErrInvalidConfig)
	}

	switch c.Observability.OTLPProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("%w: observability.otlp_protocol must be grpc or http", ErrInvalidConfig)
	}
	return nil
}
