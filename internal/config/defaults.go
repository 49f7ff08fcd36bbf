package config

// defaultsYAML is loaded before the config file and environment so that
// explicit zero values (min_score: 0, otlp_insecure: false) still win.
const defaultsYAML = `
server:
  http_host: 0.0.0.0
  http_port: 8080
  shutdown_timeout: 10s
embeddings:
  model: default
  max_input_chars: 2000
  cache_ttl: 1h
  cache_max_entries: 10000
  timeout: 10s
  requests_per_second: 0
  burst: 1
vectorstore:
  provider: qdrant
  collection_prefix: semindex
  timeout: 5s
  qdrant_host: localhost
  qdrant_port: 6334
  milvus_address: localhost:19530
indexing:
  default_batch_size: 32
  batch_sizes:
    products: 16
    documents: 8
  max_attempts: 3
  base_delay: 500ms
  max_delay: 5s
  build_concurrency: 8
  item_timeout: 15s
search:
  min_score: 0.3
  candidate_multiplier: 3
  max_candidates: 100
  collections: [products, faqs, documents, web, bot-faqs, offers]
  query_timeout: 3s
  candidate_chars: 300
rerank:
  provider: ""
  timeout: 4s
  breaker_failures: 5
  breaker_cooldown: 30s
commands:
  enabled: false
  stream: SEMINDEX
  subject: semindex.commands
  durable: semindex-indexer
  fetch_batch: 16
  fetch_wait: 2s
  max_deliver: 5
observability:
  service_name: semindex
  log_level: info
  log_format: json
  enable_telemetry: false
  otlp_endpoint: localhost:4317
  otlp_protocol: grpc
  otlp_insecure: true
  sampling_rate: 1.0
`
