package vectorstore

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/semindex/internal/sanitize"
)

// maxSafeInteger is the largest integer a float64 holds exactly.
const maxSafeInteger = 1 << 53

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int

	// APIKey authenticates against Qdrant Cloud or a secured server.
	APIKey string

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool

	// Distance is the similarity metric for new collections.
	// Default: Cosine
	Distance qdrant.Distance

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// HealthTimeout bounds the connection health check.
	// Default: 5s
	HealthTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = qdrant.Distance_Cosine
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = 5 * time.Second
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// qdrantClient is the subset of *qdrant.Client used by QdrantStore.
type qdrantClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantStore is a Store backed by Qdrant's native gRPC client.
//
// Integral payload numbers are written as Qdrant integers so that integer
// equality filters match them. Every collection gets a keyword index on
// TenantKey when it is created.
type QdrantStore struct {
	client   qdrantClient
	config   QdrantConfig
	dims     *dimensions
	logger   *zap.Logger
	waitSync *bool
}

// NewQdrantStore dials Qdrant and performs a health check.
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	store := newQdrantStore(client, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HealthTimeout)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}

	return store, nil
}

func newQdrantStore(client qdrantClient, cfg QdrantConfig, logger *zap.Logger) *QdrantStore {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantStore{
		client:   client,
		config:   cfg,
		dims:     newDimensions(),
		logger:   logger,
		waitSync: qdrant.PtrOf(true),
	}
}

// EnsureCollection implements Store.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	if err := validateEnsure(name, dim); err != nil {
		return err
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: s.config.Distance,
			}),
		})
		switch {
		case err == nil:
			s.logger.Info("created collection",
				zap.String("collection", name),
				zap.Int("dimension", dim))
			s.indexTenant(ctx, name)
			s.dims.set(name, dim)
			return nil
		case status.Code(err) == grpccodes.AlreadyExists:
			// Created concurrently; validate below.
		default:
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
	}

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return fmt.Errorf("describing collection %s: %w", name, err)
	}
	size := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	if size != dim {
		return fmt.Errorf("%w: collection %s has dimension %d, configured %d",
			ErrDimensionMismatch, name, size, dim)
	}

	s.dims.set(name, dim)
	return nil
}

func (s *QdrantStore) indexTenant(ctx context.Context, name string) {
	_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		Wait:           s.waitSync,
		FieldName:      TenantKey,
		FieldType:      qdrant.PtrOf(qdrant.FieldType_FieldTypeKeyword),
	})
	if err != nil {
		s.logger.Warn("creating tenant payload index failed",
			zap.String("collection", name),
			zap.Error(err))
	}
}

// Upsert implements Store.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := s.dims.checkRecords(collection, records); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		id, err := qdrantPointID(r.ID)
		if err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      id,
			Vectors: qdrant.NewVectorsDense(r.Vector),
			Payload: qdrantPayload(r.Payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           s.waitSync,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Query implements Store.
func (s *QdrantStore) Query(ctx context.Context, collection string, q Query) ([]Match, error) {
	if err := s.dims.checkQuery(collection, q); err != nil {
		return nil, err
	}
	if q.TopK <= 0 {
		return nil, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(q.Vector),
		Filter:         qdrantFilter(q.Filter),
		Limit:          qdrant.PtrOf(uint64(q.TopK)),
		WithPayload:    qdrant.NewWithPayload(q.IncludePayload),
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		m := Match{
			ID:    qdrantIDString(p.GetId()),
			Score: p.GetScore(),
		}
		if q.IncludePayload {
			m.Payload = fromQdrantPayload(p.GetPayload())
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// DeleteMany implements Store.
func (s *QdrantStore) DeleteMany(ctx context.Context, collection string, ids []string) error {
	if _, err := s.dims.get(collection); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pid, err := qdrantPointID(id)
		if err != nil {
			return err
		}
		pointIDs = append(pointIDs, pid)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           s.waitSync,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("deleting %d points from %s: %w", len(ids), collection, err)
	}
	return nil
}

// DeleteByFilter implements Store.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	if _, err := s.dims.get(collection); err != nil {
		return err
	}
	if err := validateDeleteFilter(filter); err != nil {
		return err
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           s.waitSync,
		Points:         qdrant.NewPointsSelectorFilter(qdrantFilter(filter)),
	})
	if err != nil {
		return fmt.Errorf("deleting by filter from %s: %w", collection, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// qdrantPointID converts a record id. Qdrant accepts UUIDs and unsigned
// integers only.
func qdrantPointID(id string) (*qdrant.PointId, error) {
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(u.String()), nil
	}
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return qdrant.NewIDNum(n), nil
	}
	return nil, fmt.Errorf("%w: id %q is neither a UUID nor an unsigned integer", ErrInvalidRecord, id)
}

func qdrantIDString(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func qdrantPayload(m sanitize.Metadata) map[string]*qdrant.Value {
	out := make(map[string]*qdrant.Value, len(m))
	for k, v := range m {
		switch v.Kind() {
		case sanitize.KindString, sanitize.KindDate:
			s, _ := v.AsString()
			out[k] = qdrant.NewValueString(s)
		case sanitize.KindNumber:
			f, _ := v.AsNumber()
			if isIntegral(f) {
				out[k] = qdrant.NewValueInt(int64(f))
			} else {
				out[k] = qdrant.NewValueDouble(f)
			}
		case sanitize.KindBool:
			b, _ := v.AsBool()
			out[k] = qdrant.NewValueBool(b)
		case sanitize.KindStrings:
			ss, _ := v.AsStrings()
			values := make([]*qdrant.Value, 0, len(ss))
			for _, s := range ss {
				values = append(values, qdrant.NewValueString(s))
			}
			out[k] = qdrant.NewValueFromList(values...)
		}
	}
	return out
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if val := fromQdrantValue(v); val != nil {
			out[k] = val
		}
	}
	return out
}

func fromQdrantValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return float64(kind.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		strs := make([]string, 0, len(values))
		for _, item := range values {
			s, ok := item.GetKind().(*qdrant.Value_StringValue)
			if !ok {
				return listAny(values)
			}
			strs = append(strs, s.StringValue)
		}
		return strs
	case *qdrant.Value_StructValue:
		return fromQdrantPayload(kind.StructValue.GetFields())
	default:
		return nil
	}
}

func listAny(values []*qdrant.Value) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, fromQdrantValue(v))
	}
	return out
}

// qdrantFilter builds a must-match-all filter. Returns nil for an empty filter.
func qdrantFilter(f Filter) *qdrant.Filter {
	if len(f) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(f))
	for _, k := range f.Keys() {
		switch v := f[k].(type) {
		case string:
			must = append(must, qdrant.NewMatchKeyword(k, v))
		case bool:
			must = append(must, qdrant.NewMatchBool(k, v))
		default:
			if n, ok := filterInt(v); ok {
				must = append(must, qdrant.NewMatchInt(k, n))
			}
		}
	}
	return &qdrant.Filter{Must: must}
}

func isIntegral(f float64) bool {
	return f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger
}
