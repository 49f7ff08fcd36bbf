package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

// Milvus schema field names.
const (
	milvusIDField      = "id"
	milvusVectorField  = "vector"
	milvusPayloadField = "payload"
	milvusIDMaxLength  = "64"
)

// MilvusConfig holds connection settings for Milvus.
type MilvusConfig struct {
	Address  string
	Username string
	Password string
	DBName   string
}

// Validate validates the configuration.
func (c MilvusConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("%w: milvus address required", ErrInvalidConfig)
	}
	return nil
}

// MilvusStore is a Store backed by Milvus.
//
// Each collection has three fields: a VarChar primary key, a float vector
// with a COSINE AUTOINDEX, and the payload as a JSON field. Filters become
// boolean expressions over the JSON field.
type MilvusStore struct {
	cli         mclient.Client
	dims        *dimensions
	logger      *zap.Logger
	searchParam entity.SearchParam
}

// NewMilvusStore connects to Milvus.
func NewMilvusStore(ctx context.Context, cfg MilvusConfig, logger *zap.Logger) (*MilvusStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dbName := strings.TrimSpace(cfg.DBName)
	if dbName == "" {
		dbName = "default"
	}

	cli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  strings.TrimSpace(cfg.Address),
		Username: strings.TrimSpace(cfg.Username),
		Password: cfg.Password,
		DBName:   dbName,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to milvus: %w", err)
	}

	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("building search param: %w", err)
	}

	return &MilvusStore{
		cli:         cli,
		dims:        newDimensions(),
		logger:      logger,
		searchParam: sp,
	}, nil
}

// EnsureCollection implements Store.
func (s *MilvusStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	if err := validateEnsure(name, dim); err != nil {
		return err
	}

	exists, err := s.cli.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}

	if exists {
		coll, err := s.cli.DescribeCollection(ctx, name)
		if err != nil {
			return fmt.Errorf("describing collection %s: %w", name, err)
		}
		size, err := milvusVectorDim(coll.Schema)
		if err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
		if size != dim {
			return fmt.Errorf("%w: collection %s has dimension %d, configured %d",
				ErrDimensionMismatch, name, size, dim)
		}
	} else {
		if err := s.cli.CreateCollection(ctx, milvusSchema(name, dim), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
		idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			return fmt.Errorf("building index: %w", err)
		}
		if err := s.cli.CreateIndex(ctx, name, milvusVectorField, idx, false); err != nil {
			return fmt.Errorf("indexing collection %s: %w", name, err)
		}
		s.logger.Info("created collection",
			zap.String("collection", name),
			zap.Int("dimension", dim))
	}

	if err := s.cli.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("loading collection %s: %w", name, err)
	}

	s.dims.set(name, dim)
	return nil
}

// Upsert implements Store.
func (s *MilvusStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	dim, err := s.dims.checkRecords(collection, records)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(records))
	vectors := make([][]float32, 0, len(records))
	payloads := make([][]byte, 0, len(records))
	for _, r := range records {
		raw, err := json.Marshal(r.Payload.Map())
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", r.ID, err)
		}
		ids = append(ids, r.ID)
		vectors = append(vectors, r.Vector)
		payloads = append(payloads, raw)
	}

	_, err = s.cli.Upsert(
		ctx,
		collection,
		"",
		entity.NewColumnVarChar(milvusIDField, ids),
		entity.NewColumnFloatVector(milvusVectorField, dim, vectors),
		entity.NewColumnJSONBytes(milvusPayloadField, payloads),
	)
	if err != nil {
		return fmt.Errorf("upserting %d rows into %s: %w", len(ids), collection, err)
	}
	return nil
}

// Query implements Store.
func (s *MilvusStore) Query(ctx context.Context, collection string, q Query) ([]Match, error) {
	if err := s.dims.checkQuery(collection, q); err != nil {
		return nil, err
	}
	if q.TopK <= 0 {
		return nil, nil
	}

	var outputFields []string
	if q.IncludePayload {
		outputFields = []string{milvusPayloadField}
	}

	res, err := s.cli.Search(
		ctx,
		collection,
		nil,
		milvusExpr(q.Filter),
		outputFields,
		[]entity.Vector{entity.FloatVector(q.Vector)},
		milvusVectorField,
		entity.COSINE,
		q.TopK,
		s.searchParam,
	)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return milvusMatches(res[0], q.IncludePayload)
}

// DeleteMany implements Store.
func (s *MilvusStore) DeleteMany(ctx context.Context, collection string, ids []string) error {
	if _, err := s.dims.get(collection); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.cli.Delete(ctx, collection, "", milvusIDExpr(ids)); err != nil {
		return fmt.Errorf("deleting %d rows from %s: %w", len(ids), collection, err)
	}
	return nil
}

// DeleteByFilter implements Store.
func (s *MilvusStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	if _, err := s.dims.get(collection); err != nil {
		return err
	}
	if err := validateDeleteFilter(filter); err != nil {
		return err
	}
	if err := s.cli.Delete(ctx, collection, "", milvusExpr(filter)); err != nil {
		return fmt.Errorf("deleting by filter from %s: %w", collection, err)
	}
	return nil
}

// Close closes the client connection.
func (s *MilvusStore) Close() error {
	if s.cli != nil {
		return s.cli.Close()
	}
	return nil
}

func milvusSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "semindex vectors",
		Fields: []*entity.Field{
			{
				Name:       milvusIDField,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": milvusIDMaxLength},
			},
			{
				Name:       milvusVectorField,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: strconv.Itoa(dim)},
			},
			{
				Name:     milvusPayloadField,
				DataType: entity.FieldTypeJSON,
			},
		},
	}
}

func milvusVectorDim(schema *entity.Schema) (int, error) {
	if schema != nil {
		for _, f := range schema.Fields {
			if f.Name == milvusVectorField {
				return strconv.Atoi(f.TypeParams[entity.TypeParamDim])
			}
		}
	}
	return 0, fmt.Errorf("%w: no %q field", ErrDimensionMismatch, milvusVectorField)
}

// milvusExpr renders an equality filter as a Milvus boolean expression over
// the JSON payload field. Keys are sorted so the expression is stable.
func milvusExpr(f Filter) string {
	if len(f) == 0 {
		return ""
	}
	clauses := make([]string, 0, len(f))
	for _, k := range f.Keys() {
		var literal string
		switch v := f[k].(type) {
		case string:
			literal = strconv.Quote(v)
		case bool:
			literal = strconv.FormatBool(v)
		default:
			n, ok := filterInt(v)
			if !ok {
				continue
			}
			literal = strconv.FormatInt(n, 10)
		}
		clauses = append(clauses, fmt.Sprintf("%s[%s] == %s", milvusPayloadField, strconv.Quote(k), literal))
	}
	return strings.Join(clauses, " && ")
}

func milvusIDExpr(ids []string) string {
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, strconv.Quote(id))
	}
	return fmt.Sprintf("%s in [%s]", milvusIDField, strings.Join(quoted, ","))
}

func milvusMatches(sr mclient.SearchResult, includePayload bool) ([]Match, error) {
	if sr.Err != nil {
		return nil, sr.Err
	}

	var payloadCol entity.Column
	if includePayload {
		for _, c := range sr.Fields {
			if c != nil && c.Name() == milvusPayloadField {
				payloadCol = c
				break
			}
		}
	}

	matches := make([]Match, 0, sr.ResultCount)
	for i := 0; i < sr.ResultCount; i++ {
		id, err := sr.IDs.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("reading id %d: %w", i, err)
		}
		m := Match{ID: id}
		if i < len(sr.Scores) {
			m.Score = sr.Scores[i]
		}
		if payloadCol != nil {
			m.Payload = map[string]any{}
			if v, err := payloadCol.Get(i); err == nil {
				if raw, ok := v.([]byte); ok {
					m.Payload = decodeJSONPayload(raw)
				}
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func decodeJSONPayload(raw []byte) map[string]any {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded == nil {
		return map[string]any{}
	}
	for k, v := range decoded {
		if list, ok := v.([]any); ok {
			decoded[k] = stringList(list)
		}
	}
	return decoded
}
