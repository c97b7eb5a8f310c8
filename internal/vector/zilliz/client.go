package zilliz

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/trackbot/backend/pkg/logger"
)

// matchAll selects every row; Milvus rejects an empty query expression.
const matchAll = FieldID + ` != ""`

var outputFields = []string{FieldID, FieldText, FieldType, FieldItemID, FieldProject, FieldStatus, FieldTitle, FieldPayload}

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	metric         entity.MetricType
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		metric:         entity.COSINE,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

// DropCollection removes the collection. A missing collection is not an error.
func (z *Client) DropCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		logger.Debug("Collection does not exist, nothing to drop", zap.String("collection", z.collectionName))
		return nil
	}

	if err := z.client.DropCollection(ctx, z.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}

	logger.Info("Collection dropped", zap.String("collection", z.collectionName))
	return nil
}

func (z *Client) CreateCollection(ctx context.Context, dim int, metric Metric) error {
	mt, err := metricType(metric)
	if err != nil {
		return err
	}
	z.vectorDim = dim
	z.metric = mt

	varchar := func(name string, maxLength int) *entity.Field {
		return &entity.Field{
			Name:     name,
			DataType: entity.FieldTypeVarChar,
			TypeParams: map[string]string{
				"max_length": strconv.Itoa(maxLength),
			},
		}
	}

	primary := varchar(FieldID, 64)
	primary.PrimaryKey = true
	primary.AutoID = false

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Project tracker records",
		Fields: []*entity.Field{
			primary,
			{
				Name:     FieldVector,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(dim),
				},
			},
			varchar(FieldText, 8192),
			varchar(FieldType, 32),
			varchar(FieldItemID, 128),
			varchar(FieldProject, 256),
			varchar(FieldStatus, 64),
			varchar(FieldTitle, 1024),
			{
				Name:     FieldPayload,
				DataType: entity.FieldTypeJSON,
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(mt, 16, 200)
	if err != nil {
		return fmt.Errorf("failed to build vector index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, FieldVector, idx, false); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	logger.Info("Collection created",
		zap.String("collection", z.collectionName),
		zap.Int("dim", dim),
		zap.String("metric", string(metric)),
	)
	return nil
}

func (z *Client) CreatePayloadIndex(ctx context.Context, field string) error {
	if err := z.client.CreateIndex(ctx, z.collectionName, field, entity.NewScalarIndex(), false); err != nil {
		return fmt.Errorf("failed to create payload index on %s: %w", field, err)
	}
	logger.Debug("Payload index created", zap.String("field", field))
	return nil
}

func (z *Client) Load(ctx context.Context) error {
	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (z *Client) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	ids := make([]string, len(docs))
	embeddings := make([][]float32, len(docs))
	texts := make([]string, len(docs))
	types := make([]string, len(docs))
	itemIDs := make([]string, len(docs))
	projects := make([]string, len(docs))
	statuses := make([]string, len(docs))
	titles := make([]string, len(docs))
	payloads := make([][]byte, len(docs))

	for i, doc := range docs {
		if len(doc.Embedding) != z.vectorDim {
			return fmt.Errorf("document %s has %d dimensions, collection expects %d", doc.ID, len(doc.Embedding), z.vectorDim)
		}
		payload, err := json.Marshal(doc.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for %s: %w", doc.ID, err)
		}

		ids[i] = doc.ID
		embeddings[i] = doc.Embedding
		texts[i] = truncate(doc.Text, 8192)
		types[i] = doc.Type
		itemIDs[i] = doc.ItemID
		projects[i] = doc.Project
		statuses[i] = doc.Status
		titles[i] = truncate(doc.Title, 1024)
		payloads[i] = payload
	}

	_, err := z.client.Upsert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar(FieldID, ids),
		entity.NewColumnFloatVector(FieldVector, z.vectorDim, embeddings),
		entity.NewColumnVarChar(FieldText, texts),
		entity.NewColumnVarChar(FieldType, types),
		entity.NewColumnVarChar(FieldItemID, itemIDs),
		entity.NewColumnVarChar(FieldProject, projects),
		entity.NewColumnVarChar(FieldStatus, statuses),
		entity.NewColumnVarChar(FieldTitle, titles),
		entity.NewColumnJSONBytes(FieldPayload, payloads),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert documents: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Documents upserted into vector DB", zap.Int("count", len(docs)))
	return nil
}

// Scroll returns up to limit documents matching the filter, without vectors.
func (z *Client) Scroll(ctx context.Context, filter Filter, limit int) ([]Document, error) {
	expr := filter.Expr()
	if expr == "" {
		expr = matchAll
	}

	rs, err := z.client.Query(ctx, z.collectionName, nil, expr, outputFields, client.WithLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	docs, err := decodeColumns(rs, rowCount(rs))
	if err != nil {
		return nil, err
	}

	logger.Debug("Vector query completed", zap.String("filter", expr), zap.Int("results", len(docs)))
	return docs, nil
}

func (z *Client) Count(ctx context.Context, filter Filter) (int, error) {
	expr := filter.Expr()
	if expr == "" {
		expr = matchAll
	}

	rs, err := z.client.Query(ctx, z.collectionName, nil, expr, []string{"count(*)"})
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}

	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, fmt.Errorf("count query returned no rows")
	}
	v, err := col.Get(0)
	if err != nil {
		return 0, fmt.Errorf("failed to read count: %w", err)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
	return int(n), nil
}

func (z *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, filter Filter) ([]SearchResult, error) {
	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	expr := filter.Expr()
	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		FieldVector,
		z.metric,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		docs, err := decodeColumns(sr.Fields, sr.ResultCount)
		if err != nil {
			return nil, err
		}
		for i, doc := range docs {
			results = append(results, SearchResult{Document: doc, Score: sr.Scores[i]})
		}
	}

	logger.Info("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filters", expr),
	)

	return results, nil
}

func decodeColumns(rs client.ResultSet, n int) ([]Document, error) {
	str := func(name string, i int) (string, error) {
		col := rs.GetColumn(name)
		if col == nil {
			return "", nil
		}
		v, err := col.Get(i)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		s, _ := v.(string)
		return s, nil
	}

	docs := make([]Document, 0, n)
	for i := 0; i < n; i++ {
		var doc Document
		var err error
		fields := []struct {
			name string
			dst  *string
		}{
			{FieldID, &doc.ID},
			{FieldText, &doc.Text},
			{FieldType, &doc.Type},
			{FieldItemID, &doc.ItemID},
			{FieldProject, &doc.Project},
			{FieldStatus, &doc.Status},
			{FieldTitle, &doc.Title},
		}
		for _, f := range fields {
			if *f.dst, err = str(f.name, i); err != nil {
				return nil, err
			}
		}

		if col := rs.GetColumn(FieldPayload); col != nil {
			v, err := col.Get(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read payload: %w", err)
			}
			if raw, ok := v.([]byte); ok && len(raw) > 0 {
				if err := json.Unmarshal(raw, &doc.Payload); err != nil {
					return nil, fmt.Errorf("failed to decode payload for %s: %w", doc.ID, err)
				}
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func rowCount(rs client.ResultSet) int {
	if col := rs.GetColumn(FieldID); col != nil {
		return col.Len()
	}
	return 0
}

func metricType(m Metric) (entity.MetricType, error) {
	switch m {
	case MetricCosine:
		return entity.COSINE, nil
	case MetricL2:
		return entity.L2, nil
	case MetricIP:
		return entity.IP, nil
	default:
		return "", fmt.Errorf("unsupported metric %q", m)
	}
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
