package databases

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Qdrant only allows UUIDs and positive integers as point IDs, so chunk
// identifiers that aren't themselves UUIDs get a deterministic UUID and the
// original chunk ID travels in the payload under this key.
const payloadIDField = "_original_id"

type qdrantVector struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantVector creates a vector store backed by Qdrant's gRPC API (port
// 6334 by default). An API key can be supplied as a query parameter:
// "http://localhost:6334?api_key=your_api_key".
func NewQdrantVector(dsn string, collection string, dimensions int) (VectorStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse Qdrant DSN: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in Qdrant DSN: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create Qdrant client: %w", err)
	}
	qv := &qdrantVector{client: client, collection: collection, dimension: dimensions}
	ctx := context.Background()
	if err := qv.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return qv, nil
}

// ensureCollection creates the collection with cosine similarity if it
// doesn't already exist, and indexes the filterable payload fields.
func (q *qdrantVector) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	fieldTypes := map[string]qdrant.FieldType{
		"doc_id":     qdrant.FieldType_FieldTypeKeyword,
		"doc_type":   qdrant.FieldType_FieldTypeKeyword,
		"chunk_type": qdrant.FieldType_FieldTypeKeyword,
		"is_latest":  qdrant.FieldType_FieldTypeBool,
		"group_id":   qdrant.FieldType_FieldTypeKeyword,
	}
	for field, ft := range fieldTypes {
		_, _ = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      ft.Enum(),
		})
	}
	return nil
}

func pointIDFor(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

func docToPayload(id string, d ChunkDoc, remapped bool) map[string]any {
	m := map[string]any{
		"doc_id":       d.DocID,
		"doc_type":     d.DocType,
		"chunk_type":   d.ChunkType,
		"section_path": d.SectionPath,
		"chunk_index":  int64(d.ChunkIndex),
		"content":      d.Content,
		"token_count":  int64(d.TokenCount),
		"group_id":     d.GroupID,
		"department":   d.Department,
		"is_latest":    d.IsLatest,
	}
	if len(d.PageNumbers) > 0 {
		pages := make([]any, len(d.PageNumbers))
		for i, p := range d.PageNumbers {
			pages[i] = int64(p)
		}
		m["page_numbers"] = pages
	}
	if remapped {
		m[payloadIDField] = id
	}
	return m
}

func payloadToChunk(payload map[string]*qdrant.Value) ChunkDoc {
	d := ChunkDoc{}
	if payload == nil {
		return d
	}
	if v, ok := payload["doc_id"]; ok {
		d.DocID = v.GetStringValue()
	}
	if v, ok := payload["doc_type"]; ok {
		d.DocType = v.GetStringValue()
	}
	if v, ok := payload["chunk_type"]; ok {
		d.ChunkType = v.GetStringValue()
	}
	if v, ok := payload["section_path"]; ok {
		d.SectionPath = v.GetStringValue()
	}
	if v, ok := payload["chunk_index"]; ok {
		d.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload["content"]; ok {
		d.Content = v.GetStringValue()
	}
	if v, ok := payload["token_count"]; ok {
		d.TokenCount = int(v.GetIntegerValue())
	}
	if v, ok := payload["group_id"]; ok {
		d.GroupID = v.GetStringValue()
	}
	if v, ok := payload["department"]; ok {
		d.Department = v.GetStringValue()
	}
	if v, ok := payload["is_latest"]; ok {
		d.IsLatest = v.GetBoolValue()
	}
	if v, ok := payload["page_numbers"]; ok {
		for _, p := range v.GetListValue().GetValues() {
			d.PageNumbers = append(d.PageNumbers, int(p.GetIntegerValue()))
		}
	}
	return d
}

func (q *qdrantVector) Upsert(ctx context.Context, id string, vector []float32, doc ChunkDoc) error {
	pointID, remapped := pointIDFor(id)
	doc.ID = id
	payload := qdrant.NewValueMap(docToPayload(id, doc, remapped))
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		}},
	})
	return err
}

func (q *qdrantVector) Delete(ctx context.Context, id string) error {
	pointID, _ := pointIDFor(id)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID)),
	})
	return err
}

func (q *qdrantVector) DeleteByDocID(ctx context.Context, docID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("doc_id", docID)},
		}),
	})
	return err
}

func filterToQdrant(f ChunkFilter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.DocID != "" {
		must = append(must, qdrant.NewMatch("doc_id", f.DocID))
	}
	if f.GroupID != "" {
		must = append(must, qdrant.NewMatch("group_id", f.GroupID))
	}
	if f.DocType != "" {
		must = append(must, qdrant.NewMatch("doc_type", f.DocType))
	}
	if f.ChunkType != "" {
		must = append(must, qdrant.NewMatch("chunk_type", f.ChunkType))
	}
	if f.IsLatest != nil {
		must = append(must, qdrant.NewMatchBool("is_latest", *f.IsLatest))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func (q *qdrantVector) SimilaritySearch(ctx context.Context, vector []float32, k int, filter ChunkFilter) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filterToQdrant(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]VectorResult, 0, len(hits))
	for _, hit := range hits {
		doc := payloadToChunk(hit.Payload)
		id := doc.ID
		if v, ok := hit.Payload[payloadIDField]; ok {
			id = v.GetStringValue()
		} else if id == "" {
			id = hit.Id.GetUuid()
		}
		doc.ID = id
		out = append(out, VectorResult{Chunk: doc, Score: float64(hit.Score)})
	}
	return out, nil
}

func (q *qdrantVector) Dimension() int { return q.dimension }

func (q *qdrantVector) Close() error { return q.client.Close() }
