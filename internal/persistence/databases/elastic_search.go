package databases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// elasticSearch is the lexical half of hybrid retrieval in production. The
// index mapping uses the configured analyzer (ik_max_word by default, for
// Chinese word segmentation) on content and section_path (which also has a
// keyword sub-field), and maps doc_id/doc_type/chunk_type/group_id/department
// as keyword and is_latest as boolean fields so term filters don't need a
// second index.
type elasticSearch struct {
	client   *elasticsearch.Client
	index    string
	analyzer string
}

// NewElasticSearch creates a lexical store backed by Elasticsearch and
// ensures the index exists with the configured analyzer.
func NewElasticSearch(addresses []string, index, analyzer string) (FullTextSearch, error) {
	if index == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if analyzer == "" {
		analyzer = "standard"
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	es := &elasticSearch{client: client, index: index, analyzer: analyzer}
	if err := es.ensureIndex(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure index: %w", err)
	}
	return es, nil
}

func (e *elasticSearch) ensureIndex(ctx context.Context) error {
	exists, err := esapi.IndicesExistsRequest{Index: []string{e.index}}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}

	mapping := map[string]any{
		"settings": map[string]any{
			"analysis": map[string]any{
				"analyzer": map[string]any{
					"docintel_text": map[string]any{
						"type":      "custom",
						"tokenizer": e.analyzer,
					},
				},
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"doc_id":       map[string]any{"type": "keyword"},
				"doc_type":     map[string]any{"type": "keyword"},
				"chunk_type":   map[string]any{"type": "keyword"},
				"group_id":     map[string]any{"type": "keyword"},
				"department":   map[string]any{"type": "keyword"},
				"is_latest":    map[string]any{"type": "boolean"},
				"chunk_index":  map[string]any{"type": "integer"},
				"token_count":  map[string]any{"type": "integer"},
				"page_numbers": map[string]any{"type": "integer"},
				"section_path": map[string]any{
					"type":     "text",
					"analyzer": e.analyzerOrStandard(),
					"fields":   map[string]any{"keyword": map[string]any{"type": "keyword"}},
				},
				"content": map[string]any{
					"type":     "text",
					"analyzer": e.analyzerOrStandard(),
				},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return err
	}
	res, err := esapi.IndicesCreateRequest{
		Index: e.index,
		Body:  bytes.NewReader(body),
	}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index: %s", res.String())
	}
	return nil
}

// analyzerOrStandard returns ik_max_word or ik_smart unchanged when one of
// them is configured (the IK plugin must then be installed), and otherwise
// the custom docintel_text analyzer defined in ensureIndex, whose tokenizer
// is the configured name ("standard" when none was given).
func (e *elasticSearch) analyzerOrStandard() string {
	if e.analyzer == "ik_max_word" || e.analyzer == "ik_smart" {
		return e.analyzer
	}
	return "docintel_text"
}

func chunkDocToESBody(doc ChunkDoc) map[string]any {
	return map[string]any{
		"doc_id":       doc.DocID,
		"doc_type":     doc.DocType,
		"chunk_type":   doc.ChunkType,
		"section_path": doc.SectionPath,
		"page_numbers": doc.PageNumbers,
		"chunk_index":  doc.ChunkIndex,
		"content":      doc.Content,
		"token_count":  doc.TokenCount,
		"group_id":     doc.GroupID,
		"department":   doc.Department,
		"is_latest":    doc.IsLatest,
	}
}

func (e *elasticSearch) Index(ctx context.Context, doc ChunkDoc) error {
	body, err := json.Marshal(chunkDocToESBody(doc))
	if err != nil {
		return err
	}
	res, err := esapi.IndexRequest{
		Index:      e.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index chunk %s: %s", doc.ID, res.String())
	}
	return nil
}

// BulkIndex uses the newline-delimited bulk API with refresh=true so the
// documents are immediately searchable, matching the ingestion pipeline's
// expectation that a completed batch is queryable without delay.
func (e *elasticSearch) BulkIndex(ctx context.Context, docs []ChunkDoc) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_index": e.index, "_id": doc.ID}}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		bodyLine, err := json.Marshal(chunkDocToESBody(doc))
		if err != nil {
			return err
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')
		buf.Write(bodyLine)
		buf.WriteByte('\n')
	}
	res, err := esapi.BulkRequest{
		Body:    bytes.NewReader(buf.Bytes()),
		Refresh: "true",
	}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index: %s", res.String())
	}
	var parsed struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err == nil && parsed.Errors {
		return fmt.Errorf("bulk index reported per-item errors")
	}
	return nil
}

func (e *elasticSearch) Remove(ctx context.Context, id string) error {
	res, err := esapi.DeleteRequest{Index: e.index, DocumentID: id}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete chunk %s: %s", id, res.String())
	}
	return nil
}

func (e *elasticSearch) RemoveByDocID(ctx context.Context, docID string) error {
	query := map[string]any{"query": map[string]any{"term": map[string]any{"doc_id": docID}}}
	body, err := json.Marshal(query)
	if err != nil {
		return err
	}
	res, err := esapi.DeleteByQueryRequest{
		Index: []string{e.index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete by doc_id %s: %s", docID, res.String())
	}
	return nil
}

func filterToESTerms(f ChunkFilter) []map[string]any {
	var filters []map[string]any
	if f.DocID != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"doc_id": f.DocID}})
	}
	if f.GroupID != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"group_id": f.GroupID}})
	}
	if f.DocType != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"doc_type": f.DocType}})
	}
	if f.ChunkType != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"chunk_type": f.ChunkType}})
	}
	if f.IsLatest != nil {
		filters = append(filters, map[string]any{"term": map[string]any{"is_latest": *f.IsLatest}})
	}
	return filters
}

func (e *elasticSearch) Search(ctx context.Context, query string, k int, filter ChunkFilter) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	boolQuery := map[string]any{
		"must": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"content^3", "section_path"},
			},
		},
	}
	if filters := filterToESTerms(filter); len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	reqBody := map[string]any{
		"size":  k,
		"query": map[string]any{"bool": boolQuery},
		"highlight": map[string]any{
			"fields": map[string]any{"content": map[string]any{}},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	res, err := esapi.SearchRequest{
		Index: []string{e.index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string          `json:"_id"`
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
				Highlight struct {
					Content []string `json:"content"`
				} `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]SearchResult, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		var src struct {
			DocID       string `json:"doc_id"`
			DocType     string `json:"doc_type"`
			ChunkType   string `json:"chunk_type"`
			SectionPath string `json:"section_path"`
			PageNumbers []int  `json:"page_numbers"`
			ChunkIndex  int    `json:"chunk_index"`
			Content     string `json:"content"`
			TokenCount  int    `json:"token_count"`
			GroupID     string `json:"group_id"`
			Department  string `json:"department"`
			IsLatest    bool   `json:"is_latest"`
		}
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			continue
		}
		snippet := strings.Join(hit.Highlight.Content, " … ")
		if snippet == "" {
			snippet = src.Content
			if len(snippet) > 160 {
				snippet = snippet[:160]
			}
		}
		out = append(out, SearchResult{
			Chunk: ChunkDoc{
				ID: hit.ID, DocID: src.DocID, DocType: src.DocType, ChunkType: src.ChunkType,
				SectionPath: src.SectionPath, PageNumbers: src.PageNumbers, ChunkIndex: src.ChunkIndex,
				Content: src.Content, TokenCount: src.TokenCount, GroupID: src.GroupID,
				Department: src.Department, IsLatest: src.IsLatest,
			},
			Score:   hit.Score,
			Snippet: snippet,
		})
	}
	return out, nil
}

func (e *elasticSearch) Close() error { return nil }
