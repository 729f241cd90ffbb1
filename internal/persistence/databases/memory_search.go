package databases

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memorySearch is a naive in-memory term-frequency lexical index, used for
// tests and as the fallback when no Elasticsearch address is configured.
type memorySearch struct {
	mu   sync.RWMutex
	docs map[string]ChunkDoc
}

func NewMemorySearch() FullTextSearch { return &memorySearch{docs: make(map[string]ChunkDoc)} }

func (m *memorySearch) Index(_ context.Context, doc ChunkDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *memorySearch) BulkIndex(ctx context.Context, docs []ChunkDoc) error {
	for _, d := range docs {
		if err := m.Index(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (m *memorySearch) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *memorySearch) RemoveByDocID(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, d := range m.docs {
		if d.DocID == docID {
			delete(m.docs, id)
		}
	}
	return nil
}

func (m *memorySearch) Search(_ context.Context, query string, k int, filter ChunkFilter) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	terms := strings.Fields(strings.ToLower(query))
	out := make([]SearchResult, 0, k)
	for _, d := range m.docs {
		if !chunkMatchesFilter(d, filter) {
			continue
		}
		score := 0.0
		lt := strings.ToLower(d.Content)
		for _, t := range terms {
			if t == "" {
				continue
			}
			if c := strings.Count(lt, t); c > 0 {
				score += float64(c)
			}
		}
		if score <= 0 {
			continue
		}
		snippet := d.Content
		if len(snippet) > 160 {
			snippet = snippet[:160]
		}
		out = append(out, SearchResult{Chunk: d, Score: score, Snippet: snippet})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func chunkMatchesFilter(d ChunkDoc, f ChunkFilter) bool {
	if f.DocID != "" && d.DocID != f.DocID {
		return false
	}
	if f.GroupID != "" && d.GroupID != f.GroupID {
		return false
	}
	if f.DocType != "" && d.DocType != f.DocType {
		return false
	}
	if f.ChunkType != "" && d.ChunkType != f.ChunkType {
		return false
	}
	if f.IsLatest != nil && d.IsLatest != *f.IsLatest {
		return false
	}
	return true
}
