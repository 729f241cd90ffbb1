// Package retrieve implements the hybrid retrieval engine: parallel dense
// and lexical search, Reciprocal Rank Fusion, optional reranking, and
// neighbor-chunk context window expansion (SPEC_FULL.md section 4.7).
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"docintel/internal/observability"
	"docintel/internal/persistence/databases"
	"docintel/internal/rag/embedder"
)

// Options configures one retrieval call.
type Options struct {
	TopKVector          int
	TopKBM25            int
	RRFK                int
	FinalTopK           int
	ContextWindowChunks int
	Rerank              bool

	// AllVersions disables the default is_latest=true constraint.
	AllVersions bool
	DocID       string
	DocType     string
	GroupID     string

	// AccessibleDocIDs enforces permission scoping: nil means no
	// constraint (admin or auth disabled), a non-nil empty slice forces an
	// empty result set, and a non-empty slice restricts hits to those
	// document ids in both stores.
	AccessibleDocIDs []string
}

func (o Options) withDefaults() Options {
	if o.TopKVector <= 0 {
		o.TopKVector = 20
	}
	if o.TopKBM25 <= 0 {
		o.TopKBM25 = 20
	}
	if o.RRFK <= 0 {
		o.RRFK = 60
	}
	if o.FinalTopK <= 0 {
		o.FinalTopK = 5
	}
	if o.ContextWindowChunks < 0 {
		o.ContextWindowChunks = 0
	}
	return o
}

// RetrievedChunk is a transient, scored hit returned from a retrieval call.
type RetrievedChunk struct {
	Chunk databases.ChunkDoc
	Score float64
}

// Retriever composes the lexical store, vector store, and metadata store
// behind one hybrid search call.
type Retriever struct {
	Search   databases.FullTextSearch
	Vector   databases.VectorStore
	Metadata databases.MetadataStore
	Embedder embedder.Embedder
	Reranker Reranker
}

// Reranker optionally reorders fused hits, e.g. via a cross-encoder call.
// Implementations must not drop items.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []RetrievedChunk) ([]RetrievedChunk, error)
}

// NoopReranker leaves ordering unchanged; the default when reranking is
// disabled or no Reranker is configured.
type NoopReranker struct{}

func (NoopReranker) Rerank(_ context.Context, _ string, chunks []RetrievedChunk) ([]RetrievedChunk, error) {
	return chunks, nil
}

// Retrieve runs dense search, lexical search, RRF fusion, optional
// reranking over the top 3*FinalTopK fused candidates, and neighbor-chunk
// context window expansion, in that order.
func (r *Retriever) Retrieve(ctx context.Context, query string, opt Options) ([]RetrievedChunk, error) {
	opt = opt.withDefaults()

	if opt.AccessibleDocIDs != nil && len(opt.AccessibleDocIDs) == 0 {
		return nil, nil
	}

	filter := databases.ChunkFilter{DocID: opt.DocID, DocType: opt.DocType, GroupID: opt.GroupID}
	if !opt.AllVersions {
		latest := true
		filter.IsLatest = &latest
	}

	var (
		vecHits []databases.VectorResult
		ftHits  []databases.SearchResult
		vecErr  error
		ftErr   error
		wg      sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if r.Vector == nil || r.Embedder == nil {
			return
		}
		vecs, err := r.Embedder.EmbedBatch(ctx, []string{query})
		if err != nil {
			vecErr = fmt.Errorf("embed query: %w", err)
			return
		}
		if len(vecs) == 0 {
			return
		}
		vecHits, vecErr = r.Vector.SimilaritySearch(ctx, vecs[0], opt.TopKVector, filter)
	}()
	go func() {
		defer wg.Done()
		if r.Search == nil {
			return
		}
		ftHits, ftErr = r.Search.Search(ctx, query, opt.TopKBM25, filter)
	}()
	wg.Wait()
	if vecErr != nil && ftErr != nil {
		return nil, vecErr
	}
	if vecErr != nil || ftErr != nil {
		observability.LoggerWithTrace(ctx).Warn().AnErr("vector_error", vecErr).AnErr("lexical_error", ftErr).
			Msg("one retrieval store failed, ranking the other store's results alone")
	}

	if opt.AccessibleDocIDs != nil {
		allowed := make(map[string]bool, len(opt.AccessibleDocIDs))
		for _, id := range opt.AccessibleDocIDs {
			allowed[id] = true
		}
		vecHits = filterVector(vecHits, allowed)
		ftHits = filterSearch(ftHits, allowed)
	}

	fused := fuseRRF(ftHits, vecHits, opt.RRFK)

	rerankPool := opt.FinalTopK * 3
	if opt.Rerank && rerankPool < len(fused) {
		fused = fused[:rerankPool]
	}
	if opt.Rerank {
		reranker := r.Reranker
		if reranker == nil {
			reranker = NoopReranker{}
		}
		out, err := reranker.Rerank(ctx, query, fused)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
		fused = out
	}

	if len(fused) > opt.FinalTopK {
		fused = fused[:opt.FinalTopK]
	}

	if opt.ContextWindowChunks > 0 && r.Metadata != nil {
		fused = r.expandContext(ctx, fused, opt.ContextWindowChunks)
	}

	return fused, nil
}

func filterVector(hits []databases.VectorResult, allowed map[string]bool) []databases.VectorResult {
	out := make([]databases.VectorResult, 0, len(hits))
	for _, h := range hits {
		if allowed[h.Chunk.DocID] {
			out = append(out, h)
		}
	}
	return out
}

func filterSearch(hits []databases.SearchResult, allowed map[string]bool) []databases.SearchResult {
	out := make([]databases.SearchResult, 0, len(hits))
	for _, h := range hits {
		if allowed[h.Chunk.DocID] {
			out = append(out, h)
		}
	}
	return out
}

// fuseRRF combines lexical and vector rankings via Reciprocal Rank Fusion:
// each list contributes 1/(k+rank) per chunk, summed, then sorted
// descending. A chunk present in both lists accumulates both contributions.
func fuseRRF(ftHits []databases.SearchResult, vecHits []databases.VectorResult, k int) []RetrievedChunk {
	type entry struct {
		chunk databases.ChunkDoc
		score float64
	}
	byID := make(map[string]*entry)
	order := make([]string, 0, len(ftHits)+len(vecHits))

	add := func(id string, chunk databases.ChunkDoc, rank int) {
		e, ok := byID[id]
		if !ok {
			e = &entry{chunk: chunk}
			byID[id] = e
			order = append(order, id)
		}
		e.score += 1.0 / float64(k+rank)
	}
	for i, h := range ftHits {
		add(h.Chunk.ID, h.Chunk, i+1)
	}
	for i, h := range vecHits {
		add(h.Chunk.ID, h.Chunk, i+1)
	}

	out := make([]RetrievedChunk, 0, len(order))
	for _, id := range order {
		e := byID[id]
		out = append(out, RetrievedChunk{Chunk: e.chunk, Score: e.score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// expandContext replaces each result's content with its neighboring chunks'
// content concatenated in sequence order, keeping the anchor chunk's other
// fields (ID, score, type) as the result of record.
func (r *Retriever) expandContext(ctx context.Context, chunks []RetrievedChunk, window int) []RetrievedChunk {
	byDoc := make(map[string][]databases.ChunkRow)
	for _, c := range chunks {
		if _, ok := byDoc[c.Chunk.DocID]; ok {
			continue
		}
		rows, err := r.Metadata.ChunksForDoc(ctx, c.Chunk.DocID)
		if err != nil {
			continue
		}
		byDoc[c.Chunk.DocID] = rows
	}

	out := make([]RetrievedChunk, len(chunks))
	for i, c := range chunks {
		rows, ok := byDoc[c.Chunk.DocID]
		if !ok {
			out[i] = c
			continue
		}
		anchor := -1
		for idx, row := range rows {
			if row.ID == c.Chunk.ID {
				anchor = idx
				break
			}
		}
		if anchor == -1 {
			out[i] = c
			continue
		}
		start := anchor - window
		if start < 0 {
			start = 0
		}
		end := anchor + window
		if end >= len(rows) {
			end = len(rows) - 1
		}
		var parts []string
		for idx := start; idx <= end; idx++ {
			parts = append(parts, rows[idx].Content)
		}
		expanded := c.Chunk
		expanded.Content = strings.Join(parts, "\n\n")
		out[i] = RetrievedChunk{Chunk: expanded, Score: c.Score}
	}
	return out
}
