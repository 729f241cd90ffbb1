package retrieve

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/persistence/databases"
	"docintel/internal/rag/embedder"
)

func seedChunks(t *testing.T, search databases.FullTextSearch, vector databases.VectorStore, meta databases.MetadataStore, emb embedder.Embedder) {
	ctx := context.Background()
	rows := []databases.ChunkRow{
		{ChunkDoc: databases.ChunkDoc{ID: "c1", DocID: "d1", ChunkIndex: 0, Content: "the quarterly revenue grew significantly", IsLatest: true}},
		{ChunkDoc: databases.ChunkDoc{ID: "c2", DocID: "d1", ChunkIndex: 1, Content: "expenses remained flat across divisions", IsLatest: true}},
		{ChunkDoc: databases.ChunkDoc{ID: "c3", DocID: "d1", ChunkIndex: 2, Content: "headcount increased in engineering", IsLatest: true}},
		{ChunkDoc: databases.ChunkDoc{ID: "c4", DocID: "d2", ChunkIndex: 0, Content: "unrelated marketing copy about shoes", IsLatest: true}},
	}
	require.NoError(t, meta.InsertChunks(ctx, rows))
	for _, r := range rows {
		require.NoError(t, search.Index(ctx, r.ChunkDoc))
		vecs, err := emb.EmbedBatch(ctx, []string{r.Content})
		require.NoError(t, err)
		require.NoError(t, vector.Upsert(ctx, r.ID, vecs[0], r.ChunkDoc))
	}
}

func TestRetrieve_FusesLexicalAndVectorHits(t *testing.T) {
	ctx := context.Background()
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	meta := databases.NewMemoryMetadata()
	emb := embedder.NewDeterministic(16, 7)
	seedChunks(t, search, vector, meta, emb)

	r := &Retriever{Search: search, Vector: vector, Metadata: meta, Embedder: emb}
	hits, err := r.Retrieve(ctx, "quarterly revenue", Options{FinalTopK: 2})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "c1", hits[0].Chunk.ID)
}

func TestRetrieve_AccessibleDocIDsEmptyForcesEmptyResult(t *testing.T) {
	ctx := context.Background()
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	meta := databases.NewMemoryMetadata()
	emb := embedder.NewDeterministic(16, 7)
	seedChunks(t, search, vector, meta, emb)

	r := &Retriever{Search: search, Vector: vector, Metadata: meta, Embedder: emb}
	hits, err := r.Retrieve(ctx, "quarterly revenue", Options{AccessibleDocIDs: []string{}})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestRetrieve_AccessibleDocIDsRestrictsToAllowedDocs(t *testing.T) {
	ctx := context.Background()
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	meta := databases.NewMemoryMetadata()
	emb := embedder.NewDeterministic(16, 7)
	seedChunks(t, search, vector, meta, emb)

	r := &Retriever{Search: search, Vector: vector, Metadata: meta, Embedder: emb}
	hits, err := r.Retrieve(ctx, "revenue shoes", Options{AccessibleDocIDs: []string{"d2"}, FinalTopK: 5})
	require.NoError(t, err)
	for _, h := range hits {
		require.Equal(t, "d2", h.Chunk.DocID)
	}
}

func TestRetrieve_ContextWindowExpandsNeighborContent(t *testing.T) {
	ctx := context.Background()
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	meta := databases.NewMemoryMetadata()
	emb := embedder.NewDeterministic(16, 7)
	seedChunks(t, search, vector, meta, emb)

	r := &Retriever{Search: search, Vector: vector, Metadata: meta, Embedder: emb}
	hits, err := r.Retrieve(ctx, "expenses remained flat", Options{FinalTopK: 1, ContextWindowChunks: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Contains(t, hits[0].Chunk.Content, "expenses remained flat")
	require.True(t,
		strings.Contains(hits[0].Chunk.Content, "quarterly revenue") ||
			strings.Contains(hits[0].Chunk.Content, "headcount increased"),
	)
}

func TestFuseRRF_CombinesRanksFromBothLists(t *testing.T) {
	ft := []databases.SearchResult{
		{Chunk: databases.ChunkDoc{ID: "a"}},
		{Chunk: databases.ChunkDoc{ID: "b"}},
	}
	vec := []databases.VectorResult{
		{Chunk: databases.ChunkDoc{ID: "b"}},
		{Chunk: databases.ChunkDoc{ID: "c"}},
	}
	fused := fuseRRF(ft, vec, 60)
	require.Equal(t, "b", fused[0].Chunk.ID)
}
