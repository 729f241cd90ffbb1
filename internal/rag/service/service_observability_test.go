package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/persistence/databases"
	"docintel/internal/rag/embedder"
	"docintel/internal/rag/obs"
	"docintel/internal/rag/retrieve"
)

func TestRetrieve_EmitsMetrics(t *testing.T) {
	ctx := context.Background()
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	meta := databases.NewMemoryMetadata()
	emb := embedder.NewDeterministic(8, 3)

	require.NoError(t, meta.InsertChunks(ctx, []databases.ChunkRow{
		{ChunkDoc: databases.ChunkDoc{ID: "c1", DocID: "d1", Content: "hello world", IsLatest: true}},
		{ChunkDoc: databases.ChunkDoc{ID: "c2", DocID: "d1", Content: "world of golang", IsLatest: true}},
	}))
	require.NoError(t, search.Index(ctx, databases.ChunkDoc{ID: "c1", DocID: "d1", Content: "hello world", IsLatest: true}))
	require.NoError(t, search.Index(ctx, databases.ChunkDoc{ID: "c2", DocID: "d1", Content: "world of golang", IsLatest: true}))
	v1, err := emb.EmbedBatch(ctx, []string{"hello world"})
	require.NoError(t, err)
	require.NoError(t, vector.Upsert(ctx, "c1", v1[0], databases.ChunkDoc{ID: "c1", DocID: "d1", IsLatest: true}))
	v2, err := emb.EmbedBatch(ctx, []string{"world of golang"})
	require.NoError(t, err)
	require.NoError(t, vector.Upsert(ctx, "c2", v2[0], databases.ChunkDoc{ID: "c2", DocID: "d1", IsLatest: true}))

	retriever := &retrieve.Retriever{Search: search, Vector: vector, Metadata: meta, Embedder: emb}
	metrics := obs.NewMockMetrics()
	svc := New(nil, retriever, WithMetrics(metrics))

	hits, err := svc.Retrieve(ctx, "hello world", retrieve.Options{FinalTopK: 2})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	require.Greater(t, metrics.Counters["retrieval_results_total"], 0)
	require.NotEmpty(t, metrics.Hists["retrieval_duration_ms"])
}
