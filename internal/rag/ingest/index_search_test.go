package ingest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/persistence/databases"
	"docintel/internal/rag/ingest"
)

func TestUpsertChunksToSearch_IndexesAllChunks(t *testing.T) {
	ctx := context.Background()
	search := databases.NewMemorySearch()

	docs := []databases.ChunkDoc{
		{ID: "c1", DocID: "doc1", ChunkType: "text", SectionPath: "Intro", Content: "hello world", IsLatest: true},
		{ID: "c2", DocID: "doc1", ChunkType: "text", SectionPath: "Body", Content: "more content here", IsLatest: true},
	}
	require.NoError(t, ingest.UpsertChunksToSearch(ctx, search, docs))

	results, err := search.Search(ctx, "hello", 10, databases.ChunkFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "c1", results[0].Chunk.ID)
}

func TestRemoveDocumentFromSearch_DeletesAllChunksForDoc(t *testing.T) {
	ctx := context.Background()
	search := databases.NewMemorySearch()
	docs := []databases.ChunkDoc{
		{ID: "c1", DocID: "doc1", ChunkType: "text", Content: "alpha"},
		{ID: "c2", DocID: "doc2", ChunkType: "text", Content: "beta"},
	}
	require.NoError(t, ingest.UpsertChunksToSearch(ctx, search, docs))
	require.NoError(t, ingest.RemoveDocumentFromSearch(ctx, search, "doc1"))

	results, err := search.Search(ctx, "alpha", 10, databases.ChunkFilter{})
	require.NoError(t, err)
	require.Empty(t, results)

	results, err = search.Search(ctx, "beta", 10, databases.ChunkFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestUpsertChunksToSearch_NoopOnEmptyInput(t *testing.T) {
	require.NoError(t, ingest.UpsertChunksToSearch(context.Background(), databases.NewMemorySearch(), nil))
}
