package databases

import (
	"context"
	"testing"

	"docintel/internal/config"

	"github.com/stretchr/testify/require"
)

func TestMemorySearch_IndexAndSearch(t *testing.T) {
	t.Parallel()
	s := NewMemorySearch()
	ctx := context.Background()
	require.NoError(t, s.Index(ctx, ChunkDoc{ID: "1", DocID: "d1", Content: "The quick brown fox jumps over the lazy dog"}))
	require.NoError(t, s.Index(ctx, ChunkDoc{ID: "2", DocID: "d1", Content: "Foxes are swift and quick"}))
	require.NoError(t, s.Index(ctx, ChunkDoc{ID: "3", DocID: "d2", Content: "Completely unrelated text"}))

	hits, err := s.Search(ctx, "quick fox", 5, ChunkFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Contains(t, []string{"1", "2"}, hits[0].Chunk.ID)
}

func TestMemorySearch_FiltersByDocID(t *testing.T) {
	t.Parallel()
	s := NewMemorySearch()
	ctx := context.Background()
	require.NoError(t, s.Index(ctx, ChunkDoc{ID: "1", DocID: "d1", Content: "annual report figures"}))
	require.NoError(t, s.Index(ctx, ChunkDoc{ID: "2", DocID: "d2", Content: "annual report figures"}))

	hits, err := s.Search(ctx, "annual report", 5, ChunkFilter{DocID: "d2"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "2", hits[0].Chunk.ID)
}

func TestMemoryVector_UpsertAndQuery(t *testing.T) {
	t.Parallel()
	v := NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, v.Upsert(ctx, "a", []float32{1, 0}, ChunkDoc{ID: "a", DocID: "d1"}))
	require.NoError(t, v.Upsert(ctx, "b", []float32{0, 1}, ChunkDoc{ID: "b", DocID: "d1"}))
	require.NoError(t, v.Upsert(ctx, "c", []float32{1, 1}, ChunkDoc{ID: "c", DocID: "d1"}))

	res, err := v.SimilaritySearch(ctx, []float32{0.9, 0.1}, 2, ChunkFilter{})
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "a", res[0].Chunk.ID)
}

func TestMemoryVector_DeleteByDocID(t *testing.T) {
	t.Parallel()
	v := NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, v.Upsert(ctx, "a", []float32{1, 0}, ChunkDoc{ID: "a", DocID: "d1"}))
	require.NoError(t, v.Upsert(ctx, "b", []float32{0, 1}, ChunkDoc{ID: "b", DocID: "d2"}))

	require.NoError(t, v.DeleteByDocID(ctx, "d1"))
	res, err := v.SimilaritySearch(ctx, []float32{1, 0}, 10, ChunkFilter{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "b", res[0].Chunk.ID)
}

func TestMemoryMetadata_DocumentLifecycle(t *testing.T) {
	t.Parallel()
	m := NewMemoryMetadata()
	ctx := context.Background()

	doc := Document{ID: "doc1", Title: "Employee Handbook 2024", ContentHash: "abc123", Status: "ready", IsLatest: true}
	require.NoError(t, m.InsertDocument(ctx, doc))

	got, ok, err := m.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Employee Handbook 2024", got.Title)

	byHash, ok, err := m.GetDocumentByHash(ctx, "abc123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "doc1", byHash.ID)

	require.NoError(t, m.DeleteDocument(ctx, "doc1"))
	_, ok, err = m.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryMetadata_FindByTitleSimilarity(t *testing.T) {
	t.Parallel()
	m := NewMemoryMetadata()
	ctx := context.Background()
	require.NoError(t, m.InsertDocument(ctx, Document{ID: "d1", Title: "Employee Handbook 2024"}))
	require.NoError(t, m.InsertDocument(ctx, Document{ID: "d2", Title: "Employee Handbook 2025"}))
	require.NoError(t, m.InsertDocument(ctx, Document{ID: "d3", Title: "Quarterly Sales Report"}))

	candidates, err := m.FindByTitleSimilarity(ctx, "Employee Handbook 2024", 0.5, 10)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.DocID
	}
	require.Contains(t, ids, "d2")
	require.NotContains(t, ids, "d3")
}

func TestMemoryMetadata_ChunksAndLatestFlag(t *testing.T) {
	t.Parallel()
	m := NewMemoryMetadata()
	ctx := context.Background()
	require.NoError(t, m.InsertChunks(ctx, []ChunkRow{
		{ChunkDoc: ChunkDoc{ID: "c1", DocID: "d1", ChunkIndex: 1, IsLatest: true}},
		{ChunkDoc: ChunkDoc{ID: "c0", DocID: "d1", ChunkIndex: 0, IsLatest: true}},
	}))

	ids, err := m.ChunkIDsForDoc(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, []string{"c0", "c1"}, ids)

	rows, err := m.ChunksForDoc(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "c0", rows[0].ID)

	require.NoError(t, m.SetChunksLatest(ctx, "d1", false))
}

func TestMemoryMetadata_VersionDiffAndGroups(t *testing.T) {
	t.Parallel()
	m := NewMemoryMetadata()
	ctx := context.Background()

	_, ok, err := m.GetVersionDiff(ctx, "old", "new")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.PutVersionDiff(ctx, VersionDiff{OldDocID: "old", NewDocID: "new", ChangeSummary: "added section 3"}))
	diff, ok, err := m.GetVersionDiff(ctx, "old", "new")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "added section 3", diff.ChangeSummary)

	require.NoError(t, m.UpsertDocumentGroup(ctx, DocumentGroup{ID: "g1", Name: "HR Policies"}))
	g, ok, err := m.GetDocumentGroup(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "HR Policies", g.Name)

	groups, err := m.ListDocumentGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
}

func TestFactory_DefaultsToMemoryBackends(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mgr, err := NewManager(ctx, config.Settings{EmbeddingDimension: 8})
	require.NoError(t, err)
	require.NotNil(t, mgr.Search)
	require.NotNil(t, mgr.Vector)
	require.NotNil(t, mgr.Metadata)

	require.NoError(t, mgr.Search.Index(ctx, ChunkDoc{ID: "x", DocID: "d", Content: "y"}))
	_, err = mgr.Search.Search(ctx, "z", 1, ChunkFilter{})
	require.NoError(t, err)
	require.NoError(t, mgr.Vector.Upsert(ctx, "x", []float32{1}, ChunkDoc{ID: "x", DocID: "d"}))
	_, err = mgr.Vector.SimilaritySearch(ctx, []float32{1}, 1, ChunkFilter{})
	require.NoError(t, err)
	require.NoError(t, mgr.Metadata.InsertDocument(ctx, Document{ID: "d"}))
}
