package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/objectstore"
	"docintel/internal/persistence/databases"
	"docintel/internal/rag/chunker"
	"docintel/internal/rag/diff"
	"docintel/internal/rag/embedder"
	"docintel/internal/rag/summarize"
	"docintel/internal/rag/version"
)

func newTestPipeline() (*Pipeline, databases.Manager) {
	stores := databases.Manager{
		Search:   databases.NewMemorySearch(),
		Vector:   databases.NewMemoryVector(),
		Metadata: databases.NewMemoryMetadata(),
	}
	emb := embedder.NewDeterministic(8, 1)
	p := NewPipeline(
		stores,
		objectstore.NewMemoryStore(),
		emb,
		summarize.New(nil, "", 4),
		&version.Detector{Metadata: stores.Metadata, Vector: stores.Vector, Embedder: emb, ConfidenceThreshold: 0.8, TitleThreshold: 0.4, ContentThreshold: 0.75},
		&diff.Engine{Metadata: stores.Metadata},
		chunker.Config{},
	)
	return p, stores
}

const sampleMarkdown = `# Introduction

This policy applies to all employees of the company.

# Scope

This section describes the scope of the policy in detail across departments.
`

func TestPipeline_UploadProducesReadyDocumentWithChunks(t *testing.T) {
	ctx := context.Background()
	p, stores := newTestPipeline()

	res, err := p.Upload(ctx, UploadRequest{
		Filename: "handbook.md",
		Content:  []byte(sampleMarkdown),
		Title:    "Employee Handbook",
	})
	require.NoError(t, err)
	require.Equal(t, "ready", res.Status)
	require.True(t, res.IsLatest)
	require.Equal(t, "v1.0", res.VersionNumber)
	require.Greater(t, res.ChunkCount, 0)

	doc, ok, err := stores.Metadata.GetDocument(ctx, res.DocID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ready", doc.Status)
}

func TestPipeline_UploadRejectsDuplicateContent(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline()

	req := UploadRequest{Filename: "handbook.md", Content: []byte(sampleMarkdown), Title: "Employee Handbook"}
	_, err := p.Upload(ctx, req)
	require.NoError(t, err)

	_, err = p.Upload(ctx, req)
	require.Error(t, err)
	var dupErr *DuplicateError
	require.True(t, errors.As(err, &dupErr))
	require.True(t, errors.Is(err, ErrDuplicateDocument))
}

func TestPipeline_DeleteRemovesFromAllStores(t *testing.T) {
	ctx := context.Background()
	p, stores := newTestPipeline()

	res, err := p.Upload(ctx, UploadRequest{Filename: "handbook.md", Content: []byte(sampleMarkdown), Title: "Employee Handbook"})
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, res.DocID))

	_, ok, err := stores.Metadata.GetDocument(ctx, res.DocID)
	require.NoError(t, err)
	require.False(t, ok)

	hits, err := stores.Search.Search(ctx, "policy", 10, databases.ChunkFilter{})
	require.NoError(t, err)
	for _, h := range hits {
		require.NotEqual(t, res.DocID, h.Chunk.DocID)
	}
}
