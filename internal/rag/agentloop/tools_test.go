package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/persistence/databases"
	"docintel/internal/rag/answer"
	"docintel/internal/rag/embedder"
	"docintel/internal/rag/retrieve"
)

func seededMetadata(t *testing.T, ctx context.Context) databases.MetadataStore {
	t.Helper()
	meta := databases.NewMemoryMetadata()
	require.NoError(t, meta.InsertDocument(ctx, databases.Document{
		ID: "d1", Title: "Employee Handbook v1", Status: "ready", IsLatest: false,
		VersionNumber: "1.0", VersionStatus: "superseded", Summary: "Describes leave policy.",
	}))
	require.NoError(t, meta.InsertDocument(ctx, databases.Document{
		ID: "d2", Title: "Employee Handbook v2", Status: "ready", IsLatest: true,
		VersionNumber: "2.0", VersionStatus: "active", ParentVersionID: "d1", Summary: "Updated leave policy.",
	}))
	require.NoError(t, meta.InsertChunks(ctx, []databases.ChunkRow{
		{ChunkDoc: databases.ChunkDoc{ID: "c1", DocID: "d2", ChunkType: "text", SectionPath: "Leave Policy", PageNumbers: []int{3}, ChunkIndex: 0, Content: "Employees accrue fifteen days of paid leave annually."}},
		{ChunkDoc: databases.ChunkDoc{ID: "c2", DocID: "d2", ChunkType: "section_summary", SectionPath: "Leave Policy", ChunkIndex: 1, Content: "Summary: fifteen days of annual leave."}},
	}))
	return meta
}

func TestListDocumentsTool_DefaultsStatusToReady(t *testing.T) {
	ctx := context.Background()
	meta := seededMetadata(t, ctx)
	require.NoError(t, meta.InsertDocument(ctx, databases.Document{ID: "d3", Title: "Draft Policy", Status: "pending"}))

	tool := listDocumentsTool{metadata: meta}
	out, err := tool.Call(ctx, json.RawMessage(`{}`))
	require.NoError(t, err)
	text, ok := out.(string)
	require.True(t, ok)
	require.Contains(t, text, "Employee Handbook")
	require.NotContains(t, text, "Draft Policy")
}

func TestReadDocumentSummaryTool_ReturnsSectionSummaryWhenRequested(t *testing.T) {
	ctx := context.Background()
	meta := seededMetadata(t, ctx)

	tool := readDocumentSummaryTool{metadata: meta}
	out, err := tool.Call(ctx, json.RawMessage(`{"doc_id":"d2","section_path":"Leave Policy"}`))
	require.NoError(t, err)
	require.Contains(t, out.(string), "fifteen days")
}

func TestReadDocumentDetailTool_FiltersByPageRange(t *testing.T) {
	ctx := context.Background()
	meta := seededMetadata(t, ctx)

	tool := readDocumentDetailTool{metadata: meta}
	out, err := tool.Call(ctx, json.RawMessage(`{"doc_id":"d2","page_range":"1-2"}`))
	require.NoError(t, err)
	require.Equal(t, "no chunks matched", out)

	out, err = tool.Call(ctx, json.RawMessage(`{"doc_id":"d2","page_range":"3"}`))
	require.NoError(t, err)
	require.Contains(t, out.(string), "accrue")
}

func TestGetVersionHistoryTool_WalksParentAndChild(t *testing.T) {
	ctx := context.Background()
	meta := seededMetadata(t, ctx)

	tool := getVersionHistoryTool{metadata: meta}
	out, err := tool.Call(ctx, json.RawMessage(`{"doc_id":"d1"}`))
	require.NoError(t, err)
	text := out.(string)
	require.Contains(t, text, "d1")
	require.Contains(t, text, "d2")
}

func TestCompareVersionsTool_ReturnsCachedDiff(t *testing.T) {
	ctx := context.Background()
	meta := seededMetadata(t, ctx)
	require.NoError(t, meta.PutVersionDiff(ctx, databases.VersionDiff{OldDocID: "d1", NewDocID: "d2", ChangeSummary: "leave days unchanged"}))

	tool := compareVersionsTool{metadata: meta}
	out, err := tool.Call(ctx, json.RawMessage(`{"doc_id":"d1","other_doc_id":"d2"}`))
	require.NoError(t, err)
	require.Equal(t, "leave days unchanged", out)
}

func TestSearchDocumentsTool_ReturnsFormattedCitationLines(t *testing.T) {
	ctx := context.Background()
	meta := seededMetadata(t, ctx)
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	emb := embedder.NewDeterministic(16, 5)

	chunk := databases.ChunkDoc{ID: "c1", DocID: "d2", ChunkType: "text", SectionPath: "Leave Policy", PageNumbers: []int{3}, Content: "Employees accrue fifteen days of paid leave annually.", IsLatest: true}
	require.NoError(t, search.Index(ctx, chunk))
	vecs, err := emb.EmbedBatch(ctx, []string{chunk.Content})
	require.NoError(t, err)
	require.NoError(t, vector.Upsert(ctx, chunk.ID, vecs[0], chunk))

	retriever := &retrieve.Retriever{Search: search, Vector: vector, Metadata: meta, Embedder: emb}
	tool := searchDocumentsTool{retriever: retriever, metadata: meta}
	out, err := tool.Call(ctx, json.RawMessage(`{"query":"how many leave days"}`))
	require.NoError(t, err)
	text := out.(string)
	require.Contains(t, text, "Leave Policy")
	require.Contains(t, text, "Employee Handbook v2")
	require.NotContains(t, text, "《d2》")
}

func TestCrossDocumentAnalysisTool_RequiresAtLeastTwoDocIDs(t *testing.T) {
	ctx := context.Background()
	tool := crossDocumentAnalysisTool{
		retriever: &retrieve.Retriever{},
		answerer:  &answer.Generator{},
	}
	_, err := tool.Call(ctx, json.RawMessage(`{"doc_ids":"d1","analysis_topic":"leave policy"}`))
	require.Error(t, err)
}

func TestExtractCitationsFromObservations_DedupsByTitleAndSection(t *testing.T) {
	obs := []string{
		"[1] 《Employee Handbook》[Leave Policy] (3)\nsome content",
		"[2] 《Employee Handbook》[Leave Policy] (3)\nduplicate content",
		"[3] 《Benefits Guide》[Eligibility] (1,2)\nother content",
	}
	cites := extractCitationsFromObservations(obs)
	require.Len(t, cites, 2)
	require.Equal(t, "Employee Handbook", cites[0].Title)
	require.Equal(t, "Benefits Guide", cites[1].Title)
}
