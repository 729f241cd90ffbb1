package version

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/llm"
	"docintel/internal/persistence/databases"
	"docintel/internal/rag/embedder"
)

type fakeProvider struct {
	response string
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: f.response}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func TestDetect_NoCandidatesReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	d := &Detector{
		Metadata:            databases.NewMemoryMetadata(),
		ConfidenceThreshold: 0.8,
	}
	res, err := d.Detect(ctx, "Some New Title", "summary")
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestDetect_VerifiesAgainstTitleCandidate(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	require.NoError(t, meta.InsertDocument(ctx, databases.Document{ID: "doc-old", Title: "Employee Handbook 2024", Status: "ready", IsLatest: true}))

	provider := &fakeProvider{response: `{"is_new_version": true, "matched_id": "doc-old", "confidence": 0.92, "rationale": "newer handbook", "uploaded_is_newer": true, "detected_version": "v2.0"}`}
	d := &Detector{
		Metadata:            meta,
		Provider:            provider,
		TitleThreshold:      0.4,
		ConfidenceThreshold: 0.8,
	}
	res, err := d.Detect(ctx, "Employee Handbook 2025", "summary of handbook")
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, "doc-old", res.MatchedDocID)
	require.True(t, res.UploadedIsNewer)
	require.Equal(t, "v2.0", res.DetectedVersion)
}

func TestDetect_BelowConfidenceThresholdIsRejected(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	require.NoError(t, meta.InsertDocument(ctx, databases.Document{ID: "doc-old", Title: "Employee Handbook 2024"}))
	provider := &fakeProvider{response: `{"is_new_version": true, "matched_id": "doc-old", "confidence": 0.5}`}
	d := &Detector{Metadata: meta, Provider: provider, TitleThreshold: 0.4, ConfidenceThreshold: 0.8}
	res, err := d.Detect(ctx, "Employee Handbook 2025", "summary")
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestLink_UploadedIsNewerSupersedesMatched(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	emb := embedder.NewDeterministic(8, 1)
	mgr := databases.Manager{Search: search, Vector: vector, Metadata: meta}

	require.NoError(t, meta.InsertDocument(ctx, databases.Document{ID: "old", VersionNumber: "v1.0", IsLatest: true, VersionStatus: "active"}))
	require.NoError(t, meta.InsertChunks(ctx, []databases.ChunkRow{
		{ChunkDoc: databases.ChunkDoc{ID: "c1", DocID: "old", Content: "text", IsLatest: true}},
	}))

	uploaded := &databases.Document{ID: "new"}
	match := MatchResult{Found: true, MatchedDocID: "old", UploadedIsNewer: true, Confidence: 0.9}
	require.NoError(t, Link(ctx, mgr, emb, uploaded, match))

	require.Equal(t, "old", uploaded.ParentVersionID)
	require.Equal(t, "v2.0", uploaded.VersionNumber)
	require.True(t, uploaded.IsLatest)

	oldDoc, ok, err := meta.GetDocument(ctx, "old")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, oldDoc.IsLatest)
	require.Equal(t, "superseded", oldDoc.VersionStatus)
}

func TestLink_UploadedIsOlderBecomesPredecessor(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	mgr := databases.Manager{Search: databases.NewMemorySearch(), Vector: databases.NewMemoryVector(), Metadata: meta}

	require.NoError(t, meta.InsertDocument(ctx, databases.Document{ID: "new", VersionNumber: "v2.0", ParentVersionID: "", IsLatest: true}))

	uploaded := &databases.Document{ID: "old"}
	match := MatchResult{Found: true, MatchedDocID: "new", UploadedIsNewer: false}
	require.NoError(t, Link(ctx, mgr, nil, uploaded, match))

	require.False(t, uploaded.IsLatest)
	require.Equal(t, "superseded", uploaded.VersionStatus)
	require.Equal(t, "v1.0", uploaded.VersionNumber)

	newDoc, ok, err := meta.GetDocument(ctx, "new")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "old", newDoc.ParentVersionID)
}

func TestBumpMajorAndDecrementMajor(t *testing.T) {
	require.Equal(t, "v2.0", bumpMajor("v1.0"))
	require.Equal(t, "v2.0", bumpMajor(""))
	require.Equal(t, "v1.0", decrementMajor("v1.0"))
	require.Equal(t, "v2.0", decrementMajor("v3.0"))
}
