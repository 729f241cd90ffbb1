package diff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/llm"
	"docintel/internal/persistence/databases"
)

type fakeProvider struct {
	response string
	calls    int
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	f.calls++
	return llm.Message{Role: "assistant", Content: f.response}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func seedDocs(t *testing.T, meta databases.MetadataStore) {
	ctx := context.Background()
	require.NoError(t, meta.InsertChunks(ctx, []databases.ChunkRow{
		{ChunkDoc: databases.ChunkDoc{ID: "o1", DocID: "old", ChunkIndex: 0, ChunkType: "text", SectionPath: "Intro", Content: "The policy applies to all employees."}},
		{ChunkDoc: databases.ChunkDoc{ID: "o2", DocID: "old", ChunkIndex: 1, ChunkType: "text", SectionPath: "Scope", Content: "This section covers scope."}},
	}))
	require.NoError(t, meta.InsertChunks(ctx, []databases.ChunkRow{
		{ChunkDoc: databases.ChunkDoc{ID: "n1", DocID: "new", ChunkIndex: 0, ChunkType: "text", SectionPath: "Intro", Content: "The policy applies to all full-time employees."}},
		{ChunkDoc: databases.ChunkDoc{ID: "n2", DocID: "new", ChunkIndex: 1, ChunkType: "text", SectionPath: "Definitions", Content: "New definitions section."}},
	}))
}

func TestDiff_ComputesTextualAndStructuralLayers(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	seedDocs(t, meta)

	e := &Engine{Metadata: meta}
	result, err := e.Diff(ctx, "old", "new")
	require.NoError(t, err)

	var textual TextualDiff
	require.NoError(t, decodeInto(result.TextualDiff, &textual))
	require.Equal(t, 1, textual.Stats["modified"])
	require.Equal(t, 1, textual.Stats["deleted"])
	require.Equal(t, 1, textual.Stats["added"])

	var structural StructuralDiff
	require.NoError(t, decodeInto(result.StructuralDiff, &structural))
	require.Contains(t, structural.Common, "Intro")
}

func TestDiff_IsIdempotentOnRepeatedCalls(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	seedDocs(t, meta)
	provider := &fakeProvider{response: `{"change_summary": "minor wording changes", "changes": [], "impact_analysis": "low impact"}`}
	e := &Engine{Metadata: meta, Provider: provider, Model: "test"}

	first, err := e.Diff(ctx, "old", "new")
	require.NoError(t, err)
	second, err := e.Diff(ctx, "old", "new")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, provider.calls)
}

func TestDetectRenames_PairsSimilarSections(t *testing.T) {
	oldSections := map[string]string{"Old Name": "alpha beta gamma delta epsilon"}
	newSections := map[string]string{"New Name": "alpha beta gamma delta zeta"}
	renamed, remAdded, remDeleted := detectRenames([]string{"New Name"}, []string{"Old Name"}, oldSections, newSections)
	require.Len(t, renamed, 1)
	require.Equal(t, "Old Name", renamed[0].From)
	require.Equal(t, "New Name", renamed[0].To)
	require.Empty(t, remAdded)
	require.Empty(t, remDeleted)
}

func decodeInto(s string, v any) error {
	return llm.DecodeJSON(s, v)
}
