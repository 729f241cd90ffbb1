package answer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/llm"
	"docintel/internal/persistence/databases"
	"docintel/internal/rag/retrieve"
)

type stubProvider struct {
	resp llm.Message
	err  error
}

func (s stubProvider) Chat(context.Context, []llm.Message, []llm.ToolSchema, string) (llm.Message, error) {
	return s.resp, s.err
}
func (s stubProvider) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return s.err
}

func sampleChunks() []retrieve.RetrievedChunk {
	return []retrieve.RetrievedChunk{
		{Score: 0.9, Chunk: databases.ChunkDoc{ID: "c1", DocID: "d1", SectionPath: "Introduction", PageNumbers: []int{1}, ChunkType: "text", Content: "Employees accrue fifteen days of paid leave annually."}},
		{Score: 0.4, Chunk: databases.ChunkDoc{ID: "c2", DocID: "d1", SectionPath: "Scope", PageNumbers: []int{2}, ChunkType: "text", Content: "This policy applies to all full-time staff."}},
	}
}

func TestGenerate_ReturnsZeroConfidenceWithNoChunks(t *testing.T) {
	g := &Generator{}
	ans, err := g.Generate(context.Background(), "what is the leave policy", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, ans.Confidence)
	require.Empty(t, ans.Text)
}

func TestGenerate_ExtractsCitationFromMentionedSection(t *testing.T) {
	g := &Generator{Provider: stubProvider{resp: llm.Message{
		Content: "Employees get fifteen days of leave [source: Handbook, Introduction, 1].",
	}}, RequireCitations: true}
	ans, err := g.Generate(context.Background(), "how much leave do employees get", sampleChunks(), map[string]string{"d1": "Handbook"})
	require.NoError(t, err)
	require.NotEmpty(t, ans.Citations)
	require.Equal(t, "c1", ans.Citations[0].ChunkID)
	require.Greater(t, ans.Confidence, 0.0)
}

func TestGenerate_UncertaintyPhraseLowersConfidence(t *testing.T) {
	g := &Generator{Provider: stubProvider{resp: llm.Message{Content: "I don't know based on the provided sources."}}}
	ans, err := g.Generate(context.Background(), "what is the bonus structure", sampleChunks(), nil)
	require.NoError(t, err)
	require.Less(t, ans.Confidence, 0.5)
}

func TestGenerate_ErrorsWithoutProvider(t *testing.T) {
	g := &Generator{}
	_, err := g.Generate(context.Background(), "q", sampleChunks(), nil)
	require.Error(t, err)
}

func TestGroupByDoc_PreservesFirstSeenOrder(t *testing.T) {
	chunks := []retrieve.RetrievedChunk{
		{Chunk: databases.ChunkDoc{ID: "a", DocID: "d2"}},
		{Chunk: databases.ChunkDoc{ID: "b", DocID: "d1"}},
		{Chunk: databases.ChunkDoc{ID: "c", DocID: "d2"}},
	}
	groups := GroupByDoc(chunks, nil)
	require.Len(t, groups, 2)
	require.Equal(t, "d2", groups[0].DocID)
	require.Len(t, groups[0].Chunks, 2)
	require.Equal(t, "d1", groups[1].DocID)
}

func TestGenerateMultiDoc_SingleDocFallsBackToGenerate(t *testing.T) {
	g := &Generator{Provider: stubProvider{resp: llm.Message{Content: "answer text"}}}
	ans, err := g.GenerateMultiDoc(context.Background(), "q", sampleChunks(), nil)
	require.NoError(t, err)
	require.Equal(t, "answer text", ans.Text)
}

func TestGenerateMultiDoc_MergesPartialsAcrossDocuments(t *testing.T) {
	g := &Generator{Provider: stubProvider{resp: llm.Message{Content: "merged answer"}}}
	chunks := []retrieve.RetrievedChunk{
		{Score: 0.8, Chunk: databases.ChunkDoc{ID: "a", DocID: "d1", SectionPath: "S1", ChunkType: "text", Content: "doc one content"}},
		{Score: 0.7, Chunk: databases.ChunkDoc{ID: "b", DocID: "d2", SectionPath: "S2", ChunkType: "text", Content: "doc two content"}},
	}
	ans, err := g.GenerateMultiDoc(context.Background(), "compare these documents", chunks, map[string]string{"d1": "Doc One", "d2": "Doc Two"})
	require.NoError(t, err)
	require.Equal(t, "merged answer", ans.Text)
}
