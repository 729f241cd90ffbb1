package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/llm"
	"docintel/internal/persistence/databases"
	"docintel/internal/rag/agentloop"
	"docintel/internal/rag/answer"
	"docintel/internal/rag/embedder"
	"docintel/internal/rag/retrieve"
	"docintel/internal/rag/router"
)

type fixedProvider struct{ content string }

func (f fixedProvider) Chat(context.Context, []llm.Message, []llm.ToolSchema, string) (llm.Message, error) {
	return llm.Message{Content: f.content}, nil
}
func (f fixedProvider) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return nil
}

func TestAsk_ReturnsSimpleRAGAnswerWithCitations(t *testing.T) {
	ctx := context.Background()
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	meta := databases.NewMemoryMetadata()
	emb := embedder.NewDeterministic(16, 5)

	require.NoError(t, meta.InsertDocument(ctx, databases.Document{ID: "d1", Title: "Employee Handbook", Status: "ready", IsLatest: true}))
	row := databases.ChunkRow{ChunkDoc: databases.ChunkDoc{ID: "c1", DocID: "d1", SectionPath: "Leave Policy", Content: "Employees accrue fifteen days of paid leave annually.", IsLatest: true}}
	require.NoError(t, meta.InsertChunks(ctx, []databases.ChunkRow{row}))
	require.NoError(t, search.Index(ctx, row.ChunkDoc))
	vecs, err := emb.EmbedBatch(ctx, []string{row.Content})
	require.NoError(t, err)
	require.NoError(t, vector.Upsert(ctx, row.ID, vecs[0], row.ChunkDoc))

	retriever := &retrieve.Retriever{Search: search, Vector: vector, Metadata: meta, Embedder: emb}
	gen := &answer.Generator{Provider: fixedProvider{content: "Employees get fifteen days [source: Employee Handbook, Leave Policy, n/a]."}, RequireCitations: true}
	svc := New(nil, retriever, WithRouter(&router.Router{}), WithAnswerer(gen), WithMetadata(meta))

	res, err := svc.Ask(ctx, "how many leave days do employees accrue", nil, nil)
	require.NoError(t, err)
	require.Equal(t, router.RouteSimple, res.Route)
	require.NotEmpty(t, res.Answer.Text)
	require.NotEmpty(t, res.Answer.Citations)
}

type routeJSONProvider struct{ json string }

func (p routeJSONProvider) Chat(context.Context, []llm.Message, []llm.ToolSchema, string) (llm.Message, error) {
	return llm.Message{Content: p.json}, nil
}
func (p routeJSONProvider) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return nil
}

func TestAsk_DispatchesToAgentLoopWhenRouted(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	require.NoError(t, meta.InsertDocument(ctx, databases.Document{ID: "d1", Title: "Employee Handbook", Status: "ready"}))

	rtr := &router.Router{Provider: routeJSONProvider{json: `{"query_type":"complex_analysis","route":"agent"}`}}
	loopProvider := fixedProvider{content: "Agent-synthesized answer about the handbook."}
	loop := &agentloop.Loop{Provider: loopProvider, Metadata: meta}

	svc := New(nil, &retrieve.Retriever{Metadata: meta}, WithRouter(rtr), WithAgentLoop(loop), WithMetadata(meta))

	res, err := svc.Ask(ctx, "compare every policy across all versions", nil, nil)
	require.NoError(t, err)
	require.Equal(t, router.RouteAgent, res.Route)
	require.Equal(t, "Agent-synthesized answer about the handbook.", res.Answer.Text)
}

func TestAsk_AccessibleDocIDsEmptyYieldsNoChunksButStillAnswers(t *testing.T) {
	ctx := context.Background()
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	meta := databases.NewMemoryMetadata()
	emb := embedder.NewDeterministic(16, 5)

	retriever := &retrieve.Retriever{Search: search, Vector: vector, Metadata: meta, Embedder: emb}
	gen := &answer.Generator{Provider: fixedProvider{content: "no answer"}}
	svc := New(nil, retriever, WithRouter(&router.Router{}), WithAnswerer(gen), WithMetadata(meta))

	res, err := svc.Ask(ctx, "anything", nil, []string{})
	require.NoError(t, err)
	require.Equal(t, 0.0, res.Answer.Confidence)
}
