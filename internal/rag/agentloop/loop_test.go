package agentloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/llm"
	"docintel/internal/persistence/databases"
)

// scriptedProvider returns one scripted message per call, in order, and
// replays its last message once the script is exhausted.
type scriptedProvider struct {
	messages []llm.Message
	calls    int
}

func (p *scriptedProvider) Chat(context.Context, []llm.Message, []llm.ToolSchema, string) (llm.Message, error) {
	idx := p.calls
	if idx >= len(p.messages) {
		idx = len(p.messages) - 1
	}
	p.calls++
	return p.messages[idx], nil
}

func (p *scriptedProvider) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, h llm.StreamHandler) error {
	h.OnDelta("forced final answer text")
	return nil
}

func TestLoop_AnswersDirectlyWithNoToolCalls(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	provider := &scriptedProvider{messages: []llm.Message{
		{Role: "assistant", Content: `{"thought":"I already know the answer","final_answer":"The handbook grants fifteen days of leave."}`},
	}}
	loop := &Loop{Provider: provider, Metadata: meta}

	res, err := loop.Run(ctx, "how many leave days", nil)
	require.NoError(t, err)
	require.Contains(t, res.Answer.Text, "fifteen days")
	require.Len(t, res.Steps, 1)
}

func TestLoop_DispatchesToolCallThenAnswers(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	require.NoError(t, meta.InsertDocument(ctx, databases.Document{ID: "d1", Title: "Employee Handbook", Status: "ready"}))

	provider := &scriptedProvider{messages: []llm.Message{
		{Role: "assistant", Content: `{"thought":"need the list","action":"list_documents","action_input":{}}`},
		{Role: "assistant", Content: `{"thought":"done","final_answer":"There is one document: Employee Handbook."}`},
	}}
	loop := &Loop{Provider: provider, Metadata: meta}

	res, err := loop.Run(ctx, "what documents exist", nil)
	require.NoError(t, err)
	require.Contains(t, res.Answer.Text, "Employee Handbook")
	require.Len(t, res.Steps, 2)
	require.Len(t, res.Steps[0].Observations, 1)
}

func TestLoop_DispatchesToolCallWrappedInMarkdownFence(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	require.NoError(t, meta.InsertDocument(ctx, databases.Document{ID: "d1", Title: "Employee Handbook", Status: "ready"}))

	provider := &scriptedProvider{messages: []llm.Message{
		{Role: "assistant", Content: "Sure, here you go:\n```json\n{\"thought\":\"need the list\",\"action\":\"list_documents\",\"action_input\":{}}\n```"},
		{Role: "assistant", Content: `{"thought":"done","final_answer":"There is one document: Employee Handbook."}`},
	}}
	loop := &Loop{Provider: provider, Metadata: meta}

	res, err := loop.Run(ctx, "what documents exist", nil)
	require.NoError(t, err)
	require.Contains(t, res.Answer.Text, "Employee Handbook")
	require.Len(t, res.Steps, 2)
}

func TestLoop_UnparsableResponseFallsBackToRawTextAsFinalAnswer(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	provider := &scriptedProvider{messages: []llm.Message{
		{Role: "assistant", Content: "I'm not going to reply in JSON, sorry."},
	}}
	loop := &Loop{Provider: provider, Metadata: meta}

	res, err := loop.Run(ctx, "what documents exist", nil)
	require.NoError(t, err)
	require.Equal(t, "I'm not going to reply in JSON, sorry.", res.Answer.Text)
	require.Len(t, res.Steps, 1)
}

func TestLoop_ForcesFinalAnswerWhenStepCapExceeded(t *testing.T) {
	ctx := context.Background()
	meta := databases.NewMemoryMetadata()
	provider := &scriptedProvider{messages: []llm.Message{
		{Role: "assistant", Content: `{"thought":"still looking","action":"list_documents","action_input":{}}`},
	}}
	loop := &Loop{Provider: provider, Metadata: meta, MaxSteps: 2}

	res, err := loop.Run(ctx, "what documents exist", nil)
	require.NoError(t, err)
	require.Equal(t, "forced final answer text", res.Answer.Text)
}

func TestLoop_ErrorsWithoutProvider(t *testing.T) {
	loop := &Loop{}
	_, err := loop.Run(context.Background(), "question", nil)
	require.Error(t, err)
}
