package summarize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/llm"
)

type fakeProvider struct {
	response string
	err      error
	calls    int
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	f.calls++
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.response}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func TestSummarizeSection_ParsesResponse(t *testing.T) {
	p := &fakeProvider{response: `{"summary": "a short summary", "key_points": ["a", "b", "c"]}`}
	s := New(p, "test-model", 10)
	out := s.SummarizeSection(context.Background(), "Ch.1", "some content")
	require.Equal(t, "a short summary", out.Summary)
	require.Equal(t, []string{"a", "b", "c"}, out.KeyPoints)
}

func TestSummarizeSection_BestEffortOnFailure(t *testing.T) {
	p := &fakeProvider{err: errBoom}
	s := New(p, "test-model", 10)
	out := s.SummarizeSection(context.Background(), "Ch.1", "content")
	require.Empty(t, out.Summary)
}

func TestSummarizeDocument_RespectsUploaderType(t *testing.T) {
	p := &fakeProvider{response: `{"summary": "doc summary", "entities": {"organizations": ["Acme"]}, "doc_type": "contract"}`}
	s := New(p, "test-model", 10)
	out := s.SummarizeDocument(context.Background(), "Title", []string{"sec1"}, "policy")
	require.Equal(t, "policy", out.DocType)
	require.Equal(t, "doc summary", out.Summary)
}

func TestSummarizeDocument_NormalizesDetectedType(t *testing.T) {
	p := &fakeProvider{response: `{"summary": "x", "entities": {}, "doc_type": "WeirdTag"}`}
	s := New(p, "test-model", 10)
	out := s.SummarizeDocument(context.Background(), "Title", []string{"sec1"}, "")
	require.Equal(t, "other", out.DocType)
}

func TestContextualDescribeBatch_ReturnsOneDescriptionPerChunk(t *testing.T) {
	p := &fakeProvider{response: "This chunk discusses X."}
	s := New(p, "test-model", 2)
	paths := []string{"a", "b", "c", "d"}
	contents := []string{"1", "2", "3", "4"}
	out := s.ContextualDescribeBatch(context.Background(), "Title", "Summary", paths, contents)
	require.Len(t, out, 4)
	for _, d := range out {
		require.Equal(t, "This chunk discusses X.", d)
	}
	require.Equal(t, 4, p.calls)
}

func TestContextualDescribeBatch_EmptyInput(t *testing.T) {
	p := &fakeProvider{}
	s := New(p, "test-model", 2)
	out := s.ContextualDescribeBatch(context.Background(), "T", "S", nil, nil)
	require.Empty(t, out)
}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }
