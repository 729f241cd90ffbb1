// Package summarize produces the section summaries, document-level summary
// and entities, and contextual chunk descriptions the ingestion pipeline
// attaches before embedding (SPEC_FULL.md section 4.2).
package summarize

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"docintel/internal/llm"
	"docintel/internal/observability"
)

// documentTypes is the fixed closed set a document-type tag is drawn from.
var documentTypes = []string{
	"contract", "report", "policy", "manual", "standard",
	"regulation", "proposal", "minutes", "financial", "technical", "other",
}

// Summarizer generates summaries and contextual descriptions via a light
// LLM provider. Every method is best-effort: a failure is logged and the
// corresponding field comes back empty rather than failing ingestion.
type Summarizer struct {
	provider    llm.Provider
	model       string
	concurrency int
}

// New builds a Summarizer. concurrency bounds in-flight contextual
// description calls (reference cap: 10).
func New(provider llm.Provider, model string, concurrency int) *Summarizer {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Summarizer{provider: provider, model: model, concurrency: concurrency}
}

// SectionSummary is one section's generated summary and key points.
type SectionSummary struct {
	SectionPath string
	Summary     string
	KeyPoints   []string
}

// SummarizeSection produces a 100-200 token summary and 3-5 key points for
// one section's concatenated content, truncated to 8000 chars before being
// sent to the model.
func (s *Summarizer) SummarizeSection(ctx context.Context, sectionPath, content string) SectionSummary {
	logger := observability.LoggerWithTrace(ctx)
	out := SectionSummary{SectionPath: sectionPath}
	if s.provider == nil {
		return out
	}
	input := truncate(content, 8000)
	prompt := fmt.Sprintf(sectionSummaryPrompt, sectionPath, input)
	msg, err := s.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: sectionSummarySystem},
		{Role: "user", Content: prompt},
	}, nil, s.model)
	if err != nil {
		logger.Warn().Err(err).Str("section_path", sectionPath).Msg("section summary failed")
		return out
	}
	var parsed struct {
		Summary   string   `json:"summary"`
		KeyPoints []string `json:"key_points"`
	}
	if err := llm.DecodeJSON(msg.Content, &parsed); err != nil {
		logger.Warn().Err(err).Str("section_path", sectionPath).Msg("section summary decode failed")
		return out
	}
	out.Summary = parsed.Summary
	out.KeyPoints = parsed.KeyPoints
	return out
}

// DocumentSummary is the document-level summary, entities, and detected
// type tag.
type DocumentSummary struct {
	Summary  string
	Entities map[string][]string
	DocType  string
}

// SummarizeDocument produces a 300-token document summary, an entity
// mapping (organizations/people/dates/amounts), and a document-type tag from
// the fixed closed set, given the concatenated section summaries.
// uploaderType, when non-empty, is used as-is instead of the detected tag.
func (s *Summarizer) SummarizeDocument(ctx context.Context, title string, sectionSummaries []string, uploaderType string) DocumentSummary {
	logger := observability.LoggerWithTrace(ctx)
	out := DocumentSummary{DocType: uploaderType}
	if s.provider == nil {
		return out
	}
	input := truncate(strings.Join(sectionSummaries, "\n\n"), 8000)
	typeList := strings.Join(documentTypes, ", ")
	prompt := fmt.Sprintf(documentSummaryPrompt, title, typeList, input)
	system := fmt.Sprintf(documentSummarySystem, typeList)
	msg, err := s.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}, nil, s.model)
	if err != nil {
		logger.Warn().Err(err).Str("title", title).Msg("document summary failed")
		return out
	}
	var parsed struct {
		Summary  string              `json:"summary"`
		Entities map[string][]string `json:"entities"`
		DocType  string              `json:"doc_type"`
	}
	if err := llm.DecodeJSON(msg.Content, &parsed); err != nil {
		logger.Warn().Err(err).Str("title", title).Msg("document summary decode failed")
		return out
	}
	out.Summary = parsed.Summary
	out.Entities = parsed.Entities
	if uploaderType == "" {
		out.DocType = normalizeDocType(parsed.DocType)
	}
	return out
}

func normalizeDocType(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range documentTypes {
		if t == tag {
			return t
		}
	}
	return "other"
}

// ContextualDescribe describes a chunk's role within the document in 1-3
// sentences (~50 tokens), given surrounding document context. The caller
// prepends the result to the chunk's content before embedding and lexical
// indexing (the "contextual retrieval" enrichment).
func (s *Summarizer) ContextualDescribe(ctx context.Context, docTitle, docSummary, sectionPath, chunkContent string) string {
	logger := observability.LoggerWithTrace(ctx)
	if s.provider == nil {
		return ""
	}
	prompt := fmt.Sprintf(contextualDescribePrompt, docTitle, docSummary, sectionPath, truncate(chunkContent, 2000))
	msg, err := s.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: contextualDescribeSystem},
		{Role: "user", Content: prompt},
	}, nil, s.model)
	if err != nil {
		logger.Warn().Err(err).Str("section_path", sectionPath).Msg("contextual description failed")
		return ""
	}
	return strings.TrimSpace(msg.Content)
}

// ContextualDescribeBatch runs ContextualDescribe over every chunk
// concurrently, capped by the configured semaphore, and returns one
// description per input chunk in the same order.
func (s *Summarizer) ContextualDescribeBatch(ctx context.Context, docTitle, docSummary string, sectionPaths, chunkContents []string) []string {
	n := len(chunkContents)
	out := make([]string, n)
	if n == 0 {
		return out
	}
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out[i] = s.ContextualDescribe(ctx, docTitle, docSummary, sectionPaths[i], chunkContents[i])
		}(i)
	}
	wg.Wait()
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

const sectionSummarySystem = `You summarize one section of a larger document. Respond with strict JSON: {"summary": string, "key_points": [string, ...]}. The summary must be 100-200 tokens. Provide 3-5 key points.`

const sectionSummaryPrompt = `Section path: %s

Section content:
%s`

const documentSummarySystem = `You summarize a document from its section summaries. Respond with strict JSON: {"summary": string, "entities": {"organizations": [string], "people": [string], "dates": [string], "amounts": [string]}, "doc_type": string}. The summary must be about 300 tokens. doc_type must be one of: %s.`

const documentSummaryPrompt = `Document title: %s

Allowed document types: %s

Section summaries:
%s`

const contextualDescribeSystem = `You write a short 1-3 sentence (about 50 tokens) description of a chunk's role within its document, to prepend before the chunk for retrieval. Respond with plain text only, no JSON, no quotes.`

const contextualDescribePrompt = `Document title: %s
Document summary: %s
Section path: %s

Chunk content:
%s`
