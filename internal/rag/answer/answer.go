// Package answer implements single-pass RAG answer generation with post-hoc
// citation extraction, confidence estimation, and map-reduce cross-document
// synthesis (SPEC_FULL.md section 4.9).
package answer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"docintel/internal/llm"
	"docintel/internal/observability"
	"docintel/internal/rag/retrieve"
	"docintel/internal/rag/tokenizer"
)

// Citation is one chunk the answer drew on.
type Citation struct {
	ChunkID     string
	DocID       string
	Title       string
	SectionPath string
	PageNumbers []int
	Snippet     string
}

// Answer is the result of one generation call.
type Answer struct {
	Text       string
	Citations  []Citation
	Confidence float64
}

// Generator produces answers from retrieved chunks via the main LLM.
type Generator struct {
	Provider         llm.Provider
	Model            string
	Tokenizer        tokenizer.Counter
	MaxContextTokens int
	RequireCitations bool
}

var uncertaintyPhrases = []string{
	"i don't know", "i do not know", "not sure", "unclear", "cannot determine",
	"no information", "insufficient information", "unable to find",
}

// Generate builds a context block from chunks (in rank order, annotated
// with title/section/page/type and truncated to MaxContextTokens, the first
// chunk alone truncated if it exceeds the budget by itself), issues one LLM
// call under a citation-mandating system prompt, and extracts citations and
// a confidence estimate from the result.
func (g *Generator) Generate(ctx context.Context, question string, chunks []retrieve.RetrievedChunk, titles map[string]string) (Answer, error) {
	logger := observability.LoggerWithTrace(ctx)
	if len(chunks) == 0 {
		return Answer{Confidence: 0.0}, nil
	}

	budget := g.MaxContextTokens
	if budget <= 0 {
		budget = 12000
	}
	blocks, used := g.buildContextBlocks(chunks, titles, budget)

	system := citationSystemPrompt
	if !g.RequireCitations {
		system = plainSystemPrompt
	}
	prompt := fmt.Sprintf(answerPrompt, question, strings.Join(blocks, "\n\n---\n\n"))

	if g.Provider == nil {
		return Answer{Confidence: 0.0}, fmt.Errorf("answer: no LLM provider configured")
	}
	msg, err := g.Provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}, nil, g.Model)
	if err != nil {
		logger.Warn().Err(err).Msg("answer generation LLM call failed")
		return Answer{}, fmt.Errorf("answer: generate: %w", err)
	}

	text := strings.TrimSpace(msg.Content)
	citations := extractCitations(text, chunks, titles)
	confidence := estimateConfidence(text, chunks, used)

	return Answer{Text: text, Citations: citations, Confidence: confidence}, nil
}

// buildContextBlocks accumulates chunks until the token budget is
// exhausted, returning the formatted blocks plus the count actually used.
func (g *Generator) buildContextBlocks(chunks []retrieve.RetrievedChunk, titles map[string]string, budget int) ([]string, int) {
	var blocks []string
	spent := 0
	for i, rc := range chunks {
		content := rc.Chunk.Content
		title := titles[rc.Chunk.DocID]
		block := formatBlock(title, rc.Chunk.SectionPath, rc.Chunk.PageNumbers, rc.Chunk.ChunkType, content)
		n := g.countTokens(block)

		if i == 0 && n > budget {
			content = g.truncateToTokens(content, budget)
			block = formatBlock(title, rc.Chunk.SectionPath, rc.Chunk.PageNumbers, rc.Chunk.ChunkType, content)
			blocks = append(blocks, block)
			return blocks, 1
		}
		if spent+n > budget {
			break
		}
		blocks = append(blocks, block)
		spent += n
	}
	return blocks, len(blocks)
}

func (g *Generator) countTokens(s string) int {
	if g.Tokenizer == nil {
		return len(s) / 4
	}
	return g.Tokenizer.Count(s)
}

func (g *Generator) truncateToTokens(s string, budget int) string {
	if g.Tokenizer == nil {
		limit := budget * 4
		if limit < len(s) {
			return s[:limit]
		}
		return s
	}
	tokens := g.Tokenizer.Encode(s)
	if len(tokens) <= budget {
		return s
	}
	return g.Tokenizer.Decode(tokens[:budget])
}

func formatBlock(title, sectionPath string, pages []int, chunkType, content string) string {
	return fmt.Sprintf("[source: %s, %s, %s, type=%s]\n%s", title, sectionPath, formatPages(pages), chunkType, content)
}

func formatPages(pages []int) string {
	if len(pages) == 0 {
		return "n/a"
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ",")
}

// extractCitations marks a chunk cited if its title, section path, or a
// page reference appears in the answer text, or if it is among the top
// three results; results are deduplicated by chunk id.
func extractCitations(answerText string, chunks []retrieve.RetrievedChunk, titles map[string]string) []Citation {
	lower := strings.ToLower(answerText)
	seen := make(map[string]bool)
	var out []Citation
	for i, rc := range chunks {
		title := titles[rc.Chunk.DocID]
		mentioned := (title != "" && strings.Contains(lower, strings.ToLower(title))) ||
			(rc.Chunk.SectionPath != "" && strings.Contains(lower, strings.ToLower(rc.Chunk.SectionPath))) ||
			pageMentioned(lower, rc.Chunk.PageNumbers)
		if !mentioned && i >= 3 {
			continue
		}
		if seen[rc.Chunk.ID] {
			continue
		}
		seen[rc.Chunk.ID] = true
		out = append(out, Citation{
			ChunkID:     rc.Chunk.ID,
			DocID:       rc.Chunk.DocID,
			Title:       title,
			SectionPath: rc.Chunk.SectionPath,
			PageNumbers: rc.Chunk.PageNumbers,
			Snippet:     snippet(rc.Chunk.Content, 100),
		})
	}
	return out
}

func pageMentioned(lowerText string, pages []int) bool {
	for _, p := range pages {
		if strings.Contains(lowerText, fmt.Sprintf("page %d", p)) {
			return true
		}
	}
	return false
}

func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// estimateConfidence implements the heuristic: zero chunks yields 0;
// presence of an uncertainty phrase yields 0.3*coverage; otherwise
// 0.5 + score_component + 0.2*coverage, clamped to [0,1] and rounded to
// two decimals. coverage is min(chunk_count/3, 1); score_component is the
// top chunk's fused score scaled into [0, 0.3].
func estimateConfidence(answerText string, chunks []retrieve.RetrievedChunk, usedCount int) float64 {
	if usedCount == 0 {
		return 0.0
	}
	coverage := math.Min(float64(usedCount)/3.0, 1.0)
	lower := strings.ToLower(answerText)
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(lower, phrase) {
			return round2(0.3 * coverage)
		}
	}
	scoreComponent := 0.0
	if len(chunks) > 0 {
		scoreComponent = math.Min(chunks[0].Score*0.3, 0.3)
	}
	v := 0.5 + scoreComponent + 0.2*coverage
	if v > 1 {
		v = 1
	}
	if v < 0 {
		v = 0
	}
	return round2(v)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DocGroup is one document's chunks for map-reduce synthesis.
type DocGroup struct {
	DocID  string
	Title  string
	Chunks []retrieve.RetrievedChunk
}

// GroupByDoc partitions chunks by document, preserving first-seen order.
func GroupByDoc(chunks []retrieve.RetrievedChunk, titles map[string]string) []DocGroup {
	index := make(map[string]int)
	var groups []DocGroup
	for _, rc := range chunks {
		i, ok := index[rc.Chunk.DocID]
		if !ok {
			i = len(groups)
			index[rc.Chunk.DocID] = i
			groups = append(groups, DocGroup{DocID: rc.Chunk.DocID, Title: titles[rc.Chunk.DocID]})
		}
		groups[i].Chunks = append(groups[i].Chunks, rc)
	}
	return groups
}

// GenerateMultiDoc runs the map-reduce synthesis: one partial answer per
// document restricted to that document's chunks, then a reduce call
// merging the partial answers with citations concatenated.
func (g *Generator) GenerateMultiDoc(ctx context.Context, question string, chunks []retrieve.RetrievedChunk, titles map[string]string) (Answer, error) {
	logger := observability.LoggerWithTrace(ctx)
	groups := GroupByDoc(chunks, titles)
	if len(groups) <= 1 {
		return g.Generate(ctx, question, chunks, titles)
	}

	type partial struct {
		title string
		text  string
		cites []Citation
	}
	var partials []partial
	for _, grp := range groups {
		ans, err := g.Generate(ctx, question, grp.Chunks, titles)
		if err != nil {
			logger.Warn().Err(err).Str("doc_id", grp.DocID).Msg("per-document partial answer failed")
			continue
		}
		partials = append(partials, partial{title: grp.Title, text: ans.Text, cites: ans.Citations})
	}
	if len(partials) == 0 {
		return Answer{Confidence: 0.0}, fmt.Errorf("answer: all per-document partial answers failed")
	}

	var b strings.Builder
	var allCites []Citation
	seen := make(map[string]bool)
	for _, p := range partials {
		fmt.Fprintf(&b, "Document: %s\n%s\n\n", p.title, p.text)
		for _, c := range p.cites {
			if seen[c.ChunkID] {
				continue
			}
			seen[c.ChunkID] = true
			allCites = append(allCites, c)
		}
	}

	if g.Provider == nil {
		return Answer{Text: b.String(), Citations: allCites, Confidence: estimateConfidence(b.String(), chunks, len(chunks))}, nil
	}
	msg, err := g.Provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: reduceSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(reducePrompt, question, b.String())},
	}, nil, g.Model)
	if err != nil {
		logger.Warn().Err(err).Msg("reduce-step LLM call failed")
		return Answer{Text: b.String(), Citations: allCites, Confidence: estimateConfidence(b.String(), chunks, len(chunks))}, nil
	}

	sort.Slice(allCites, func(i, j int) bool { return allCites[i].ChunkID < allCites[j].ChunkID })
	text := strings.TrimSpace(msg.Content)
	return Answer{
		Text:       text,
		Citations:  allCites,
		Confidence: estimateConfidence(text, chunks, len(chunks)),
	}, nil
}

const citationSystemPrompt = `You are a document intelligence assistant. Answer strictly from the provided source blocks. Cite every claim with [source: <title>, <section>, <page>]. If the sources do not contain enough information to answer, say so plainly instead of guessing.`

const plainSystemPrompt = `You are a document intelligence assistant. Answer from the provided source blocks.`

const answerPrompt = `Question: %s

Sources:
%s`

const reduceSystemPrompt = `You merge per-document partial answers into one coherent response. Preserve all citations from the partial answers. Resolve contradictions by noting them explicitly rather than silently picking one side.`

const reducePrompt = `Question: %s

Partial answers:
%s`
