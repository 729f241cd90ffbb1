package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"docintel/internal/rag/parse"
	"docintel/internal/rag/tokenizer"
)

func TestChunk_SmallSectionBecomesOneChunk(t *testing.T) {
	doc := parse.Document{
		Sections: []parse.Section{
			{Title: "Intro", Path: "Intro", Content: "This is a short section.", Page: 1},
		},
	}
	chunks := Chunk(doc, Config{TargetSize: 500, MaxSize: 800, Overlap: 50}, tokenizer.New())
	require.Len(t, chunks, 1)
	require.Equal(t, "text", chunks[0].Type)
	require.Equal(t, "Intro", chunks[0].SectionPath)
	require.Equal(t, "This is a short section.", chunks[0].Content)
}

func TestChunk_LargeSectionSplitsAtParagraphBoundaries(t *testing.T) {
	var paras []string
	for i := 0; i < 60; i++ {
		paras = append(paras, strings.Repeat("word ", 30))
	}
	content := strings.Join(paras, "\n\n")
	doc := parse.Document{
		Sections: []parse.Section{
			{Title: "Body", Path: "Body", Content: content, Page: 2},
		},
	}
	chunks := Chunk(doc, Config{TargetSize: 100, MaxSize: 150, Overlap: 20}, tokenizer.New())
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.LessOrEqual(t, c.TokenCount, 170) // max + a little slack for the overlap prefix
		require.Equal(t, "Body", c.SectionPath)
		require.Equal(t, "text", c.Type)
	}
}

func TestChunk_ConsecutiveChunksOverlap(t *testing.T) {
	var paras []string
	for i := 0; i < 40; i++ {
		paras = append(paras, "paragraph number marker "+strings.Repeat("x", i%5)+" filler words here to add length")
	}
	content := strings.Join(paras, "\n\n")
	doc := parse.Document{
		Sections: []parse.Section{{Title: "S", Path: "S", Content: content, Page: 1}},
	}
	chunks := Chunk(doc, Config{TargetSize: 60, MaxSize: 90, Overlap: 15}, tokenizer.New())
	require.Greater(t, len(chunks), 1)
	// the tail of chunk[0] should reappear at the head of chunk[1]
	tail := lastParagraph(chunks[0].Content)
	require.Contains(t, chunks[1].Content, tail)
}

func TestChunk_TableBecomesOwnChunk(t *testing.T) {
	doc := parse.Document{
		Sections: []parse.Section{{Title: "Intro", Path: "Intro", Content: "text here", Page: 1}},
		Tables: []parse.TableData{
			{Markdown: "| a | b |\n|---|---|\n| 1 | 2 |", SectionPath: "Intro", Caption: "Intro", Page: 1},
		},
	}
	chunks := Chunk(doc, Config{}, tokenizer.New())
	require.Len(t, chunks, 2)
	require.Equal(t, "table", chunks[1].Type)
	require.Contains(t, chunks[1].Content, "| 1 | 2 |")
}

func TestChunk_FallsBackToRawTextWhenUnstructured(t *testing.T) {
	doc := parse.Document{RawText: strings.Repeat("plain sentence. ", 5)}
	chunks := Chunk(doc, Config{}, tokenizer.New())
	require.Len(t, chunks, 1)
	require.Equal(t, "text", chunks[0].Type)
}

func TestChunk_EmptyDocumentProducesNoChunks(t *testing.T) {
	chunks := Chunk(parse.Document{}, Config{}, tokenizer.New())
	require.Empty(t, chunks)
}

func lastParagraph(s string) string {
	parts := strings.Split(strings.TrimSpace(s), "\n\n")
	return parts[len(parts)-1]
}
