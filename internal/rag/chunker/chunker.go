// Package chunker splits a parsed document into the ordered, sequentially
// indexed chunks the index writer persists.
package chunker

import (
	"strings"

	"docintel/internal/rag/parse"
	"docintel/internal/rag/tokenizer"
)

// Chunk is one chunker output, pre-persistence. ChunkIndex is assigned by
// the caller across the full document (section chunks, then table chunks,
// in source order) so it stays dense and strictly increasing.
type Chunk struct {
	SectionPath string
	PageNumbers []int
	Type        string // text | table
	Content     string
	TokenCount  int
}

// Config carries the size knobs. A zero TargetSize or MaxSize takes the
// SPEC_FULL.md section 4.1 default (500, 800). Overlap has no default here:
// zero or negative means no overlap (config.Settings.ChunkOverlap carries
// the default of 50).
type Config struct {
	TargetSize int
	MaxSize    int
	Overlap    int
}

func (c Config) withDefaults() Config {
	if c.TargetSize <= 0 {
		c.TargetSize = 500
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 800
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	return c
}

// Chunk splits a parsed document into chunks: one per section that fits
// under MaxSize, greedily paragraph-packed chunks (with trailing-token
// overlap) for larger sections, one chunk per table, and a paragraph-packed
// fallback over RawText when the parser found no structure at all.
func Chunk(doc parse.Document, cfg Config, tok tokenizer.Counter) []Chunk {
	cfg = cfg.withDefaults()
	var out []Chunk

	for _, s := range doc.Sections {
		count := tok.Count(s.Content)
		if count <= cfg.MaxSize {
			out = append(out, Chunk{
				SectionPath: s.Path,
				PageNumbers: pageList(s.Page),
				Type:        "text",
				Content:     s.Content,
				TokenCount:  count,
			})
			continue
		}
		for _, c := range packSection(s, cfg, tok) {
			out = append(out, c)
		}
	}

	for _, tbl := range doc.Tables {
		content := tbl.Markdown
		if tbl.Caption != "" {
			content = tbl.Caption + "\n\n" + content
		}
		out = append(out, Chunk{
			SectionPath: tbl.SectionPath,
			PageNumbers: pageList(tbl.Page),
			Type:        "table",
			Content:     content,
			TokenCount:  tok.Count(content),
		})
	}

	if len(out) == 0 && doc.RawText != "" {
		fallback := parse.Section{Path: "", Content: doc.RawText, Page: 1}
		out = packSection(fallback, cfg, tok)
	}

	return out
}

func pageList(page int) []int {
	if page <= 0 {
		return nil
	}
	return []int{page}
}

// splitParagraphs breaks content at blank-line boundaries first, falling
// back to single newlines when a section has no blank-line breaks at all.
func splitParagraphs(content string) []string {
	paras := splitNonEmpty(content, "\n\n")
	if len(paras) > 1 {
		return paras
	}
	return splitNonEmpty(content, "\n")
}

func splitNonEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// packParagraphLines greedy-packs a single oversized paragraph by line so it
// never becomes one unbounded chunk.
func packParagraphLines(para string, cfg Config, tok tokenizer.Counter) []string {
	lines := strings.Split(para, "\n")
	var out []string
	var cur strings.Builder
	curTokens := 0
	for _, ln := range lines {
		lnTokens := tok.Count(ln)
		if curTokens > 0 && curTokens+lnTokens > cfg.MaxSize {
			out = append(out, cur.String())
			cur.Reset()
			curTokens = 0
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(ln)
		curTokens += lnTokens
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// packSection greedy-packs a section's paragraphs into chunks up to MaxSize,
// prefixing each chunk after the first with an overlap region drawn from the
// tail of the previous chunk.
func packSection(s parse.Section, cfg Config, tok tokenizer.Counter) []Chunk {
	var units []string
	for _, p := range splitParagraphs(s.Content) {
		if tok.Count(p) > cfg.TargetSize {
			units = append(units, packParagraphLines(p, cfg, tok)...)
		} else {
			units = append(units, p)
		}
	}

	var chunks []Chunk
	var paraBuf []string
	curTokens := 0

	flush := func() {
		if len(paraBuf) == 0 {
			return
		}
		content := strings.Join(paraBuf, "\n\n")
		chunks = append(chunks, Chunk{
			SectionPath: s.Path,
			PageNumbers: pageList(s.Page),
			Type:        "text",
			Content:     content,
			TokenCount:  tok.Count(content),
		})
	}

	for _, u := range units {
		uTokens := tok.Count(u)
		if curTokens > 0 && curTokens+uTokens > cfg.MaxSize {
			flush()
			overlap := overlapSuffix(paraBuf, cfg.Overlap, tok)
			paraBuf = nil
			curTokens = 0
			if overlap != "" {
				paraBuf = append(paraBuf, overlap)
				curTokens = tok.Count(overlap)
			}
		}
		paraBuf = append(paraBuf, u)
		curTokens += uTokens
	}
	flush()
	return chunks
}

// overlapSuffix returns the trailing `overlap` tokens of the last flushed
// chunk's paragraphs, preferring a suffix of whole paragraphs; when even the
// last paragraph exceeds the overlap budget it falls back to a raw
// token-suffix of that paragraph.
func overlapSuffix(paras []string, overlap int, tok tokenizer.Counter) string {
	if overlap <= 0 || len(paras) == 0 {
		return ""
	}
	var chosen []string
	budget := overlap
	for i := len(paras) - 1; i >= 0; i-- {
		t := tok.Count(paras[i])
		if t > budget {
			if len(chosen) == 0 {
				toks := tok.Encode(paras[i])
				if len(toks) > overlap {
					toks = toks[len(toks)-overlap:]
				}
				return tok.Decode(toks)
			}
			break
		}
		chosen = append([]string{paras[i]}, chosen...)
		budget -= t
	}
	return strings.Join(chosen, "\n\n")
}
