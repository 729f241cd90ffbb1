// Package parse turns raw document bytes into the hierarchical section/table
// shape the chunker consumes. One concrete parser is in scope — Markdown and
// plain text — dispatched by file extension alongside stubs for the other
// extensions named in the upload surface.
package parse

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsupportedExtension is returned by Dispatch for file types that have no
// registered Parser yet.
var ErrUnsupportedExtension = errors.New("parse: unsupported extension")

// Section is one node in a document's hierarchical outline.
type Section struct {
	Title   string
	Level   int // nesting depth: 1 for an outermost heading, 2 for one nested under it, ...
	Path    string
	Content string
	Page    int
}

// TableData is one extracted table, kept separate from prose sections so the
// chunker can emit it as its own "table" chunk.
type TableData struct {
	Markdown    string
	Page        int
	SectionPath string
	Caption     string
}

// Document is the parser's output: a flat, ordered list of sections (already
// carrying their hierarchical path), tables, and a raw-text fallback used
// when neither sections nor tables could be extracted.
type Document struct {
	Title    string
	PageCount int
	Sections []Section
	Tables   []TableData
	RawText  string
}

// Parser turns raw bytes into a Document.
type Parser interface {
	Parse(filename string, data []byte) (Document, error)
}

// Dispatch resolves a Parser by the file's extension. Extensions without a
// concrete implementation return ErrUnsupportedExtension so callers can
// distinguish "not yet supported" from a genuine parse failure.
func Dispatch(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".md", ".markdown", ".txt", "":
		return MarkdownParser{}, nil
	case ".pdf", ".docx", ".doc", ".pptx", ".xlsx", ".csv":
		return nil, ErrUnsupportedExtension
	default:
		return nil, ErrUnsupportedExtension
	}
}
