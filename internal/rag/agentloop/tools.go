// Package agentloop implements the ReAct-style agent loop and its 7-tool
// catalogue (SPEC_FULL.md section 4.10), built over the same hybrid
// retriever, metadata store, and answer generator the simple and enhanced
// RAG routes use.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"docintel/internal/persistence/databases"
	"docintel/internal/rag/answer"
	"docintel/internal/rag/diff"
	"docintel/internal/rag/retrieve"
	"docintel/internal/tools"
)

// newToolRegistry builds the tool catalogue for one agent run, with the
// accessible-document set baked into every search-bearing tool so
// permission scoping survives tool dispatch.
func newToolRegistry(retriever *retrieve.Retriever, metadata databases.MetadataStore, diffEngine *diff.Engine, answerer *answer.Generator, accessibleDocIDs []string) tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(searchDocumentsTool{retriever: retriever, metadata: metadata, accessible: accessibleDocIDs})
	reg.Register(readDocumentSummaryTool{metadata: metadata})
	reg.Register(readDocumentDetailTool{metadata: metadata})
	reg.Register(listDocumentsTool{metadata: metadata})
	reg.Register(compareVersionsTool{metadata: metadata, diffEngine: diffEngine})
	reg.Register(getVersionHistoryTool{metadata: metadata})
	reg.Register(crossDocumentAnalysisTool{retriever: retriever, answerer: answerer, metadata: metadata, accessible: accessibleDocIDs})
	return reg
}

// formatSearchLine renders one retrieved chunk in the
// "[N] 《title》[section] (page list)" form the loop's citation extractor
// scans for.
func formatSearchLine(n int, title, sectionPath string, pages []int) string {
	pageList := make([]string, len(pages))
	for i, p := range pages {
		pageList[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("[%d] 《%s》[%s] (%s)", n, title, sectionPath, strings.Join(pageList, ","))
}

type searchDocumentsTool struct {
	retriever  *retrieve.Retriever
	metadata   databases.MetadataStore
	accessible []string
}

func (searchDocumentsTool) Name() string { return "search_documents" }

func (searchDocumentsTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Search the document corpus via hybrid (dense + lexical) retrieval.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":        map[string]any{"type": "string"},
				"doc_id":       map[string]any{"type": "string"},
				"doc_type":     map[string]any{"type": "string"},
				"group_id":     map[string]any{"type": "string"},
				"top_k":        map[string]any{"type": "integer"},
				"version_mode": map[string]any{"type": "string", "enum": []string{"latest_only", "all_versions"}},
			},
			"required": []string{"query"},
		},
	}
}

func (t searchDocumentsTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var params struct {
		Query       string `json:"query"`
		DocID       string `json:"doc_id"`
		DocType     string `json:"doc_type"`
		GroupID     string `json:"group_id"`
		TopK        int    `json:"top_k"`
		VersionMode string `json:"version_mode"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("search_documents: invalid parameters: %w", err)
	}
	if t.retriever == nil {
		return nil, fmt.Errorf("search_documents: retriever not configured")
	}
	opt := retrieve.Options{
		DocID:            params.DocID,
		DocType:          params.DocType,
		GroupID:          params.GroupID,
		FinalTopK:        params.TopK,
		AllVersions:      params.VersionMode == "all_versions",
		AccessibleDocIDs: t.accessible,
		Rerank:           true,
	}
	hits, err := t.retriever.Retrieve(ctx, params.Query, opt)
	if err != nil {
		return nil, fmt.Errorf("search_documents: %w", err)
	}
	titles := make(map[string]string, len(hits))
	lines := make([]string, 0, len(hits))
	for i, h := range hits {
		title, ok := titles[h.Chunk.DocID]
		if !ok {
			title = h.Chunk.DocID
			if t.metadata != nil {
				if doc, found, err := t.metadata.GetDocument(ctx, h.Chunk.DocID); err == nil && found {
					title = doc.Title
				}
			}
			titles[h.Chunk.DocID] = title
		}
		lines = append(lines, formatSearchLine(i+1, title, h.Chunk.SectionPath, h.Chunk.PageNumbers))
		lines = append(lines, h.Chunk.Content)
	}
	if len(lines) == 0 {
		return "no matching chunks found", nil
	}
	return strings.Join(lines, "\n"), nil
}

type readDocumentSummaryTool struct {
	metadata databases.MetadataStore
}

func (readDocumentSummaryTool) Name() string { return "read_document_summary" }

func (readDocumentSummaryTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Return a document's summary and entities, or a specific section's summary and key points.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"doc_id":       map[string]any{"type": "string"},
				"section_path": map[string]any{"type": "string"},
			},
			"required": []string{"doc_id"},
		},
	}
}

func (t readDocumentSummaryTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var params struct {
		DocID       string `json:"doc_id"`
		SectionPath string `json:"section_path"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("read_document_summary: invalid parameters: %w", err)
	}
	if t.metadata == nil {
		return nil, fmt.Errorf("read_document_summary: metadata store not configured")
	}
	if params.SectionPath != "" {
		rows, err := t.metadata.ChunksForDoc(ctx, params.DocID)
		if err != nil {
			return nil, fmt.Errorf("read_document_summary: %w", err)
		}
		for _, r := range rows {
			if r.ChunkType == "section_summary" && r.SectionPath == params.SectionPath {
				return r.Content, nil
			}
		}
		return "no summary found for that section", nil
	}
	doc, ok, err := t.metadata.GetDocument(ctx, params.DocID)
	if err != nil {
		return nil, fmt.Errorf("read_document_summary: %w", err)
	}
	if !ok {
		return "document not found", nil
	}
	return fmt.Sprintf("Summary: %s\nEntities: %v", doc.Summary, doc.KeyEntities), nil
}

type readDocumentDetailTool struct {
	metadata databases.MetadataStore
}

func (readDocumentDetailTool) Name() string { return "read_document_detail" }

func (readDocumentDetailTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Return raw chunk contents for a document, ordered by sequence, optionally filtered by section or page range.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"doc_id":       map[string]any{"type": "string"},
				"section_path": map[string]any{"type": "string"},
				"page_range":   map[string]any{"type": "string", "description": "\"N\" or \"N-M\""},
			},
			"required": []string{"doc_id"},
		},
	}
}

func (t readDocumentDetailTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var params struct {
		DocID       string `json:"doc_id"`
		SectionPath string `json:"section_path"`
		PageRange   string `json:"page_range"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("read_document_detail: invalid parameters: %w", err)
	}
	if t.metadata == nil {
		return nil, fmt.Errorf("read_document_detail: metadata store not configured")
	}
	lo, hi, hasRange := parsePageRange(params.PageRange)
	rows, err := t.metadata.ChunksForDoc(ctx, params.DocID)
	if err != nil {
		return nil, fmt.Errorf("read_document_detail: %w", err)
	}
	var parts []string
	for _, r := range rows {
		if r.ChunkType != "text" && r.ChunkType != "table" {
			continue
		}
		if params.SectionPath != "" && r.SectionPath != params.SectionPath {
			continue
		}
		if hasRange && !pagesOverlap(r.PageNumbers, lo, hi) {
			continue
		}
		parts = append(parts, r.Content)
	}
	if len(parts) == 0 {
		return "no chunks matched", nil
	}
	return strings.Join(parts, "\n\n"), nil
}

func parsePageRange(s string) (lo, hi int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}
	if i := strings.Index(s, "-"); i >= 0 {
		a, err1 := strconv.Atoi(strings.TrimSpace(s[:i]))
		b, err2 := strconv.Atoi(strings.TrimSpace(s[i+1:]))
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return a, b, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, 0, false
	}
	return n, n, true
}

func pagesOverlap(pages []int, lo, hi int) bool {
	for _, p := range pages {
		if p >= lo && p <= hi {
			return true
		}
	}
	return false
}

type listDocumentsTool struct {
	metadata databases.MetadataStore
}

func (listDocumentsTool) Name() string { return "list_documents" }

func (listDocumentsTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Enumerate ready documents matching the given filters.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"doc_type": map[string]any{"type": "string"},
				"group_id": map[string]any{"type": "string"},
				"tags":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"status":   map[string]any{"type": "string"},
				"limit":    map[string]any{"type": "integer", "maximum": 50},
			},
		},
	}
}

func (t listDocumentsTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var params struct {
		DocType string   `json:"doc_type"`
		GroupID string   `json:"group_id"`
		Tags    []string `json:"tags"`
		Status  string   `json:"status"`
		Limit   int      `json:"limit"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("list_documents: invalid parameters: %w", err)
	}
	if t.metadata == nil {
		return nil, fmt.Errorf("list_documents: metadata store not configured")
	}
	status := params.Status
	if status == "" {
		status = "ready"
	}
	limit := params.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	docs, err := t.metadata.ListDocuments(ctx, databases.DocumentFilter{
		DocType: params.DocType,
		GroupID: params.GroupID,
		Tags:    params.Tags,
		Status:  status,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list_documents: %w", err)
	}
	lines := make([]string, 0, len(docs))
	for _, d := range docs {
		lines = append(lines, fmt.Sprintf("%s: %s (version %s)", d.ID, d.Title, d.VersionNumber))
	}
	if len(lines) == 0 {
		return "no documents matched", nil
	}
	return strings.Join(lines, "\n"), nil
}

type compareVersionsTool struct {
	metadata   databases.MetadataStore
	diffEngine *diff.Engine
}

func (compareVersionsTool) Name() string { return "compare_versions" }

func (compareVersionsTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Return the cached diff between two document versions, computing it if absent.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"doc_id":       map[string]any{"type": "string"},
				"other_doc_id": map[string]any{"type": "string"},
			},
			"required": []string{"doc_id", "other_doc_id"},
		},
	}
}

func (t compareVersionsTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var params struct {
		DocID      string `json:"doc_id"`
		OtherDocID string `json:"other_doc_id"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("compare_versions: invalid parameters: %w", err)
	}
	if t.metadata == nil {
		return nil, fmt.Errorf("compare_versions: metadata store not configured")
	}
	if v, ok, err := t.metadata.GetVersionDiff(ctx, params.DocID, params.OtherDocID); err == nil && ok {
		return v.ChangeSummary, nil
	}
	if v, ok, err := t.metadata.GetVersionDiff(ctx, params.OtherDocID, params.DocID); err == nil && ok {
		return v.ChangeSummary, nil
	}
	if t.diffEngine == nil {
		return "no cached diff and no diff engine configured", nil
	}
	v, err := t.diffEngine.Diff(ctx, params.DocID, params.OtherDocID)
	if err != nil {
		return nil, fmt.Errorf("compare_versions: %w", err)
	}
	return v.ChangeSummary, nil
}

type getVersionHistoryTool struct {
	metadata databases.MetadataStore
}

func (getVersionHistoryTool) Name() string { return "get_version_history" }

func (getVersionHistoryTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Traverse parent and child version links for a document and return the full chain.",
		"parameters": map[string]any{
			"type":       "object",
			"properties": map[string]any{"doc_id": map[string]any{"type": "string"}},
			"required":   []string{"doc_id"},
		},
	}
}

func (t getVersionHistoryTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var params struct {
		DocID string `json:"doc_id"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("get_version_history: invalid parameters: %w", err)
	}
	if t.metadata == nil {
		return nil, fmt.Errorf("get_version_history: metadata store not configured")
	}

	chain := make(map[string]databases.Document)
	cur, ok, err := t.metadata.GetDocument(ctx, params.DocID)
	if err != nil {
		return nil, fmt.Errorf("get_version_history: %w", err)
	}
	if !ok {
		return "document not found", nil
	}
	chain[cur.ID] = cur

	for id := cur.ParentVersionID; id != ""; {
		parent, ok, err := t.metadata.GetDocument(ctx, id)
		if err != nil || !ok {
			break
		}
		chain[parent.ID] = parent
		id = parent.ParentVersionID
	}

	all, err := t.metadata.ListDocuments(ctx, databases.DocumentFilter{Limit: 50})
	if err == nil {
		changed := true
		for changed {
			changed = false
			for _, d := range all {
				if _, already := chain[d.ID]; already {
					continue
				}
				if _, parentKnown := chain[d.ParentVersionID]; parentKnown && d.ParentVersionID != "" {
					chain[d.ID] = d
					changed = true
				}
			}
		}
	}

	out := make([]databases.Document, 0, len(chain))
	for _, d := range chain {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })

	lines := make([]string, 0, len(out))
	for _, d := range out {
		lines = append(lines, fmt.Sprintf("%s: version %s (%s)", d.ID, d.VersionNumber, d.VersionStatus))
	}
	return strings.Join(lines, "\n"), nil
}

type crossDocumentAnalysisTool struct {
	retriever  *retrieve.Retriever
	answerer   *answer.Generator
	metadata   databases.MetadataStore
	accessible []string
}

func (crossDocumentAnalysisTool) Name() string { return "cross_document_analysis" }

func (crossDocumentAnalysisTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Retrieve relevant chunks from each listed document and synthesize a cross-document answer.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"doc_ids":        map[string]any{"type": "string", "description": "comma-separated, at least two document ids"},
				"analysis_topic": map[string]any{"type": "string"},
				"analysis_type":  map[string]any{"type": "string"},
			},
			"required": []string{"doc_ids", "analysis_topic"},
		},
	}
}

func (t crossDocumentAnalysisTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var params struct {
		DocIDs        string `json:"doc_ids"`
		AnalysisTopic string `json:"analysis_topic"`
		AnalysisType  string `json:"analysis_type"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("cross_document_analysis: invalid parameters: %w", err)
	}
	if t.retriever == nil || t.answerer == nil {
		return nil, fmt.Errorf("cross_document_analysis: retriever or answerer not configured")
	}
	var docIDs []string
	for _, id := range strings.Split(params.DocIDs, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			docIDs = append(docIDs, id)
		}
	}
	if len(docIDs) < 2 {
		return nil, fmt.Errorf("cross_document_analysis: requires at least two doc_ids")
	}

	var combined []retrieve.RetrievedChunk
	titles := make(map[string]string)
	for _, id := range docIDs {
		hits, err := t.retriever.Retrieve(ctx, params.AnalysisTopic, retrieve.Options{DocID: id, AccessibleDocIDs: t.accessible})
		if err != nil {
			return nil, fmt.Errorf("cross_document_analysis: %w", err)
		}
		combined = append(combined, hits...)
		if t.metadata != nil {
			if doc, ok, err := t.metadata.GetDocument(ctx, id); err == nil && ok {
				titles[id] = doc.Title
			}
		}
	}

	ans, err := t.answerer.GenerateMultiDoc(ctx, params.AnalysisTopic, combined, titles)
	if err != nil {
		return nil, fmt.Errorf("cross_document_analysis: %w", err)
	}
	return ans.Text, nil
}

var citationLineRe = regexp.MustCompile(`\[\d+\]\s+\x{300a}([^\x{300b}]+)\x{300b}\[([^\]]*)\]\s+\(([^)]*)\)`)

// extractCitationsFromObservations scans search_documents tool observations
// for "[N] 《title》[section] (page list)" lines, deduplicates by
// (title, section), and caps the result at 10.
func extractCitationsFromObservations(observations []string) []answer.Citation {
	seen := make(map[string]bool)
	var out []answer.Citation
	for _, obs := range observations {
		for _, line := range strings.Split(obs, "\n") {
			m := citationLineRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			title, section := m[1], m[2]
			key := title + "\x00" + section
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, answer.Citation{Title: title, SectionPath: section})
			if len(out) >= 10 {
				return out
			}
		}
	}
	return out
}
