package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docintel/internal/objectstore"
	"docintel/internal/observability"
	"docintel/internal/persistence/databases"
	"docintel/internal/rag/chunker"
	"docintel/internal/rag/diff"
	"docintel/internal/rag/embedder"
	"docintel/internal/rag/parse"
	"docintel/internal/rag/summarize"
	"docintel/internal/rag/tokenizer"
	"docintel/internal/rag/version"
)

// Pipeline drives a document through the ten ingestion stages in
// SPEC_FULL.md section 4.4: deduplicate, register, upload, parse, chunk,
// summarize, detect version, embed, index, finalize.
type Pipeline struct {
	Stores     databases.Manager
	Objects    objectstore.ObjectStore
	Embedder   embedder.Embedder
	Summarizer *summarize.Summarizer
	Detector   *version.Detector
	Diff       *diff.Engine
	Chunking   chunker.Config
	Tokenizer  tokenizer.Counter
}

// NewPipeline wires the collaborators built elsewhere into one driver.
func NewPipeline(stores databases.Manager, objects objectstore.ObjectStore, emb embedder.Embedder, summarizer *summarize.Summarizer, detector *version.Detector, diffEngine *diff.Engine, chunking chunker.Config) *Pipeline {
	return &Pipeline{
		Stores:     stores,
		Objects:    objects,
		Embedder:   emb,
		Summarizer: summarizer,
		Detector:   detector,
		Diff:       diffEngine,
		Chunking:   chunking,
		Tokenizer:  tokenizer.New(),
	}
}

// Upload runs a document through every ingestion stage, returning the
// finalized result or an error with the document left in status "error".
func (p *Pipeline) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	started := time.Now()
	logger := observability.LoggerWithTrace(ctx)

	// Stage 1: deduplicate.
	hash := ContentHash(req.Content)
	if existing, ok, err := p.Stores.Metadata.GetDocumentByHash(ctx, hash); err != nil {
		return UploadResult{}, fmt.Errorf("check duplicate: %w", err)
	} else if ok && existing.Status != "error" {
		return UploadResult{}, &DuplicateError{ExistingDocID: existing.ID}
	}

	// Stage 2: register.
	docID := uuid.New().String()
	doc := databases.Document{
		ID:               docID,
		Title:            req.Title,
		OriginalFilename: req.Filename,
		ContentHash:      hash,
		SizeBytes:        int64(len(req.Content)),
		DocType:          req.DocType,
		Tags:             req.Tags,
		GroupID:          req.GroupID,
		OwnerID:          req.OwnerID,
		Department:       req.Department,
		Visibility:       req.Visibility,
		Status:           "pending",
		VersionNumber:    "v1.0",
		VersionStatus:    "active",
		IsLatest:         true,
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.Stores.Metadata.InsertDocument(ctx, doc); err != nil {
		return UploadResult{}, fmt.Errorf("register document: %w", err)
	}

	result, err := p.runStages(ctx, &doc, req)
	if err != nil {
		doc.Status = "error"
		doc.StatusError = err.Error()
		if uerr := p.Stores.Metadata.UpdateDocument(ctx, doc); uerr != nil {
			logger.Warn().Err(uerr).Str("doc_id", docID).Msg("failed to persist error status")
		}
		return UploadResult{}, err
	}
	result.Duration = time.Since(started)
	return result, nil
}

// runStages performs upload through finalize. The caller is responsible for
// marking the document errored on failure; this system does not roll back
// partial writes from earlier stages — re-running delete is the recovery
// path described in SPEC_FULL.md section 4.4.
func (p *Pipeline) runStages(ctx context.Context, doc *databases.Document, req UploadRequest) (UploadResult, error) {
	// Stage 3: upload.
	key := objectstore.DocumentKey(doc.ID, doc.VersionNumber, req.Filename)
	if p.Objects != nil {
		opts := objectstore.PutOptions{Metadata: objectstore.DocumentTags(doc.ID, doc.VersionNumber, doc.Status)}
		if _, err := p.Objects.Put(ctx, key, bytes.NewReader(req.Content), opts); err != nil {
			return UploadResult{}, fmt.Errorf("upload object: %w", err)
		}
	}
	doc.Status = "parsing"
	if err := p.Stores.Metadata.UpdateDocument(ctx, *doc); err != nil {
		return UploadResult{}, fmt.Errorf("advance to parsing: %w", err)
	}

	// Stage 4: parse.
	parser, err := parse.Dispatch(req.Filename)
	if err != nil {
		return UploadResult{}, fmt.Errorf("dispatch parser: %w", err)
	}
	parsed, err := parser.Parse(req.Filename, req.Content)
	if err != nil {
		return UploadResult{}, fmt.Errorf("parse document: %w", err)
	}
	if doc.Title == "" {
		doc.Title = parsed.Title
	}
	doc.PageCount = parsed.PageCount
	doc.Status = "chunking"
	if err := p.Stores.Metadata.UpdateDocument(ctx, *doc); err != nil {
		return UploadResult{}, fmt.Errorf("advance to chunking: %w", err)
	}

	// Stage 5: chunk.
	chunks := chunker.Chunk(parsed, p.Chunking, p.Tokenizer)

	// Stage 6: summarize.
	doc.Status = "summarizing"
	if err := p.Stores.Metadata.UpdateDocument(ctx, *doc); err != nil {
		return UploadResult{}, fmt.Errorf("advance to summarizing: %w", err)
	}
	sectionSummaries := p.summarizeSections(ctx, doc.ID, chunks)
	docSummary := p.Summarizer.SummarizeDocument(ctx, doc.Title, sectionSummaryText(sectionSummaries), req.DocType)
	doc.Summary = docSummary.Summary
	doc.KeyEntities = docSummary.Entities
	if doc.DocType == "" {
		doc.DocType = docSummary.DocType
	}

	// Stage 7: detect version. May flip doc.ParentVersionID/VersionNumber/
	// IsLatest and, for the matched predecessor, its own is_latest/status.
	var oldDocID, newDocID string
	if p.Detector != nil {
		match, err := p.Detector.Detect(ctx, doc.Title, doc.Summary)
		if err != nil {
			logger := observability.LoggerWithTrace(ctx)
			logger.Warn().Err(err).Str("doc_id", doc.ID).Msg("version detection failed, treating as new document")
		} else if match.Found {
			if err := version.Link(ctx, p.Stores, p.Embedder, doc, match); err != nil {
				return UploadResult{}, fmt.Errorf("link document version: %w", err)
			}
			if match.UploadedIsNewer {
				oldDocID, newDocID = match.MatchedDocID, doc.ID
			} else {
				oldDocID, newDocID = doc.ID, match.MatchedDocID
			}
		}
	}

	// Build the chunk rows: section/table chunks plus section-summary and
	// doc-summary chunks, all carrying the document's final is_latest flag.
	rows := p.buildChunkRows(ctx, *doc, chunks, sectionSummaries, docSummary)
	for _, ss := range sectionSummaries {
		if err := p.Stores.Metadata.InsertSectionSummary(ctx, databases.SectionSummary{
			DocID:       doc.ID,
			SectionPath: ss.SectionPath,
			Summary:     ss.Summary,
			KeyPoints:   ss.KeyPoints,
		}); err != nil {
			return UploadResult{}, fmt.Errorf("persist section summary: %w", err)
		}
	}

	// Stage 8: embed.
	doc.Status = "embedding"
	if err := p.Stores.Metadata.UpdateDocument(ctx, *doc); err != nil {
		return UploadResult{}, fmt.Errorf("advance to embedding: %w", err)
	}
	docs := make([]databases.ChunkDoc, len(rows))
	for i, r := range rows {
		docs[i] = r.ChunkDoc
	}

	// Stage 9: index (metadata, lexical, vector).
	if err := p.Stores.Metadata.InsertChunks(ctx, rows); err != nil {
		return UploadResult{}, fmt.Errorf("persist chunks: %w", err)
	}
	if err := UpsertChunksToSearch(ctx, p.Stores.Search, docs); err != nil {
		return UploadResult{}, fmt.Errorf("index chunks into lexical store: %w", err)
	}
	if err := EmbedAndIndexChunks(ctx, p.Stores.Vector, p.Embedder, docs); err != nil {
		return UploadResult{}, fmt.Errorf("index chunks into vector store: %w", err)
	}

	// Stage 10: finalize.
	doc.Status = "ready"
	if err := p.Stores.Metadata.UpdateDocument(ctx, *doc); err != nil {
		return UploadResult{}, fmt.Errorf("finalize document: %w", err)
	}

	if oldDocID != "" && newDocID != "" && p.Diff != nil {
		version.ScheduleDiff(ctx, func(ctx context.Context, oldID, newID string) error {
			_, err := p.Diff.Diff(ctx, oldID, newID)
			return err
		}, oldDocID, newDocID)
	}

	return UploadResult{
		DocID:           doc.ID,
		Status:          doc.Status,
		VersionNumber:   doc.VersionNumber,
		IsLatest:        doc.IsLatest,
		ParentVersionID: doc.ParentVersionID,
		ChunkCount:      len(rows),
	}, nil
}

func (p *Pipeline) summarizeSections(ctx context.Context, docID string, chunks []chunker.Chunk) []summarize.SectionSummary {
	seen := make(map[string]bool)
	var out []summarize.SectionSummary
	for _, c := range chunks {
		if c.Type != "text" || c.SectionPath == "" || seen[c.SectionPath] {
			continue
		}
		seen[c.SectionPath] = true
		out = append(out, p.Summarizer.SummarizeSection(ctx, c.SectionPath, c.Content))
	}
	return out
}

func sectionSummaryText(summaries []summarize.SectionSummary) []string {
	out := make([]string, len(summaries))
	for i, s := range summaries {
		out[i] = s.Summary
	}
	return out
}

// buildChunkRows assigns dense sequence indices across section/table chunks
// followed by section-summary and doc-summary chunks, and stamps every row
// with the document's denormalized fields.
func (p *Pipeline) buildChunkRows(ctx context.Context, doc databases.Document, chunks []chunker.Chunk, sectionSummaries []summarize.SectionSummary, docSummary summarize.DocumentSummary) []databases.ChunkRow {
	var rows []databases.ChunkRow
	idx := 0

	sectionPaths := make([]string, len(chunks))
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		sectionPaths[i] = c.SectionPath
		contents[i] = c.Content
	}
	descriptions := p.Summarizer.ContextualDescribeBatch(ctx, doc.Title, doc.Summary, sectionPaths, contents)

	for i, c := range chunks {
		content := c.Content
		if i < len(descriptions) && descriptions[i] != "" {
			content = descriptions[i] + "\n\n" + c.Content
		}
		id := uuid.New().String()
		rows = append(rows, databases.ChunkRow{
			ChunkDoc: databases.ChunkDoc{
				ID:          id,
				DocID:       doc.ID,
				DocType:     doc.DocType,
				ChunkType:   c.Type,
				SectionPath: c.SectionPath,
				PageNumbers: c.PageNumbers,
				ChunkIndex:  idx,
				Content:     content,
				TokenCount:  c.TokenCount,
				GroupID:     doc.GroupID,
				Department:  doc.Department,
				IsLatest:    doc.IsLatest,
			},
			VectorPointID: id,
			LexicalDocID:  id,
		})
		idx++
	}

	for _, ss := range sectionSummaries {
		id := uuid.New().String()
		rows = append(rows, databases.ChunkRow{
			ChunkDoc: databases.ChunkDoc{
				ID:          id,
				DocID:       doc.ID,
				DocType:     doc.DocType,
				ChunkType:   "section_summary",
				SectionPath: ss.SectionPath,
				ChunkIndex:  idx,
				Content:     ss.Summary,
				GroupID:     doc.GroupID,
				Department:  doc.Department,
				IsLatest:    doc.IsLatest,
			},
			VectorPointID: id,
			LexicalDocID:  id,
		})
		idx++
	}

	if docSummary.Summary != "" {
		id := uuid.New().String()
		rows = append(rows, databases.ChunkRow{
			ChunkDoc: databases.ChunkDoc{
				ID:         id,
				DocID:      doc.ID,
				DocType:    doc.DocType,
				ChunkType:  "doc_summary",
				ChunkIndex: idx,
				Content:    docSummary.Summary,
				GroupID:    doc.GroupID,
				Department: doc.Department,
				IsLatest:   doc.IsLatest,
			},
			VectorPointID: id,
			LexicalDocID:  id,
		})
	}

	return rows
}

// Delete removes a document from all three stores and the object store, per
// SPEC_FULL.md section 4.4's delete operation: metadata is the cascade root,
// the other stores are deleted by document id.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	doc, ok, err := p.Stores.Metadata.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return errors.New("ingest: document not found")
	}

	if err := RemoveDocumentFromVector(ctx, p.Stores.Vector, docID); err != nil {
		return fmt.Errorf("delete from vector store: %w", err)
	}
	if err := RemoveDocumentFromSearch(ctx, p.Stores.Search, docID); err != nil {
		return fmt.Errorf("delete from lexical store: %w", err)
	}
	if p.Objects != nil {
		key := objectstore.DocumentKey(doc.ID, doc.VersionNumber, doc.OriginalFilename)
		if err := p.Objects.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete from object store: %w", err)
		}
	}
	if err := p.Stores.Metadata.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete from metadata store: %w", err)
	}
	return nil
}
