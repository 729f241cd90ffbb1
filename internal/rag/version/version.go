// Package version implements the version lifecycle manager: candidate
// predecessor detection, LLM verification, and forward/reverse version
// chain linking (SPEC_FULL.md section 4.5).
package version

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"docintel/internal/llm"
	"docintel/internal/observability"
	"docintel/internal/persistence/databases"
	"docintel/internal/rag/embedder"
	"docintel/internal/rag/ingest"
)

// MatchResult is the outcome of running Detect against an uploaded document.
type MatchResult struct {
	Found           bool
	MatchedDocID    string
	Confidence      float64
	Rationale       string
	UploadedIsNewer bool
	DetectedVersion string
}

// Detector runs candidate detection and LLM verification.
type Detector struct {
	Metadata            databases.MetadataStore
	Vector              databases.VectorStore
	Embedder            embedder.Embedder
	Provider            llm.Provider
	Model               string
	TitleThreshold      float64
	ContentThreshold    float64
	ConfidenceThreshold float64
}

type candidate struct {
	DocID string
	Title string
}

// Detect runs the title-trigram and content-similarity candidate search,
// deduplicates, and asks the light LLM to verify a match.
func (d *Detector) Detect(ctx context.Context, newTitle, newSummary string) (MatchResult, error) {
	logger := observability.LoggerWithTrace(ctx)
	candidates, err := d.collectCandidates(ctx, newTitle, newSummary)
	if err != nil {
		return MatchResult{}, fmt.Errorf("collect version candidates: %w", err)
	}
	if len(candidates) == 0 {
		return MatchResult{}, nil
	}
	if d.Provider == nil {
		return MatchResult{}, nil
	}

	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id=%s title=%q\n", c.DocID, c.Title)
	}
	prompt := fmt.Sprintf(verifyPrompt, newTitle, newSummary, b.String())
	msg, err := d.Provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: verifySystem},
		{Role: "user", Content: prompt},
	}, nil, d.Model)
	if err != nil {
		logger.Warn().Err(err).Msg("version verification LLM call failed")
		return MatchResult{}, nil
	}

	var parsed struct {
		IsNewVersion    bool    `json:"is_new_version"`
		MatchedID       string  `json:"matched_id"`
		Confidence      float64 `json:"confidence"`
		Rationale       string  `json:"rationale"`
		UploadedIsNewer bool    `json:"uploaded_is_newer"`
		DetectedVersion string  `json:"detected_version"`
	}
	if err := llm.DecodeJSON(msg.Content, &parsed); err != nil {
		logger.Warn().Err(err).Msg("version verification decode failed")
		return MatchResult{}, nil
	}
	if !parsed.IsNewVersion || parsed.Confidence < d.ConfidenceThreshold || parsed.MatchedID == "" {
		return MatchResult{}, nil
	}
	return MatchResult{
		Found:           true,
		MatchedDocID:    parsed.MatchedID,
		Confidence:      parsed.Confidence,
		Rationale:       parsed.Rationale,
		UploadedIsNewer: parsed.UploadedIsNewer,
		DetectedVersion: parsed.DetectedVersion,
	}, nil
}

func (d *Detector) collectCandidates(ctx context.Context, newTitle, newSummary string) ([]candidate, error) {
	seen := make(map[string]struct{})
	var out []candidate

	titleHits, err := d.Metadata.FindByTitleSimilarity(ctx, newTitle, d.TitleThreshold, 5)
	if err != nil {
		return nil, fmt.Errorf("title similarity query: %w", err)
	}
	for _, h := range titleHits {
		if _, ok := seen[h.DocID]; ok {
			continue
		}
		seen[h.DocID] = struct{}{}
		out = append(out, candidate{DocID: h.DocID, Title: h.Title})
	}

	if d.Vector != nil && d.Embedder != nil {
		truncated := newSummary
		if len(truncated) > 2000 {
			truncated = truncated[:2000]
		}
		vecs, err := d.Embedder.EmbedBatch(ctx, []string{truncated})
		if err == nil && len(vecs) == 1 {
			latest := true
			hits, err := d.Vector.SimilaritySearch(ctx, vecs[0], 20, databases.ChunkFilter{ChunkType: "doc_summary", IsLatest: &latest})
			if err == nil {
				count := 0
				for _, h := range hits {
					if h.Score < d.ContentThreshold {
						continue
					}
					if _, ok := seen[h.Chunk.DocID]; ok {
						continue
					}
					seen[h.Chunk.DocID] = struct{}{}
					out = append(out, candidate{DocID: h.Chunk.DocID})
					count++
					if count >= 5 {
						break
					}
				}
			}
		}
	}
	return out, nil
}

// Link establishes the parent/child version relationship per the match
// result. When the uploaded document is newer, the matched document's
// chunks get is_latest=false across the metadata, lexical, and vector
// stores. It mutates both documents but persists only the matched one;
// persisting uploaded is left to the caller.
func Link(ctx context.Context, mgr databases.Manager, emb embedder.Embedder, uploaded *databases.Document, match MatchResult) error {
	matched, ok, err := mgr.Metadata.GetDocument(ctx, match.MatchedDocID)
	if err != nil {
		return fmt.Errorf("load matched document: %w", err)
	}
	if !ok {
		return fmt.Errorf("matched document %s not found", match.MatchedDocID)
	}

	if match.UploadedIsNewer {
		uploaded.ParentVersionID = matched.ID
		uploaded.VersionNumber = bumpMajor(matched.VersionNumber)
		uploaded.IsLatest = true
		uploaded.VersionStatus = "active"

		matched.IsLatest = false
		matched.VersionStatus = "superseded"
		if err := mgr.Metadata.UpdateDocument(ctx, matched); err != nil {
			return fmt.Errorf("mark matched document superseded: %w", err)
		}
		if err := propagateIsLatest(ctx, mgr, emb, matched.ID, false); err != nil {
			return fmt.Errorf("propagate is_latest for superseded document: %w", err)
		}
		return nil
	}

	// Uploaded is older: it becomes the predecessor of the matched document.
	uploaded.ParentVersionID = matched.ParentVersionID
	uploaded.IsLatest = false
	uploaded.VersionStatus = "superseded"
	if match.DetectedVersion != "" {
		uploaded.VersionNumber = match.DetectedVersion
	} else {
		uploaded.VersionNumber = decrementMajor(matched.VersionNumber)
	}

	matched.ParentVersionID = uploaded.ID
	if err := mgr.Metadata.UpdateDocument(ctx, matched); err != nil {
		return fmt.Errorf("repoint matched document's parent: %w", err)
	}
	return nil
}

// propagateIsLatest flips is_latest for every chunk of docID in all three
// stores. The metadata store supports a direct field update; the vector and
// lexical stores have no partial-payload-update primitive in this system,
// so their copies are refreshed by re-embedding and re-indexing the chunk
// content read back from the metadata store.
func propagateIsLatest(ctx context.Context, mgr databases.Manager, emb embedder.Embedder, docID string, isLatest bool) error {
	if err := mgr.Metadata.SetChunksLatest(ctx, docID, isLatest); err != nil {
		return fmt.Errorf("set chunks latest in metadata store: %w", err)
	}
	rows, err := mgr.Metadata.ChunksForDoc(ctx, docID)
	if err != nil {
		return fmt.Errorf("load chunks for propagation: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	docs := make([]databases.ChunkDoc, len(rows))
	for i, r := range rows {
		cd := r.ChunkDoc
		cd.IsLatest = isLatest
		docs[i] = cd
	}
	if err := ingest.UpsertChunksToSearch(ctx, mgr.Search, docs); err != nil {
		return fmt.Errorf("reindex chunks into lexical store: %w", err)
	}
	if emb != nil {
		if err := ingest.EmbedAndIndexChunks(ctx, mgr.Vector, emb, docs); err != nil {
			return fmt.Errorf("reindex chunks into vector store: %w", err)
		}
	}
	return nil
}

func bumpMajor(v string) string {
	major, _ := parseVersion(v)
	return fmt.Sprintf("v%d.0", major+1)
}

func decrementMajor(v string) string {
	major, _ := parseVersion(v)
	if major <= 1 {
		return "v1.0"
	}
	return fmt.Sprintf("v%d.0", major-1)
}

func parseVersion(v string) (major, minor int) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	parts := strings.SplitN(v, ".", 2)
	if len(parts) == 0 || parts[0] == "" {
		return 1, 0
	}
	major, _ = strconv.Atoi(parts[0])
	if major == 0 {
		major = 1
	}
	if len(parts) == 2 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

var (
	diffInFlightMu sync.Mutex
	diffInFlight   = make(map[string]struct{})
	diffWG         sync.WaitGroup
)

// ScheduleDiff kicks off an asynchronous diff computation between the older
// and newer document in the pair; failures are logged, not propagated,
// matching the "non-fatal" contract in SPEC_FULL.md section 4.5. The task's
// reference is retained in an in-flight set keyed by the doc-id pair plus a
// package-level WaitGroup, so a caller can drain outstanding diffs at
// shutdown via WaitForPendingDiffs; the entry is discarded on completion.
func ScheduleDiff(logCtx context.Context, compute func(ctx context.Context, oldDocID, newDocID string) error, oldDocID, newDocID string) {
	key := oldDocID + "|" + newDocID

	diffInFlightMu.Lock()
	if _, running := diffInFlight[key]; running {
		diffInFlightMu.Unlock()
		return
	}
	diffInFlight[key] = struct{}{}
	diffWG.Add(1)
	diffInFlightMu.Unlock()

	go func() {
		defer func() {
			diffInFlightMu.Lock()
			delete(diffInFlight, key)
			diffInFlightMu.Unlock()
			diffWG.Done()
		}()

		bg := context.Background()
		if err := compute(bg, oldDocID, newDocID); err != nil {
			observability.LoggerWithTrace(logCtx).Warn().Err(err).
				Str("old_doc_id", oldDocID).Str("new_doc_id", newDocID).
				Msg("async version diff computation failed")
		}
	}()
}

// WaitForPendingDiffs blocks until every diff computation scheduled via
// ScheduleDiff that is still in flight has completed. Called during graceful
// shutdown so the process doesn't exit while a detached diff goroutine is
// still running.
func WaitForPendingDiffs() {
	diffWG.Wait()
}

const verifySystem = `You verify whether an uploaded document is a new version of one of the candidate documents listed. Respond with strict JSON: {"is_new_version": bool, "matched_id": string, "confidence": number between 0 and 1, "rationale": string, "uploaded_is_newer": bool, "detected_version": string}. Judge "uploaded_is_newer" from version numbers, dates, or content extent visible in the summaries. detected_version is any version string (e.g. "v2.1") you can find evidence of in the uploaded document; empty string if none.`

const verifyPrompt = `Uploaded document title: %s
Uploaded document summary: %s

Candidates:
%s`
