// Package databases holds the three storage backends behind the document
// intelligence core: a lexical search store, a vector store, and a metadata
// store of record. There is no graph store and no cross-store transaction —
// each write lands in all three independently and the system tolerates a
// brief inconsistency window between them.
package databases

import "context"

// ChunkDoc is the payload written to the vector and lexical stores for one
// chunk, and read back from the metadata store. Field names mirror the
// chunk attributes in the data model: a chunk belongs to one document, has a
// type, a position within the document, and denormalized document fields
// (doc_type, is_latest, group_id, department) that are mutated in bulk when
// version status changes rather than joined at query time.
type ChunkDoc struct {
	ID          string
	DocID       string
	DocType     string
	ChunkType   string // text | table | image_description | section_summary | doc_summary
	SectionPath string
	PageNumbers []int
	ChunkIndex  int
	Content     string
	TokenCount  int
	GroupID     string
	Department  string
	IsLatest    bool
}

// ChunkFilter narrows a lexical or vector query to a subset of chunks.
// A zero-value field means "don't filter on this".
type ChunkFilter struct {
	DocID     string
	GroupID   string
	DocType   string
	ChunkType string
	IsLatest  *bool
}

// SearchResult is a single lexical search hit.
type SearchResult struct {
	Chunk   ChunkDoc
	Score   float64
	Snippet string
}

// FullTextSearch is the lexical half of hybrid retrieval (Elasticsearch in
// production, an in-memory term-frequency index in tests).
type FullTextSearch interface {
	Index(ctx context.Context, doc ChunkDoc) error
	BulkIndex(ctx context.Context, docs []ChunkDoc) error
	Remove(ctx context.Context, id string) error
	RemoveByDocID(ctx context.Context, docID string) error
	Search(ctx context.Context, query string, k int, filter ChunkFilter) ([]SearchResult, error)
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	Chunk ChunkDoc
	Score float64
}

// VectorStore is the dense half of hybrid retrieval (Qdrant in production,
// an in-memory cosine scan in tests). Vectors are expected L2-normalized by
// the caller; similarity is cosine throughout.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, doc ChunkDoc) error
	Delete(ctx context.Context, id string) error
	DeleteByDocID(ctx context.Context, docID string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter ChunkFilter) ([]VectorResult, error)
}

// DocumentFilter narrows ListDocuments. A zero-value field means "don't
// filter on this"; Tags matches documents carrying any of the given tags.
type DocumentFilter struct {
	DocType string
	GroupID string
	Tags    []string
	Status  string
	Limit   int
}

// TitleCandidate is one hit from MetadataStore.FindByTitleSimilarity.
type TitleCandidate struct {
	DocID      string
	Title      string
	Similarity float64
}

// MetadataStore is the store of record for documents, chunks, section
// summaries, version diffs, and document groups. Postgres in production
// (pg_trgm powers title-similarity candidate search), an in-memory map in
// tests.
type MetadataStore interface {
	InsertDocument(ctx context.Context, doc Document) error
	UpdateDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (Document, bool, error)
	GetDocumentByHash(ctx context.Context, hash string) (Document, bool, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error)

	FindByTitleSimilarity(ctx context.Context, title string, threshold float64, limit int) ([]TitleCandidate, error)

	InsertChunks(ctx context.Context, chunks []ChunkRow) error
	ChunkIDsForDoc(ctx context.Context, docID string) ([]string, error)
	ChunksForDoc(ctx context.Context, docID string) ([]ChunkRow, error)
	SetChunksLatest(ctx context.Context, docID string, isLatest bool) error

	InsertSectionSummary(ctx context.Context, s SectionSummary) error

	GetVersionDiff(ctx context.Context, oldDocID, newDocID string) (VersionDiff, bool, error)
	PutVersionDiff(ctx context.Context, diff VersionDiff) error

	UpsertDocumentGroup(ctx context.Context, g DocumentGroup) error
	GetDocumentGroup(ctx context.Context, id string) (DocumentGroup, bool, error)
	ListDocumentGroups(ctx context.Context) ([]DocumentGroup, error)
}

// Document mirrors the Document entity in the data model.
type Document struct {
	ID               string
	Title            string
	OriginalFilename string
	ContentHash      string
	SizeBytes        int64
	PageCount        int
	DocType          string
	Tags             []string
	GroupID          string
	OwnerID          string
	Department       string
	Visibility       string // public | department | private
	Status           string // pending|parsing|chunking|summarizing|embedding|ready|error
	StatusError      string
	Summary          string
	KeyEntities      map[string][]string
	VersionNumber    string
	VersionStatus    string // draft|active|superseded|archived
	ParentVersionID  string
	IsLatest         bool
	EffectiveDate    string
	CreatedAt        string
}

// ChunkRow is the metadata-store row for one chunk: the ChunkDoc payload
// plus the vector/lexical point identifiers, which equal the chunk ID for
// traceability (see SPEC_FULL.md section 4.3).
type ChunkRow struct {
	ChunkDoc
	VectorPointID string
	LexicalDocID  string
}

// SectionSummary mirrors the Section summary entity.
type SectionSummary struct {
	DocID       string
	SectionPath string
	Summary     string
	KeyPoints   []string
}

// DiffChange is one entry in a VersionDiff's change-detail list.
type DiffChange struct {
	Category    string
	Description string
	Location    string
	Impact      string
}

// VersionDiff mirrors the Version diff entity.
type VersionDiff struct {
	OldDocID       string
	NewDocID       string
	TextualDiff    string // serialized per-section add/delete/modify payload
	StructuralDiff string // serialized added/deleted/renamed/common sections
	ChangeSummary  string
	Changes        []DiffChange
	ImpactAnalysis string
	CreatedAt      string
}

// DocumentGroup mirrors the supplemented Document group entity (see
// SPEC_FULL.md section 3).
type DocumentGroup struct {
	ID          string
	Name        string
	Description string
	CreatedAt   string
}

// Manager holds the three concrete backends resolved from configuration.
type Manager struct {
	Search   FullTextSearch
	Vector   VectorStore
	Metadata MetadataStore
}

// Close releases any underlying connection pools. It's a no-op for memory
// backends, which don't implement Close.
func (m Manager) Close() {
	for _, s := range []any{m.Search, m.Vector, m.Metadata} {
		switch c := s.(type) {
		case interface{ Close() }:
			c.Close()
		case interface{ Close() error }:
			_ = c.Close()
		}
	}
}
