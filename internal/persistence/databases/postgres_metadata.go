package databases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgMetadata is the store of record for documents, chunks, section
// summaries, version diffs, and document groups. It performs best-effort
// CREATE IF NOT EXISTS bootstrap on construction; production deployments
// should still manage schema migrations with an external tool.
type pgMetadata struct{ pool *pgxpool.Pool }

// NewPostgresMetadata wires a Postgres-backed MetadataStore and ensures the
// pg_trgm extension and core tables exist.
func NewPostgresMetadata(pool *pgxpool.Pool) MetadataStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pg_trgm`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS documents (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  original_filename TEXT NOT NULL DEFAULT '',
  content_hash TEXT NOT NULL DEFAULT '',
  size_bytes BIGINT NOT NULL DEFAULT 0,
  page_count INT NOT NULL DEFAULT 0,
  doc_type TEXT NOT NULL DEFAULT '',
  tags TEXT[] NOT NULL DEFAULT '{}',
  group_id TEXT NOT NULL DEFAULT '',
  owner_id TEXT NOT NULL DEFAULT '',
  department TEXT NOT NULL DEFAULT '',
  visibility TEXT NOT NULL DEFAULT 'private',
  status TEXT NOT NULL DEFAULT 'pending',
  status_error TEXT NOT NULL DEFAULT '',
  summary TEXT NOT NULL DEFAULT '',
  key_entities JSONB NOT NULL DEFAULT '{}'::jsonb,
  version_number TEXT NOT NULL DEFAULT '',
  version_status TEXT NOT NULL DEFAULT 'draft',
  parent_version_id TEXT NOT NULL DEFAULT '',
  is_latest BOOLEAN NOT NULL DEFAULT true,
  effective_date TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL DEFAULT now()::text
)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS documents_title_trgm_idx ON documents USING GIN (title gin_trgm_ops)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS documents_content_hash_idx ON documents (content_hash)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS documents_group_idx ON documents (group_id)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chunks (
  id TEXT PRIMARY KEY,
  doc_id TEXT NOT NULL,
  doc_type TEXT NOT NULL DEFAULT '',
  chunk_type TEXT NOT NULL DEFAULT '',
  section_path TEXT NOT NULL DEFAULT '',
  page_numbers INT[] NOT NULL DEFAULT '{}',
  chunk_index INT NOT NULL DEFAULT 0,
  content TEXT NOT NULL DEFAULT '',
  token_count INT NOT NULL DEFAULT 0,
  group_id TEXT NOT NULL DEFAULT '',
  department TEXT NOT NULL DEFAULT '',
  is_latest BOOLEAN NOT NULL DEFAULT true,
  vector_point_id TEXT NOT NULL DEFAULT '',
  lexical_doc_id TEXT NOT NULL DEFAULT ''
)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_doc_id_idx ON chunks (doc_id)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS section_summaries (
  doc_id TEXT NOT NULL,
  section_path TEXT NOT NULL,
  summary TEXT NOT NULL DEFAULT '',
  key_points JSONB NOT NULL DEFAULT '[]'::jsonb,
  PRIMARY KEY (doc_id, section_path)
)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS version_diffs (
  old_doc_id TEXT NOT NULL,
  new_doc_id TEXT NOT NULL,
  textual_diff TEXT NOT NULL DEFAULT '',
  structural_diff TEXT NOT NULL DEFAULT '',
  change_summary TEXT NOT NULL DEFAULT '',
  changes JSONB NOT NULL DEFAULT '[]'::jsonb,
  impact_analysis TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL DEFAULT now()::text,
  PRIMARY KEY (old_doc_id, new_doc_id)
)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS document_groups (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL DEFAULT now()::text
)`)
	return &pgMetadata{pool: pool}
}

func (p *pgMetadata) InsertDocument(ctx context.Context, d Document) error {
	entities, err := json.Marshal(nonNilEntities(d.KeyEntities))
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO documents(id, title, original_filename, content_hash, size_bytes, page_count, doc_type, tags,
  group_id, owner_id, department, visibility, status, status_error, summary, key_entities,
  version_number, version_status, parent_version_id, is_latest, effective_date)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, status=EXCLUDED.status
`, d.ID, d.Title, d.OriginalFilename, d.ContentHash, d.SizeBytes, d.PageCount, d.DocType, d.Tags,
		d.GroupID, d.OwnerID, d.Department, d.Visibility, d.Status, d.StatusError, d.Summary, entities,
		d.VersionNumber, d.VersionStatus, d.ParentVersionID, d.IsLatest, d.EffectiveDate)
	return err
}

func (p *pgMetadata) UpdateDocument(ctx context.Context, d Document) error {
	entities, err := json.Marshal(nonNilEntities(d.KeyEntities))
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
UPDATE documents SET title=$2, original_filename=$3, content_hash=$4, size_bytes=$5, page_count=$6,
  doc_type=$7, tags=$8, group_id=$9, owner_id=$10, department=$11, visibility=$12, status=$13,
  status_error=$14, summary=$15, key_entities=$16, version_number=$17, version_status=$18,
  parent_version_id=$19, is_latest=$20, effective_date=$21
WHERE id=$1
`, d.ID, d.Title, d.OriginalFilename, d.ContentHash, d.SizeBytes, d.PageCount, d.DocType, d.Tags,
		d.GroupID, d.OwnerID, d.Department, d.Visibility, d.Status, d.StatusError, d.Summary, entities,
		d.VersionNumber, d.VersionStatus, d.ParentVersionID, d.IsLatest, d.EffectiveDate)
	return err
}

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	var entities []byte
	err := row.Scan(&d.ID, &d.Title, &d.OriginalFilename, &d.ContentHash, &d.SizeBytes, &d.PageCount,
		&d.DocType, &d.Tags, &d.GroupID, &d.OwnerID, &d.Department, &d.Visibility, &d.Status,
		&d.StatusError, &d.Summary, &entities, &d.VersionNumber, &d.VersionStatus, &d.ParentVersionID,
		&d.IsLatest, &d.EffectiveDate, &d.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	if len(entities) > 0 {
		_ = json.Unmarshal(entities, &d.KeyEntities)
	}
	return d, nil
}

const documentColumns = `id, title, original_filename, content_hash, size_bytes, page_count, doc_type, tags,
  group_id, owner_id, department, visibility, status, status_error, summary, key_entities,
  version_number, version_status, parent_version_id, is_latest, effective_date, created_at`

func (p *pgMetadata) GetDocument(ctx context.Context, id string) (Document, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	d, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, false, nil
		}
		return Document{}, false, err
	}
	return d, true, nil
}

func (p *pgMetadata) GetDocumentByHash(ctx context.Context, hash string) (Document, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE content_hash=$1 ORDER BY created_at DESC LIMIT 1`, hash)
	d, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, false, nil
		}
		return Document{}, false, err
	}
	return d, true, nil
}

func (p *pgMetadata) DeleteDocument(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE doc_id=$1`, id); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id=$1`, id)
	return err
}

// ListDocuments enumerates documents matching filter, most recently
// created first, capped at 50.
func (p *pgMetadata) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`
	args := []any{}
	if filter.DocType != "" {
		args = append(args, filter.DocType)
		query += fmt.Sprintf(" AND doc_type=$%d", len(args))
	}
	if filter.GroupID != "" {
		args = append(args, filter.GroupID)
		query += fmt.Sprintf(" AND group_id=$%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if len(filter.Tags) > 0 {
		args = append(args, filter.Tags)
		query += fmt.Sprintf(" AND tags && $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FindByTitleSimilarity uses pg_trgm's similarity() to find version-linking
// candidates by title, ordered by descending similarity.
func (p *pgMetadata) FindByTitleSimilarity(ctx context.Context, title string, threshold float64, limit int) ([]TitleCandidate, error) {
	if limit <= 0 {
		limit = 10
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, title, similarity(title, $1) AS sim
FROM documents
WHERE similarity(title, $1) >= $2
ORDER BY sim DESC
LIMIT $3
`, title, threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]TitleCandidate, 0, limit)
	for rows.Next() {
		var c TitleCandidate
		if err := rows.Scan(&c.DocID, &c.Title, &c.Similarity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *pgMetadata) InsertChunks(ctx context.Context, chunks []ChunkRow) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
INSERT INTO chunks(id, doc_id, doc_type, chunk_type, section_path, page_numbers, chunk_index, content,
  token_count, group_id, department, is_latest, vector_point_id, lexical_doc_id)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET content=EXCLUDED.content, is_latest=EXCLUDED.is_latest
`, c.ID, c.DocID, c.DocType, c.ChunkType, c.SectionPath, c.PageNumbers, c.ChunkIndex, c.Content,
			c.TokenCount, c.GroupID, c.Department, c.IsLatest, c.VectorPointID, c.LexicalDocID)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (p *pgMetadata) ChunkIDsForDoc(ctx context.Context, docID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM chunks WHERE doc_id=$1 ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *pgMetadata) ChunksForDoc(ctx context.Context, docID string) ([]ChunkRow, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, doc_id, doc_type, chunk_type, section_path, page_numbers, chunk_index, content,
  token_count, group_id, department, is_latest, vector_point_id, lexical_doc_id
FROM chunks WHERE doc_id=$1 ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkRow
	for rows.Next() {
		var c ChunkRow
		if err := rows.Scan(&c.ID, &c.DocID, &c.DocType, &c.ChunkType, &c.SectionPath, &c.PageNumbers,
			&c.ChunkIndex, &c.Content, &c.TokenCount, &c.GroupID, &c.Department, &c.IsLatest,
			&c.VectorPointID, &c.LexicalDocID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *pgMetadata) SetChunksLatest(ctx context.Context, docID string, isLatest bool) error {
	_, err := p.pool.Exec(ctx, `UPDATE chunks SET is_latest=$2 WHERE doc_id=$1`, docID, isLatest)
	return err
}

func (p *pgMetadata) InsertSectionSummary(ctx context.Context, s SectionSummary) error {
	points, err := json.Marshal(s.KeyPoints)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO section_summaries(doc_id, section_path, summary, key_points)
VALUES($1,$2,$3,$4)
ON CONFLICT (doc_id, section_path) DO UPDATE SET summary=EXCLUDED.summary, key_points=EXCLUDED.key_points
`, s.DocID, s.SectionPath, s.Summary, points)
	return err
}

func (p *pgMetadata) GetVersionDiff(ctx context.Context, oldDocID, newDocID string) (VersionDiff, bool, error) {
	row := p.pool.QueryRow(ctx, `
SELECT old_doc_id, new_doc_id, textual_diff, structural_diff, change_summary, changes, impact_analysis, created_at
FROM version_diffs WHERE old_doc_id=$1 AND new_doc_id=$2
`, oldDocID, newDocID)
	var v VersionDiff
	var changes []byte
	err := row.Scan(&v.OldDocID, &v.NewDocID, &v.TextualDiff, &v.StructuralDiff, &v.ChangeSummary,
		&changes, &v.ImpactAnalysis, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VersionDiff{}, false, nil
		}
		return VersionDiff{}, false, err
	}
	if len(changes) > 0 {
		_ = json.Unmarshal(changes, &v.Changes)
	}
	return v, true, nil
}

func (p *pgMetadata) PutVersionDiff(ctx context.Context, diff VersionDiff) error {
	changes, err := json.Marshal(diff.Changes)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO version_diffs(old_doc_id, new_doc_id, textual_diff, structural_diff, change_summary, changes, impact_analysis)
VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (old_doc_id, new_doc_id) DO UPDATE SET textual_diff=EXCLUDED.textual_diff,
  structural_diff=EXCLUDED.structural_diff, change_summary=EXCLUDED.change_summary,
  changes=EXCLUDED.changes, impact_analysis=EXCLUDED.impact_analysis
`, diff.OldDocID, diff.NewDocID, diff.TextualDiff, diff.StructuralDiff, diff.ChangeSummary, changes, diff.ImpactAnalysis)
	return err
}

func (p *pgMetadata) UpsertDocumentGroup(ctx context.Context, g DocumentGroup) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO document_groups(id, name, description) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, description=EXCLUDED.description
`, g.ID, g.Name, g.Description)
	return err
}

func (p *pgMetadata) GetDocumentGroup(ctx context.Context, id string) (DocumentGroup, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT id, name, description, created_at FROM document_groups WHERE id=$1`, id)
	var g DocumentGroup
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DocumentGroup{}, false, nil
		}
		return DocumentGroup{}, false, err
	}
	return g, true, nil
}

func (p *pgMetadata) ListDocumentGroups(ctx context.Context) ([]DocumentGroup, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, description, created_at FROM document_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DocumentGroup
	for rows.Next() {
		var g DocumentGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *pgMetadata) Close() { p.pool.Close() }

func nonNilEntities(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}
