package ingest

import (
	"context"

	"docintel/internal/persistence/databases"
)

// UpsertChunksToSearch indexes a batch of chunks into the lexical store in
// one bulk request so they're searchable as soon as the batch completes.
func UpsertChunksToSearch(ctx context.Context, s databases.FullTextSearch, docs []databases.ChunkDoc) error {
	if s == nil || len(docs) == 0 {
		return nil
	}
	return s.BulkIndex(ctx, docs)
}

// RemoveDocumentFromSearch deletes every chunk belonging to a document from
// the lexical store, used by the ingestion pipeline's delete operation.
func RemoveDocumentFromSearch(ctx context.Context, s databases.FullTextSearch, docID string) error {
	if s == nil {
		return nil
	}
	return s.RemoveByDocID(ctx, docID)
}
