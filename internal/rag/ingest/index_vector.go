package ingest

import (
	"context"
	"fmt"

	"docintel/internal/persistence/databases"
	"docintel/internal/rag/embedder"
)

// vectorUpsertBatchSize matches the 100-at-a-time batching the index writer
// contract calls for.
const vectorUpsertBatchSize = 100

// EmbedAndIndexChunks embeds the given chunks' content and upserts each into
// the vector store, batching the embedding calls and the writes. Chunks must
// already carry their final doc_id/doc_type/group_id/department/is_latest
// fields — this only fills in the vector.
func EmbedAndIndexChunks(ctx context.Context, vec databases.VectorStore, emb embedder.Embedder, docs []databases.ChunkDoc) error {
	if vec == nil || emb == nil || len(docs) == 0 {
		return nil
	}
	for start := 0; start < len(docs); start += vectorUpsertBatchSize {
		end := start + vectorUpsertBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}
		vectors, err := emb.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunk batch: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}
		for i, d := range batch {
			if err := vec.Upsert(ctx, d.ID, vectors[i], d); err != nil {
				return fmt.Errorf("upsert chunk %s: %w", d.ID, err)
			}
		}
	}
	return nil
}

// RemoveDocumentFromVector deletes every vector belonging to a document,
// used by the ingestion pipeline's delete operation.
func RemoveDocumentFromVector(ctx context.Context, vec databases.VectorStore, docID string) error {
	if vec == nil {
		return nil
	}
	return vec.DeleteByDocID(ctx, docID)
}
