package ingest

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash computes the SHA-256 hex digest of raw document bytes, used by
// the pipeline's deduplication stage (SPEC_FULL.md section 4.4, step 1).
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
