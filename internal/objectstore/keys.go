package objectstore

import (
	"fmt"
	"strings"
)

// DocumentKey builds the object store key for a document version's original
// uploaded bytes. Keys are scoped by version number, not just document id, so
// linking an uploaded file as a new version (SPEC_FULL.md section 4.5) never
// overwrites the prior version's stored bytes — both remain independently
// retrievable for as long as their Document rows exist.
func DocumentKey(docID, versionNumber, filename string) string {
	v := strings.TrimSpace(versionNumber)
	if v == "" {
		v = "v1.0"
	}
	return fmt.Sprintf("%s/%s/%s", docID, v, filename)
}

// DocumentTags returns the PutOptions.Metadata tag set a document upload
// carries, so an object can be traced back to its document id, version, and
// lifecycle status directly from store-side metadata without a round trip
// through the metadata store.
func DocumentTags(docID, versionNumber, status string) map[string]string {
	return map[string]string{
		"doc_id":  docID,
		"version": versionNumber,
		"status":  status,
	}
}
