package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentKey_ScopesByVersion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "d1/v2.0/handbook.pdf", DocumentKey("d1", "v2.0", "handbook.pdf"))
	assert.NotEqual(t, DocumentKey("d1", "v1.0", "handbook.pdf"), DocumentKey("d1", "v2.0", "handbook.pdf"))
}

func TestDocumentKey_DefaultsMissingVersionToV1(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "d1/v1.0/handbook.pdf", DocumentKey("d1", "", "handbook.pdf"))
}

func TestDocumentTags_CarriesDocVersionAndStatus(t *testing.T) {
	t.Parallel()
	tags := DocumentTags("d1", "v2.0", "ready")
	assert.Equal(t, "d1", tags["doc_id"])
	assert.Equal(t, "v2.0", tags["version"])
	assert.Equal(t, "ready", tags["status"])
}
