package ingest

import (
	"errors"
	"time"
)

// UploadRequest describes a single document upload. The pipeline derives
// everything else (content hash, page count, chunking, summaries, version
// linkage) from the raw bytes.
type UploadRequest struct {
	// Filename is used for extension-based parser dispatch and the object
	// store key.
	Filename string
	// Content is the raw, full document bytes.
	Content []byte
	// Title is an optional caller-supplied title; when empty the parser's
	// detected title is used.
	Title string
	// DocType is an optional caller-supplied document type tag; when empty
	// the summarizer's detected type is applied.
	DocType string
	// Tags, GroupID, OwnerID, Department, Visibility mirror the Document
	// entity's access/classification fields (SPEC_FULL.md section 3).
	Tags       []string
	GroupID    string
	OwnerID    string
	Department string
	Visibility string
}

// UploadResult summarizes the document produced by a completed (or failed)
// ingestion run.
type UploadResult struct {
	DocID           string
	Status          string
	VersionNumber   string
	IsLatest        bool
	ParentVersionID string
	ChunkCount      int
	Warnings        []string
	Duration        time.Duration
}

// ErrDuplicateDocument is returned when a non-errored document with the same
// content hash already exists; the caller can read the existing document
// identifier from DuplicateError.ExistingDocID, which wraps this error.
var ErrDuplicateDocument = errors.New("ingest: duplicate document")

// DuplicateError carries the identifier of the pre-existing document so
// callers can look it up without a second store round trip.
type DuplicateError struct {
	ExistingDocID string
}

func (e *DuplicateError) Error() string {
	return "ingest: duplicate document " + e.ExistingDocID
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateDocument
}
