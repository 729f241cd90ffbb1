package ingest

import "testing"

func TestContentHash_DeterministicAndContentSensitive(t *testing.T) {
	a := []byte("Hello, world!\n\nThis is a test.")
	h1 := ContentHash(a)
	h2 := ContentHash(a)
	if h1 != h2 {
		t.Fatalf("expected same hash, got %s vs %s", h1, h2)
	}
	b := append(append([]byte{}, a...), ' ')
	h3 := ContentHash(b)
	if h1 == h3 {
		t.Fatalf("expected different hash when bytes differ")
	}
}
