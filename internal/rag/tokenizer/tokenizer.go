// Package tokenizer provides the single token-counting implementation used
// system-wide by the chunker, the ingestion pipeline, and the answer
// generator's context budget. The summarizer truncates its inputs by byte
// length and does not use it.
package tokenizer

import "github.com/pkoukk/tiktoken-go"

// Counter counts and splits text by token.
type Counter interface {
	Count(text string) int
	Encode(text string) []int
	Decode(tokens []int) string
}

type cl100k struct {
	enc *tiktoken.Tiktoken
}

// New returns the cl100k_base encoding fixed system-wide (SPEC_FULL.md
// section 4.1). Panics on failure since the encoding is embedded and a
// failure here means the binary is broken, not that input was bad.
func New() Counter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		panic(err)
	}
	return cl100k{enc: enc}
}

func (c cl100k) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func (c cl100k) Encode(text string) []int {
	return c.enc.Encode(text, nil, nil)
}

func (c cl100k) Decode(tokens []int) string {
	return c.enc.Decode(tokens)
}
