package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON value out of a model response, tolerating
// the common ways chat models wrap structured output: a ```json fenced
// block, a bare ``` fence, or leading/trailing prose around the braces.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i != -1 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		if j := strings.Index(rest, "```"); j != -1 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return s
	}
	depth, inStr := 0, false
	for i := start; i < len(s); i++ {
		switch c := s[i]; {
		case inStr && c == '\\':
			i++
		case c == '"':
			inStr = !inStr
		case inStr:
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			if depth--; depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// DecodeJSON extracts and unmarshals a model response into v, returning a
// wrapped error that includes the cleaned payload for debugging on failure.
func DecodeJSON(text string, v any) error {
	clean := ExtractJSON(text)
	if err := json.Unmarshal([]byte(clean), v); err != nil {
		return fmt.Errorf("llm: decode JSON response: %w", err)
	}
	return nil
}
