package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// findJSONCandidates scans the input for top-level JSON object candidates.
// It handles nested braces and string escaping to correctly identify
// boundaries, using a byte-level state machine rather than regex.
//
// Iterating bytes is safe for ASCII delimiters ({, }, ", \) because UTF-8
// guarantees ASCII bytes never appear inside a multi-byte sequence.
func findJSONCandidates(s string) []string {
	var candidates []string
	var depth int
	start := -1
	var inString bool
	var escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		if b == '"' {
			inString = true
			continue
		}

		if b == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if b == '}' {
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}

	return candidates
}

// ExtractJSON unmarshals the first valid JSON object found in a model
// response into v. Models sometimes wrap JSON in markdown fences or prose;
// schema-enforced responses usually parse directly.
func ExtractJSON(response string, v interface{}) error {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	// Fast path: the whole response is the object
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	for _, candidate := range findJSONCandidates(trimmed) {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: no valid JSON object in %d bytes", ErrMalformedResponse, len(response))
}
