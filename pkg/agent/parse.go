package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeJSON parses a JSON object out of model output. Models wrap JSON in
// prose or code fences often enough that plain Unmarshal is not an option.
func decodeJSON(text string, target any) error {
	raw, err := extractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("agent: parse response JSON: %w", err)
	}
	return nil
}

// extractJSON returns the first balanced top-level JSON object in text,
// preferring the content of a ```json fence when present.
func extractJSON(text string) (string, error) {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("agent: no JSON object in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("agent: unterminated JSON object in response")
}

// clamp01 bounds a score to [0,1]. Models occasionally emit 1.2 or -0.1.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
