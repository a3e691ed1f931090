package llm

import (
	"encoding/json"
	"strings"

	"github.com/TobiSchelling/postforge/internal/apperr"
)

// ExtractJSON strips markdown code fences and any prose around the outermost
// JSON object in an LLM response.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines)
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
	}

	if !strings.HasPrefix(text, "{") {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start >= 0 && end > start {
			text = text[start : end+1]
		}
	}
	return text
}

// ParseJSONResponse parses a JSON object from an LLM response, handling
// markdown code blocks. It returns nil when the text is not a JSON object.
func ParseJSONResponse(text string) map[string]any {
	clean := ExtractJSON(text)
	if clean == "" {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(clean), &result); err != nil {
		return nil
	}
	return result
}

// DecodeJSON unmarshals the JSON object in an LLM response into v.
func DecodeJSON(text string, v any) error {
	clean := ExtractJSON(text)
	if clean == "" {
		return apperr.Wrap(apperr.ErrSchema, "empty response")
	}
	if err := json.Unmarshal([]byte(clean), v); err != nil {
		return apperr.WrapErr(apperr.ErrSchema, "response is not valid JSON", err)
	}
	return nil
}
