package llm

import (
	"encoding/json"
	"strings"
)

// stripFences removes a surrounding markdown code block, if any.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	end := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:end], "\n"))
}

// DecodeJSON unmarshals an LLM reply into out after stripping code fences.
// When the reply has prose around the payload, the outermost JSON array or
// object is tried instead.
func DecodeJSON(text string, out any) error {
	text = stripFences(text)
	err := json.Unmarshal([]byte(text), out)
	if err == nil {
		return nil
	}
	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start >= 0 && end > start {
			if json.Unmarshal([]byte(text[start:end+1]), out) == nil {
				return nil
			}
		}
	}
	return err
}
