package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// DecodeJSON decodes JSON from model output as an explicit two-stage pass:
// strict parse first, then a repair attempt that strips code fences and
// extracts the outermost object or array. Failure after both stages returns
// a MalformedResponseError.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return &MalformedResponseError{Snippet: "<empty>", Err: errors.New("empty payload")}
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	repaired := repairJSONPayload(trimmed)
	if repaired == "" || repaired == trimmed {
		return &MalformedResponseError{Snippet: snippet(trimmed), Err: directErr}
	}
	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return &MalformedResponseError{Snippet: snippet(repaired), Err: err}
	}
	return nil
}

// repairJSONPayload strips markdown fences and pulls out the outermost JSON
// object or array from surrounding prose
func repairJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := trimmed[3:]
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
		body = strings.TrimLeft(body, " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// snippet flattens and truncates payload text for error messages
func snippet(content string) string {
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	clean := strings.Join(strings.Fields(replacer.Replace(content)), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	if clean == "" {
		return "<empty>"
	}
	return clean
}
