package conversation

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vanpelt/xurl/internal/models"
)

// toolTypes are content items that carry tool traffic rather than prose.
var toolTypes = map[string]bool{
	"tool_call":         true,
	"tool_result":       true,
	"tool_use":          true,
	"function_call":     true,
	"function_result":   true,
	"function_response": true,
}

// ClassifyRole maps a provider role name onto models.Role.
func ClassifyRole(name string) (models.Role, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "user", "human":
		return models.RoleUser, true
	case "assistant", "gemini", "model":
		return models.RoleAssistant, true
	case "system":
		return models.RoleSystem, true
	default:
		return "", false
	}
}

// Text flattens a message content value. Strings are returned as-is;
// arrays contribute the trimmed text/input_text/output_text of each
// non-tool item, joined by blank lines.
func Text(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var chunks []string
		for _, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if t, _ := obj["type"].(string); toolTypes[t] {
				continue
			}
			for _, key := range []string{"text", "input_text", "output_text"} {
				if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
					chunks = append(chunks, strings.TrimSpace(s))
					break
				}
			}
		}
		return strings.Join(chunks, "\n\n")
	default:
		return ""
	}
}

// TypedText joins the trimmed text of content items whose type is in
// types. field names the key to read for each type.
func TypedText(content interface{}, fields map[string]string) string {
	items, ok := content.([]interface{})
	if !ok {
		return ""
	}
	var chunks []string
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		t, _ := obj["type"].(string)
		key, wanted := fields[t]
		if !wanted {
			continue
		}
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			chunks = append(chunks, strings.TrimSpace(s))
		}
	}
	return strings.Join(chunks, "\n\n")
}

// Timestamp parses RFC3339 strings and epoch numbers (seconds or
// milliseconds). It returns nil when v is absent or unparseable.
func Timestamp(v interface{}) *time.Time {
	var t time.Time
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			n, convErr := strconv.ParseInt(x, 10, 64)
			if convErr != nil {
				return nil
			}
			t = fromEpoch(n)
		} else {
			t = parsed
		}
	case float64:
		t = fromEpoch(int64(x))
	case int64:
		t = fromEpoch(x)
	case int:
		t = fromEpoch(int64(x))
	default:
		return nil
	}
	t = t.UTC()
	return &t
}

func fromEpoch(n int64) time.Time {
	// Values past 1e11 cannot be seconds for any plausible date.
	if n > 100_000_000_000 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

// Preview collapses whitespace and truncates text to max runes.
func Preview(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + "…"
}

// MatchPreview returns a window of text around the first case-insensitive
// occurrence of keyword, or "" when absent.
func MatchPreview(text, keyword string, width int) string {
	if keyword == "" {
		return ""
	}
	flat := strings.Join(strings.Fields(text), " ")
	lower := strings.ToLower(flat)
	idx := strings.Index(lower, strings.ToLower(keyword))
	if idx < 0 {
		return ""
	}
	start := idx - width
	if start < 0 {
		start = 0
	}
	end := idx + len(keyword) + width
	if end > len(flat) {
		end = len(flat)
	}
	// Keep the window on rune boundaries.
	for start > 0 && !utf8.RuneStart(flat[start]) {
		start--
	}
	for end < len(flat) && !utf8.RuneStart(flat[end]) {
		end++
	}
	out := flat[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(flat) {
		out += "…"
	}
	return out
}
