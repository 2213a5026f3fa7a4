package reqlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

const (
	redacted        = "[redacted]"
	truncatedSuffix = "…(truncated)"
	// DefaultTruncateAt is the rune budget for rendered log data.
	DefaultTruncateAt = 1500
)

var (
	secretPattern = regexp.MustCompile(`sk-[A-Za-z0-9]`)
	secretKey     = regexp.MustCompile(`(?i)api[_-]?key`)
)

// Redact returns a copy of v with API keys and secret-looking tokens masked.
// Values that cannot go through JSON are returned as their fmt form.
func Redact(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return redactString(fmt.Sprint(v))
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return redactString(string(raw))
	}
	return redactValue(generic)
}

func redactValue(v any) any {
	switch t := v.(type) {
	case string:
		return redactString(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if _, ok := item.(string); ok && secretKey.MatchString(k) {
				out[k] = redacted
				continue
			}
			out[k] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func redactString(s string) string {
	if secretPattern.MatchString(s) {
		return redacted
	}
	return s
}

// Truncate renders v as JSON capped at limit runes.
func Truncate(v any, limit int) string {
	if limit <= 0 {
		limit = DefaultTruncateAt
	}
	s := marshalPlain(v)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + truncatedSuffix
}

// marshalPlain is json.Marshal without HTML escaping, so logged markup stays readable.
func marshalPlain(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
