package helpers

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrNoJSON is returned when a model reply holds no balanced JSON value.
var ErrNoJSON = errors.New("no balanced JSON object/array found")

var (
	doctypeDoc = regexp.MustCompile(`(?is)<!doctype html.*</html>`)
	htmlDoc    = regexp.MustCompile(`(?is)<html.*</html>`)
)

// ExtractHTMLDocument returns the HTML document embedded in a model reply.
// It prefers a span starting at <!doctype html>, then one starting at <html>,
// and otherwise returns the trimmed reply unchanged.
func ExtractHTMLDocument(s string) string {
	if m := doctypeDoc.FindString(s); m != "" {
		return strings.TrimSpace(m)
	}
	if m := htmlDoc.FindString(s); m != "" {
		return strings.TrimSpace(m)
	}
	return strings.TrimSpace(s)
}

// ExtractJSON returns the first JSON object or array in s, unwrapping a
// surrounding code fence when present. String contents are skipped while
// matching braces.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\uFEFF")
	if inner, ok := unfence(s); ok {
		s = strings.TrimSpace(inner)
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if out, ok := balanced(s, i); ok {
			return out, nil
		}
	}
	return "", ErrNoJSON
}

func unfence(s string) (string, bool) {
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) {
			continue
		}
		rest := s[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return "", false
		}
		rest = rest[nl+1:]
		if end := strings.Index(rest, fence); end >= 0 {
			return rest[:end], true
		}
		return rest, true
	}
	return "", false
}

func balanced(s string, start int) (string, bool) {
	var (
		stack    = []byte{s[start]}
		inString bool
		escaped  bool
	)
	for i := start + 1; i < len(s); i++ {
		c := s[i]
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
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{') != (c == '}') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// TruncateRunes caps s at max runes. Longer values keep max-1 runes, lose
// trailing whitespace and gain an ellipsis.
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max == 1 {
		return "…"
	}
	return strings.TrimRight(string(runes[:max-1]), " \t\r\n") + "…"
}
