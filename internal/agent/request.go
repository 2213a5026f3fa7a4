package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"

	"github.com/mohammad-safakhou/newsletter-agent/internal/helpers"
)

const (
	DefaultTitle    = "Weekly Digest"
	DefaultProvider = "gemini"
)

var (
	// ErrInvalidJSON is returned for bodies that are not JSON at all.
	ErrInvalidJSON = errors.New("invalid JSON")

	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	providers   = []string{"gemini"}
)

// Tone is a list of tone descriptors. It also decodes from a single string.
type Tone []string

func (t *Tone) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*t = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Tone{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*t = list
	return nil
}

// String joins the descriptors with ", ".
func (t Tone) String() string {
	parts := make([]string, 0, len(t))
	for _, s := range t {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Request is a validated newsletter request.
type Request struct {
	Topic          string   `json:"topic"`
	StartDate      string   `json:"start_date,omitempty"`
	EndDate        string   `json:"end_date,omitempty"`
	Title          string   `json:"title"`
	Intro          string   `json:"intro,omitempty"`
	NewsletterType string   `json:"newsletter_type,omitempty"`
	Features       []string `json:"features,omitempty"`
	Links          []string `json:"links,omitempty"`
	Location       string   `json:"location,omitempty"`
	Content        string   `json:"content,omitempty"`
	KeyDetails     string   `json:"key_details,omitempty"`
	Tone           Tone     `json:"tone,omitempty"`
	Sections       int      `json:"sections,omitempty"`
	Preset         string   `json:"preset,omitempty"`
	DryRun         bool     `json:"dryRun"`
	To             string   `json:"to,omitempty"`
	Provider       string   `json:"provider"`
	ArticleURL     string   `json:"article_url,omitempty"`
	ArticleHTML    string   `json:"article_html,omitempty"`
}

// Issue is one validation failure.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a request body.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		if is.Field == "" {
			parts[i] = is.Message
			continue
		}
		parts[i] = is.Field + ": " + is.Message
	}
	return "invalid body: " + strings.Join(parts, "; ")
}

// fields decodes members of a JSON object one at a time, collecting type
// problems as issues instead of stopping at the first one.
type fields struct {
	raw    map[string]json.RawMessage
	issues []Issue
}

func (f *fields) add(field, format string, args ...any) {
	f.issues = append(f.issues, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (f *fields) get(name string) (json.RawMessage, bool) {
	v, ok := f.raw[name]
	if !ok || string(bytes.TrimSpace(v)) == "null" {
		return nil, false
	}
	return v, true
}

// str returns the trimmed string at name; ok is false when absent or mistyped.
func (f *fields) str(name string, trim bool) (string, bool) {
	v, present := f.get(name)
	if !present {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		f.add(name, "expected string")
		return "", false
	}
	if trim {
		s = strings.TrimSpace(s)
	}
	return s, true
}

func (f *fields) list(name string) []string {
	v, present := f.get(name)
	if !present {
		return nil
	}
	var out []string
	if err := json.Unmarshal(v, &out); err != nil {
		f.add(name, "expected array of strings")
		return nil
	}
	return out
}

func (f *fields) integer(name string) (int, bool) {
	v, present := f.get(name)
	if !present {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		f.add(name, "expected number")
		return 0, false
	}
	if n != math.Trunc(n) {
		f.add(name, "expected integer")
		return 0, false
	}
	return int(n), true
}

func (f *fields) boolean(name string) (bool, bool) {
	v, present := f.get(name)
	if !present {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		f.add(name, "expected boolean")
		return false, false
	}
	return b, true
}

func (f *fields) tone(name string) Tone {
	v, present := f.get(name)
	if !present {
		return nil
	}
	var t Tone
	if err := json.Unmarshal(v, &t); err != nil {
		f.add(name, "expected string or array of strings")
		return nil
	}
	return t
}

// ParseRequest decodes and validates a request body. It returns
// ErrInvalidJSON for malformed JSON and *ValidationError for a well-formed
// body that breaks a rule.
func ParseRequest(body []byte) (*Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &ValidationError{Issues: []Issue{{Message: "expected object"}}}
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if raw == nil {
		return nil, &ValidationError{Issues: []Issue{{Message: "expected object"}}}
	}

	f := &fields{raw: raw}
	r := &Request{Title: DefaultTitle, DryRun: true, Provider: DefaultProvider}

	if topic, ok := f.str("topic", true); ok {
		if utf8.RuneCountInString(topic) < 2 {
			f.add("topic", "must contain at least 2 characters")
		}
		r.Topic = topic
	} else if _, present := f.get("topic"); !present {
		f.add("topic", "required")
	}

	for _, d := range []struct {
		name string
		dst  *string
	}{{"start_date", &r.StartDate}, {"end_date", &r.EndDate}} {
		if s, ok := f.str(d.name, false); ok {
			if !datePattern.MatchString(s) {
				f.add(d.name, "must match YYYY-MM-DD")
				continue
			}
			*d.dst = s
		}
	}
	if r.StartDate != "" && r.EndDate != "" && r.StartDate > r.EndDate {
		f.add("start_date", "start_date must be ≤ end_date")
	}

	if title, ok := f.str("title", true); ok {
		if utf8.RuneCountInString(title) < 2 {
			f.add("title", "must contain at least 2 characters")
		}
		r.Title = title
	}

	r.Intro, _ = f.str("intro", true)
	r.NewsletterType, _ = f.str("newsletter_type", true)
	r.Location, _ = f.str("location", true)
	r.Content, _ = f.str("content", true)
	r.KeyDetails, _ = f.str("key_details", true)
	r.Preset, _ = f.str("preset", true)
	r.ArticleHTML, _ = f.str("article_html", false)
	r.Features = f.list("features")
	r.Links = f.list("links")
	r.Tone = f.tone("tone")

	if n, ok := f.integer("sections"); ok {
		if n < 2 || n > 8 {
			f.add("sections", "must be between 2 and 8")
		}
		r.Sections = n
	}
	if b, ok := f.boolean("dryRun"); ok {
		r.DryRun = b
	}
	if to, ok := f.str("to", false); ok {
		if !govalidator.IsEmail(to) {
			f.add("to", "invalid email")
		}
		r.To = to
	}
	if p, ok := f.str("provider", false); ok {
		if !slices.Contains(providers, p) {
			f.add("provider", "must be one of %s", strings.Join(providers, ", "))
		}
		r.Provider = p
	}
	if u, ok := f.str("article_url", false); ok {
		if !helpers.IsLink(u) {
			f.add("article_url", "invalid url")
		}
		r.ArticleURL = u
	}

	if len(f.issues) > 0 {
		return nil, &ValidationError{Issues: f.issues}
	}
	return r, nil
}
