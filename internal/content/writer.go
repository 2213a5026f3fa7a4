package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/newsletter-agent/internal/helpers"
	"github.com/mohammad-safakhou/newsletter-agent/internal/llm"
)

const (
	// DefaultTone is used when a compose request names no tone.
	DefaultTone = "warm, expert, concise"

	defaultSections = 4
	minSections     = 2
	maxSections     = 8
	maxCTAs         = 2

	newsletterSystem = "You are a professional newsletter writer. Create a complete, well-structured HTML newsletter document with proper styling, sections, and engaging content."
)

// ErrOutlineTooShort is returned when the model outlines fewer than two sections.
var ErrOutlineTooShort = errors.New("outline has fewer than 2 sections")

// Writer runs the model-backed writing steps.
type Writer struct {
	Model llm.Model
	// Temperature is used for the full-newsletter draft.
	Temperature float64
	// StructuredTemperature is used for outline, sections and CTAs.
	StructuredTemperature float64
}

var (
	outlineSchema = &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"outline": {Type: "array", Items: &llm.Schema{
				Type: "object",
				Properties: map[string]*llm.Schema{
					"id":        {Type: "string"},
					"title":     {Type: "string"},
					"blurb":     {Type: "string"},
					"word_goal": {Type: "integer"},
				},
				Required: []string{"id", "title"},
			}},
		},
		Required: []string{"outline"},
	}
	sectionsSchema = &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"sections": {Type: "array", Items: &llm.Schema{
				Type: "object",
				Properties: map[string]*llm.Schema{
					"id":            {Type: "string"},
					"title":         {Type: "string"},
					"bodyHtml":      {Type: "string"},
					"key_takeaways": {Type: "array", Items: &llm.Schema{Type: "string"}},
				},
				Required: []string{"id", "title", "bodyHtml"},
			}},
		},
		Required: []string{"sections"},
	}
	ctaSchema = &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"ctas": {Type: "array", Items: &llm.Schema{
				Type: "object",
				Properties: map[string]*llm.Schema{
					"title": {Type: "string"},
					"text":  {Type: "string"},
					"url":   {Type: "string"},
				},
				Required: []string{"title", "text", "url"},
			}},
		},
		Required: []string{"ctas"},
	}
)

// ClampSections bounds a requested section count; zero means the default.
func ClampSections(n int) int {
	if n == 0 {
		n = defaultSections
	}
	return max(minSections, min(n, maxSections))
}

// BuildOutline asks the model for an outline of at most sections entries.
func (w *Writer) BuildOutline(ctx context.Context, topic string, sections int) ([]OutlineEntry, error) {
	limit := ClampSections(sections)
	prompt := strings.Join([]string{
		fmt.Sprintf(`You are an editor. Create an outline for a weekly newsletter on "%s".`, topic),
		`Return ONLY JSON: {"outline": [{ id, title, blurb, word_goal }]}.`,
		`3–6 sections recommended; blurb is one sentence.`,
	}, "\n")
	var raw json.RawMessage
	if err := llm.GenerateStructured(ctx, w.Model, "", prompt, outlineSchema, w.StructuredTemperature, &raw); err != nil {
		return nil, fmt.Errorf("build outline: %w", err)
	}
	out, err := decodeList[OutlineEntry](raw, "outline")
	if err != nil {
		return nil, fmt.Errorf("build outline: structured output: %w", err)
	}
	if len(out) < minSections {
		return nil, fmt.Errorf("build outline: %w", ErrOutlineTooShort)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ComposeSections writes a section per outline entry using summaries as facts.
// Section bodies are sanitized before they are returned.
func (w *Writer) ComposeSections(ctx context.Context, outline []OutlineEntry, summaries []Summary, tone string) ([]Section, error) {
	if tone == "" {
		tone = DefaultTone
	}
	input, err := json.Marshal(map[string]any{"outline": outline, "summaries": summaries})
	if err != nil {
		return nil, fmt.Errorf("compose sections: %w", err)
	}
	prompt := strings.Join([]string{
		"Write newsletter sections using the outline titles.",
		"Use the provided summaries as factual context; do not fabricate URLs or dates.",
		fmt.Sprintf("Tone: %s.", tone),
		`Return ONLY JSON: {"sections": [{ id, title, bodyHtml, key_takeaways: [string] }]}.`,
		"",
		"Input:",
		string(input),
	}, "\n")
	var raw json.RawMessage
	if err := llm.GenerateStructured(ctx, w.Model, "", prompt, sectionsSchema, w.StructuredTemperature, &raw); err != nil {
		return nil, fmt.Errorf("compose sections: %w", err)
	}
	out, err := decodeList[Section](raw, "sections")
	if err != nil {
		return nil, fmt.Errorf("compose sections: structured output: %w", err)
	}
	sections := make([]Section, 0, len(out))
	for _, s := range out {
		s.BodyHTML = helpers.SanitizeSection(s.BodyHTML)
		if s.BodyHTML == "" {
			continue
		}
		if s.KeyTakeaways == nil {
			s.KeyTakeaways = []string{}
		}
		sections = append(sections, s)
	}
	if len(sections) == 0 {
		return nil, errors.New("compose sections: model returned no usable sections")
	}
	return sections, nil
}

// PickCTAs suggests up to two calls to action. Entries without a valid
// http(s) URL are dropped.
func (w *Writer) PickCTAs(ctx context.Context, topic string) ([]CTA, error) {
	prompt := strings.Join([]string{
		fmt.Sprintf(`Suggest up to 2 CTAs relevant to "%s".`, topic),
		`Return ONLY JSON: {"ctas": [{ title, text, url }]}.`,
	}, "\n")
	var raw json.RawMessage
	if err := llm.GenerateStructured(ctx, w.Model, "", prompt, ctaSchema, w.StructuredTemperature, &raw); err != nil {
		return nil, fmt.Errorf("pick ctas: %w", err)
	}
	out, err := decodeList[CTA](raw, "ctas")
	if err != nil {
		return nil, fmt.Errorf("pick ctas: structured output: %w", err)
	}
	ctas := make([]CTA, 0, maxCTAs)
	for _, c := range out {
		if !helpers.IsLink(c.URL) {
			continue
		}
		ctas = append(ctas, c)
		if len(ctas) == maxCTAs {
			break
		}
	}
	return ctas, nil
}

// RewriteTone rewrites html to match tone, keeping markup and links.
func (w *Writer) RewriteTone(ctx context.Context, html, tone string) (string, error) {
	prompt := fmt.Sprintf("Rewrite the following HTML to match tone %q. Preserve tags and links. Output HTML only.\n\n%s", tone, html)
	out, err := llm.GenerateString(ctx, w.Model, "", prompt, 0.2)
	if err != nil {
		return "", fmt.Errorf("rewrite tone: %w", err)
	}
	return out, nil
}

// WriteNewsletter drafts a whole newsletter from prompt and returns the HTML
// document found in the reply.
func (w *Writer) WriteNewsletter(ctx context.Context, prompt string) (string, int, error) {
	resp, err := w.Model.Chat(ctx, llm.ChatRequest{
		System:      newsletterSystem,
		Messages:    []llm.Message{{Role: llm.RoleUser, Text: prompt}},
		Temperature: w.Temperature,
	})
	if err != nil {
		return "", 0, fmt.Errorf("write newsletter: %w", err)
	}
	return helpers.ExtractHTMLDocument(resp.Text), len(resp.Text), nil
}

// decodeList reads a JSON array, the array under key, or failing that the
// array-valued field with the smallest name, since models do not always keep
// the wrapper key.
func decodeList[T any](b []byte, key string) ([]T, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var items []T
		err := json.Unmarshal(b, &items)
		return items, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	if v, ok := obj[key]; ok && isArray(v) {
		var items []T
		err := json.Unmarshal(v, &items)
		return items, err
	}
	names := make([]string, 0, len(obj))
	for k, v := range obj {
		if isArray(v) {
			names = append(names, k)
		}
	}
	if len(names) == 0 {
		return nil, errors.New("structured output holds no list")
	}
	sort.Strings(names)
	var items []T
	err := json.Unmarshal(obj[names[0]], &items)
	return items, err
}

func isArray(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '['
}
