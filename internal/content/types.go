// Package content holds the newsletter building blocks the agent's tools
// delegate to: source lookup, summarizing, model-backed writing and the
// HTML renderer.
package content

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexID is an identifier that may arrive as a JSON string or number.
type FlexID string

func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = FlexID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers and everything else as strings.
func (id FlexID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Item is a source post.
type Item struct {
	ID        FlexID `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Published string `json:"published"`
	Content   string `json:"content"`
}

// Summary is a short blurb derived from an Item.
type Summary struct {
	ID        FlexID `json:"id,omitempty"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Summary   string `json:"summary"`
	Published string `json:"published"`
}

type OutlineEntry struct {
	ID       FlexID `json:"id"`
	Title    string `json:"title"`
	Blurb    string `json:"blurb,omitempty"`
	WordGoal int    `json:"word_goal,omitempty"`
}

type Section struct {
	ID           FlexID   `json:"id"`
	Title        string   `json:"title"`
	BodyHTML     string   `json:"bodyHtml"`
	KeyTakeaways []string `json:"key_takeaways"`
}

// CTA is a call to action link.
type CTA struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

// RenderItem is either a summary or a composed section. A non-empty BodyHTML
// marks a section.
type RenderItem struct {
	ID           FlexID   `json:"id,omitempty"`
	Title        string   `json:"title"`
	URL          string   `json:"url,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Published    string   `json:"published,omitempty"`
	BodyHTML     string   `json:"bodyHtml,omitempty"`
	KeyTakeaways []string `json:"key_takeaways,omitempty"`
}

// IsSection reports whether the item renders as a section.
func (r RenderItem) IsSection() bool { return r.BodyHTML != "" }

// SummaryItems converts summaries into render items.
func SummaryItems(in []Summary) []RenderItem {
	out := make([]RenderItem, len(in))
	for i, s := range in {
		out[i] = RenderItem{ID: s.ID, Title: s.Title, URL: s.URL, Summary: s.Summary, Published: s.Published}
	}
	return out
}

// SectionItems converts composed sections into render items.
func SectionItems(in []Section) []RenderItem {
	out := make([]RenderItem, len(in))
	for i, s := range in {
		out[i] = RenderItem{ID: s.ID, Title: s.Title, BodyHTML: s.BodyHTML, KeyTakeaways: s.KeyTakeaways}
	}
	return out
}

// EmailInput is everything the renderer needs for one newsletter.
type EmailInput struct {
	Title          string       `json:"title"`
	Intro          string       `json:"intro,omitempty"`
	NewsletterType string       `json:"newsletter_type,omitempty"`
	Features       []string     `json:"features,omitempty"`
	Links          []string     `json:"links,omitempty"`
	Location       string       `json:"location,omitempty"`
	Content        string       `json:"content,omitempty"`
	KeyDetails     string       `json:"key_details,omitempty"`
	Tone           string       `json:"tone,omitempty"`
	Sections       int          `json:"sections,omitempty"`
	Preset         string       `json:"preset,omitempty"`
	Items          []RenderItem `json:"items"`
	CTAs           []CTA        `json:"ctas,omitempty"`
}
