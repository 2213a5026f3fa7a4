package content

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRendererSummaries(t *testing.T) {
	r := NewRenderer(nil, nil)
	html, err := r.Render(context.Background(), EmailInput{
		Title: "Weekly Dev Digest",
		Items: SummaryItems([]Summary{{Title: "Kong", URL: "https://example.com/kong", Summary: "Gateways.", Published: "2025-10-13"}}),
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{
		"<!doctype html>",
		"<h1",
		"Weekly Dev Digest",
		"Here&#39;s what&#39;s new this week.",
		`href="https://example.com/kong"`,
		"Read more →",
		"Published: 2025-10-13",
		"Acme Publishing Co.",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered html missing %q:\n%s", want, html)
		}
	}
}

func TestRendererSections(t *testing.T) {
	r := NewRenderer(nil, nil)
	html, err := r.Render(context.Background(), EmailInput{
		Title: "T",
		Intro: "Hello",
		Items: SectionItems([]Section{{
			ID:           "s1",
			Title:        "Gateways",
			BodyHTML:     `<p>Use a gateway.</p><script>alert(1)</script>`,
			KeyTakeaways: []string{"rate limits", " "},
		}}),
		CTAs: []CTA{{Title: "Try it", Text: "Install Kong", URL: "https://konghq.com"}},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(html, "<h2") || !strings.Contains(html, "<p>Use a gateway.</p>") {
		t.Fatalf("section body not rendered:\n%s", html)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("section body was not sanitized")
	}
	if strings.Count(html, "<li>") != 1 || !strings.Contains(html, "<li>rate limits</li>") {
		t.Fatalf("blank takeaways should be skipped:\n%s", html)
	}
	if strings.Contains(html, "Read more") {
		t.Fatalf("sections must not render as summaries")
	}
	if !strings.Contains(html, "Keep going") || !strings.Contains(html, `href="https://konghq.com"`) {
		t.Fatalf("CTAs missing:\n%s", html)
	}
}

func TestRendererDescriptiveFields(t *testing.T) {
	r := NewRenderer(nil, nil)
	html, err := r.Render(context.Background(), EmailInput{
		Title:          "T",
		Intro:          "Hi.",
		NewsletterType: "weekly",
		Location:       "Riverside",
		Tone:           "casual",
		KeyDetails:     "free pizza",
		Features:       []string{"events", ""},
		Links:          []string{"https://a.example.com/x?utm_source=n", "https://a.example.com/x", "not a link"},
		Content:        "**Bold** notes",
		Preset:         "ocean",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{
		"Hi. This weekly newsletter focuses on Riverside with a casual tone. Key highlights: free pizza",
		"Content Features",
		"<li>events</li>",
		"Related Links",
		"<strong>Bold</strong> notes",
		"#0891b2",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered html missing %q:\n%s", want, html)
		}
	}
	if strings.Count(html, "a.example.com/x") != 2 {
		t.Fatalf("duplicate links should collapse to one entry:\n%s", html)
	}
	if strings.Contains(html, "not a link") {
		t.Fatalf("invalid link rendered")
	}
}

func TestRendererCustomFooter(t *testing.T) {
	store := NewMemoryFooterStore()
	custom := `<footer id="mine">Custom</footer>`
	if _, err := UpdateFooter(context.Background(), store, FooterPatch{CustomHTML: &custom}); err != nil {
		t.Fatalf("UpdateFooter: %v", err)
	}
	html, err := NewRenderer(store, nil).Render(context.Background(), EmailInput{Title: "T"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(html, custom) || strings.Contains(html, "Acme Publishing Co.") {
		t.Fatalf("custom footer not used verbatim:\n%s", html)
	}
}

type brokenFooter struct{}

func (brokenFooter) Footer(context.Context) (FooterSettings, error) {
	return FooterSettings{}, errors.New("redis down")
}
func (brokenFooter) SaveFooter(context.Context, FooterSettings) error { return nil }

func TestRendererFooterError(t *testing.T) {
	if _, err := NewRenderer(brokenFooter{}, nil).Render(context.Background(), EmailInput{Title: "T"}); err == nil {
		t.Fatalf("expected footer load error")
	}
}

func TestFooterPatch(t *testing.T) {
	org := "Dev Club"
	empty := ""
	s := FooterPatch{OrgName: &org, TwitterURL: &empty}.Apply(DefaultFooter())
	if s.OrgName != "Dev Club" || s.TwitterURL != "" || s.WebsiteURL != "https://example.com" {
		t.Fatalf("patch applied wrongly: %+v", s)
	}
	out := RenderFooter(s)
	if strings.Contains(out, "Twitter") || !strings.Contains(out, "<strong>Dev Club</strong>") {
		t.Fatalf("footer markup: %s", out)
	}
	if reset := (FooterPatch{Reset: true, OrgName: &org}).Apply(s); reset != DefaultFooter() {
		t.Fatalf("reset should restore defaults, got %+v", reset)
	}
}

func TestRenderFooterEscapes(t *testing.T) {
	s := DefaultFooter()
	s.OrgName = "<b>A&B</b>"
	if out := RenderFooter(s); !strings.Contains(out, "&lt;b&gt;A&amp;B&lt;/b&gt;") {
		t.Fatalf("org name not escaped: %s", out)
	}
}
