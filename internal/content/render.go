package content

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/mohammad-safakhou/newsletter-agent/internal/helpers"
)

// DefaultIntro opens a newsletter rendered without an explicit intro.
const DefaultIntro = "Here's what's new this week."

//go:embed templates/email.html.tmpl
var templateFS embed.FS

var emailTemplate = template.Must(template.ParseFS(templateFS, "templates/email.html.tmpl"))

// Renderer turns an EmailInput into a complete HTML document.
type Renderer struct {
	footer  FooterStore
	presets Presets
	md      goldmark.Markdown
}

// NewRenderer builds a renderer. A nil footer store uses the defaults.
func NewRenderer(footer FooterStore, presets Presets) *Renderer {
	if footer == nil {
		footer = NewMemoryFooterStore()
	}
	if presets == nil {
		presets = LoadPresets()
	}
	return &Renderer{footer: footer, presets: presets, md: goldmark.New()}
}

type emailView struct {
	Title    string
	Intro    string
	Notes    template.HTML
	Features []string
	Links    []string
	Items    []itemView
	CTAs     []CTA
	Footer   template.HTML
	Theme    *ThemeColors
}

type itemView struct {
	Title     string
	Summary   string
	URL       string
	Published string
	Body      template.HTML
	Takeaways []string
}

// Render produces the newsletter HTML.
func (r *Renderer) Render(ctx context.Context, in EmailInput) (string, error) {
	footer, err := r.footer.Footer(ctx)
	if err != nil {
		return "", fmt.Errorf("load footer: %w", err)
	}
	view := emailView{
		Title:    in.Title,
		Intro:    enhancedIntro(in),
		Features: nonEmpty(in.Features),
		Links:    helpers.UniqueLinks(in.Links),
		CTAs:     in.CTAs,
		Footer:   template.HTML(RenderFooter(footer)),
	}
	if strings.TrimSpace(in.Content) != "" {
		var buf bytes.Buffer
		if err := r.md.Convert([]byte(in.Content), &buf); err != nil {
			return "", fmt.Errorf("render notes: %w", err)
		}
		view.Notes = template.HTML(helpers.SanitizeSection(buf.String()))
	}
	if in.Preset != "" {
		colors := r.presets.Lookup(in.Preset).Colors
		view.Theme = &colors
	}
	for _, it := range in.Items {
		iv := itemView{Title: it.Title}
		if it.IsSection() {
			iv.Body = template.HTML(helpers.SanitizeSection(it.BodyHTML))
			iv.Takeaways = nonEmpty(it.KeyTakeaways)
		} else {
			iv.Summary = it.Summary
			iv.URL = it.URL
			iv.Published = it.Published
		}
		view.Items = append(view.Items, iv)
	}

	var out bytes.Buffer
	if err := emailTemplate.Execute(&out, view); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return out.String(), nil
}

// enhancedIntro appends the descriptive request fields to the intro line.
func enhancedIntro(in EmailInput) string {
	intro := in.Intro
	if intro == "" {
		intro = DefaultIntro
	}
	if in.NewsletterType != "" {
		intro += " This " + in.NewsletterType + " newsletter"
	}
	if in.Location != "" {
		intro += " focuses on " + in.Location
	}
	if in.Tone != "" {
		intro += " with a " + in.Tone + " tone"
	}
	if in.KeyDetails != "" {
		intro += ". Key highlights: " + in.KeyDetails
	}
	return intro
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
