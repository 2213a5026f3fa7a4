package content

import (
	"context"
	"html"
	"strings"
	"sync"
)

const defaultFooterStyle = "color:#666;font-size:12px;line-height:1.4;"

// FooterSettings describe the newsletter footer. CustomHTML, when set, is
// used verbatim instead of the generated markup.
type FooterSettings struct {
	OrgName        string `json:"orgName"`
	AddressLine1   string `json:"addressLine1,omitempty"`
	AddressLine2   string `json:"addressLine2,omitempty"`
	UnsubscribeURL string `json:"unsubscribeUrl,omitempty"`
	WebsiteURL     string `json:"websiteUrl,omitempty"`
	TwitterURL     string `json:"twitterUrl,omitempty"`
	LinkedinURL    string `json:"linkedinUrl,omitempty"`
	Style          string `json:"style,omitempty"`
	CustomHTML     string `json:"customHtml,omitempty"`
}

// DefaultFooter returns the stock footer.
func DefaultFooter() FooterSettings {
	return FooterSettings{
		OrgName:        "Acme Publishing Co.",
		AddressLine1:   "123 Market Street",
		AddressLine2:   "San Francisco, CA 94105",
		UnsubscribeURL: "https://example.com/unsubscribe",
		WebsiteURL:     "https://example.com",
		TwitterURL:     "https://twitter.com/example",
		LinkedinURL:    "https://linkedin.com/company/example",
		Style:          defaultFooterStyle,
	}
}

// FooterPatch is a partial update. Nil fields are left unchanged; Reset
// restores the defaults and ignores every other field.
type FooterPatch struct {
	Reset          bool    `json:"reset,omitempty"`
	OrgName        *string `json:"orgName,omitempty"`
	AddressLine1   *string `json:"addressLine1,omitempty"`
	AddressLine2   *string `json:"addressLine2,omitempty"`
	UnsubscribeURL *string `json:"unsubscribeUrl,omitempty"`
	WebsiteURL     *string `json:"websiteUrl,omitempty"`
	TwitterURL     *string `json:"twitterUrl,omitempty"`
	LinkedinURL    *string `json:"linkedinUrl,omitempty"`
	Style          *string `json:"style,omitempty"`
	CustomHTML     *string `json:"customHtml,omitempty"`
}

// Apply returns s with the patch applied.
func (p FooterPatch) Apply(s FooterSettings) FooterSettings {
	if p.Reset {
		return DefaultFooter()
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&s.OrgName, p.OrgName)
	set(&s.AddressLine1, p.AddressLine1)
	set(&s.AddressLine2, p.AddressLine2)
	set(&s.UnsubscribeURL, p.UnsubscribeURL)
	set(&s.WebsiteURL, p.WebsiteURL)
	set(&s.TwitterURL, p.TwitterURL)
	set(&s.LinkedinURL, p.LinkedinURL)
	set(&s.Style, p.Style)
	set(&s.CustomHTML, p.CustomHTML)
	return s
}

// FooterStore persists footer settings.
type FooterStore interface {
	Footer(ctx context.Context) (FooterSettings, error)
	SaveFooter(ctx context.Context, s FooterSettings) error
}

// MemoryFooterStore keeps settings in process memory.
type MemoryFooterStore struct {
	mu sync.RWMutex
	s  FooterSettings
}

func NewMemoryFooterStore() *MemoryFooterStore {
	return &MemoryFooterStore{s: DefaultFooter()}
}

func (m *MemoryFooterStore) Footer(context.Context) (FooterSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s, nil
}

func (m *MemoryFooterStore) SaveFooter(_ context.Context, s FooterSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}

// UpdateFooter reads the current settings, applies p and saves the result.
func UpdateFooter(ctx context.Context, store FooterStore, p FooterPatch) (FooterSettings, error) {
	cur, err := store.Footer(ctx)
	if err != nil {
		return FooterSettings{}, err
	}
	next := p.Apply(cur)
	if err := store.SaveFooter(ctx, next); err != nil {
		return FooterSettings{}, err
	}
	return next, nil
}

// RenderFooter produces the footer markup for s.
func RenderFooter(s FooterSettings) string {
	if s.CustomHTML != "" {
		return s.CustomHTML
	}
	esc := html.EscapeString
	lines := []string{"<strong>" + esc(s.OrgName) + "</strong>"}
	if s.AddressLine1 != "" {
		lines = append(lines, esc(s.AddressLine1))
	}
	if s.AddressLine2 != "" {
		lines = append(lines, esc(s.AddressLine2))
	}
	var links []string
	for _, l := range []struct{ url, label string }{
		{s.WebsiteURL, "Website"},
		{s.TwitterURL, "Twitter"},
		{s.LinkedinURL, "LinkedIn"},
	} {
		if l.url != "" {
			links = append(links, `<a href="`+esc(l.url)+`" target="_blank">`+l.label+`</a>`)
		}
	}
	style := s.Style
	if style == "" {
		style = defaultFooterStyle
	}
	var b strings.Builder
	b.WriteString("\n  <hr/>\n  <footer style=\"margin-top:16px;" + esc(style) + "\">\n")
	b.WriteString("    <div>" + strings.Join(lines, "<br/>") + "</div>\n")
	if len(links) > 0 {
		b.WriteString(`    <div style="margin-top:6px;">` + strings.Join(links, " · ") + "</div>\n")
	}
	if s.UnsubscribeURL != "" {
		b.WriteString(`    <div style="margin-top:6px;font-size:12px;">You can <a href="` + esc(s.UnsubscribeURL) + `" target="_blank">unsubscribe here</a>.</div>` + "\n")
	}
	b.WriteString("  </footer>")
	return b.String()
}
