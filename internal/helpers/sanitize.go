package helpers

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	plainOnce   sync.Once
	plainPolicy *bluemonday.Policy

	sectionOnce   sync.Once
	sectionPolicy *bluemonday.Policy
)

// PlainTextPolicy strips every element and attribute.
func PlainTextPolicy() *bluemonday.Policy {
	plainOnce.Do(func() {
		plainPolicy = bluemonday.StrictPolicy()
	})
	return plainPolicy
}

// SectionPolicy allows the markup a model-written newsletter section may carry:
// paragraphs, emphasis, lists, headings, quotes and http(s)/mailto links.
func SectionPolicy() *bluemonday.Policy {
	sectionOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowElements("figure", "figcaption", "section")
		p.AllowAttrs("style").OnElements("p", "span", "div")
		p.AllowStyles("color", "font-weight", "font-style", "text-align").Globally()
		p.AllowURLSchemes("http", "https", "mailto")
		p.RequireParseableURLs(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)
		sectionPolicy = p
	})
	return sectionPolicy
}

// PlainText removes all markup from s and trims the result.
func PlainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(PlainTextPolicy().Sanitize(s))
}

// SanitizeSection cleans an HTML fragment with SectionPolicy.
func SanitizeSection(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(SectionPolicy().Sanitize(s))
}
