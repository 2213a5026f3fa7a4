package helpers

import (
	"strings"
	"testing"
)

func TestSanitizeSectionRemovesScripts(t *testing.T) {
	input := `<p onclick="evil()">Hi <strong>there</strong> <a href="javascript:alert(1)">click</a></p><script>alert(1)</script>`
	got := SanitizeSection(input)
	want := `<p>Hi <strong>there</strong> click</p>`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSanitizeSectionKeepsLinks(t *testing.T) {
	got := SanitizeSection(`<ul><li><a href="https://example.com/a">A</a></li></ul>`)
	if !strings.Contains(got, `href="https://example.com/a"`) || !strings.Contains(got, "<li>") {
		t.Fatalf("expected list with link, got %q", got)
	}
}

func TestPlainText(t *testing.T) {
	if got := PlainText(`  <h1>Title</h1><script>x()</script> `); got != "Title" {
		t.Fatalf("unexpected plain text %q", got)
	}
	if PlainText("   ") != "" {
		t.Fatalf("blank input should stay blank")
	}
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"bare":    {`{"a":1}`, `{"a":1}`},
		"fenced":  {"```json\n{\"items\":[1,2]}\n```", `{"items":[1,2]}`},
		"prose":   {`Sure! Here it is: [{"t":"x}"}] hope that helps`, `[{"t":"x}"}]`},
		"escaped": {`{"q":"say \"hi\" {"}`, `{"q":"say \"hi\" {"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ExtractJSON(tc.in)
			if err != nil {
				t.Fatalf("ExtractJSON: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
	if _, err := ExtractJSON("no json here"); err != ErrNoJSON {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
	if _, err := ExtractJSON(`{"a": [1, 2}`); err == nil {
		t.Fatalf("mismatched brackets should fail")
	}
}

func TestExtractHTMLDocument(t *testing.T) {
	doc := "<!DOCTYPE html><html><body>x</body></html>"
	if got := ExtractHTMLDocument("Here you go:\n" + doc + "\nEnjoy"); got != doc {
		t.Fatalf("doctype extraction failed: %q", got)
	}
	bare := "<html><body>y</body></html>"
	if got := ExtractHTMLDocument("```html\n" + bare + "\n```"); got != bare {
		t.Fatalf("html extraction failed: %q", got)
	}
	if got := ExtractHTMLDocument("  just text  "); got != "just text" {
		t.Fatalf("raw fallback failed: %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	if got := TruncateRunes("hello world", 7); got != "hello…" {
		t.Fatalf("unexpected %q", got)
	}
	if got := TruncateRunes("ééééé", 3); got != "éé…" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestLinks(t *testing.T) {
	if !IsLink("https://example.com/x") || IsLink("ftp://example.com") || IsLink("not a url") {
		t.Fatalf("IsLink misclassified input")
	}
	a := LinkKey("https://Example.com/post/?utm_source=x&b=2&a=1#top")
	b := LinkKey("https://example.com/post?a=1&b=2")
	if a == "" || a != b {
		t.Fatalf("expected equal keys, got %q and %q", a, b)
	}
	got := UniqueLinks([]string{"https://a.dev", " https://a.dev/ ", "bogus", "https://b.dev"})
	if len(got) != 2 || got[0] != "https://a.dev" || got[1] != "https://b.dev" {
		t.Fatalf("unexpected unique links %v", got)
	}
	if parts := SplitList("a, b\n c,,"); len(parts) != 3 || parts[2] != "c" {
		t.Fatalf("unexpected split %v", parts)
	}
}
