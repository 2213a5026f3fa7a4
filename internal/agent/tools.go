package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/newsletter-agent/internal/content"
	"github.com/mohammad-safakhou/newsletter-agent/internal/llm"
	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
)

var tracer = otel.Tracer("github.com/mohammad-safakhou/newsletter-agent/internal/agent")

// ErrUnknownTool is returned when the model names a tool that does not exist.
var ErrUnknownTool = errors.New("unknown tool")

// ToolKind is the closed set of tools offered to the planner.
type ToolKind int

const (
	ToolFetchSources ToolKind = iota
	ToolSummarize
	ToolBuildOutline
	ToolComposeSections
	ToolPickCTAs
	ToolRewriteTone
	ToolWriteNewsletter
	ToolGenerateEmail
	toolCount
)

var toolNames = [toolCount]string{
	"fetch_sources",
	"summarize",
	"build_outline",
	"compose_sections",
	"pick_ctas",
	"rewrite_tone",
	"write_newsletter",
	"generate_email",
}

func (k ToolKind) String() string {
	if k < 0 || k >= toolCount {
		return fmt.Sprintf("tool(%d)", int(k))
	}
	return toolNames[k]
}

// ParseToolKind maps a model-facing tool name to its kind.
func ParseToolKind(name string) (ToolKind, bool) {
	for i, n := range toolNames {
		if n == name {
			return ToolKind(i), true
		}
	}
	return 0, false
}

type FetchSourcesInput struct {
	Topic     *string `json:"topic,omitempty"`
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
}

type FetchSourcesOutput struct {
	Items []content.Item `json:"items"`
}

type SummarizeInput struct {
	Items    []content.Item `json:"items"`
	MaxChars int            `json:"max_chars,omitempty"`
}

type SummarizeOutput struct {
	Summaries []content.Summary `json:"summaries"`
}

type BuildOutlineInput struct {
	Topic    *string `json:"topic,omitempty"`
	Sections *int    `json:"sections,omitempty"`
}

type BuildOutlineOutput struct {
	Outline []content.OutlineEntry `json:"outline"`
}

type ComposeSectionsInput struct {
	Outline   []content.OutlineEntry `json:"outline"`
	Summaries []content.Summary      `json:"summaries"`
	Tone      Tone                   `json:"tone,omitempty"`
}

type ComposeSectionsOutput struct {
	Sections []content.Section `json:"sections"`
}

type PickCTAsInput struct {
	Topic *string `json:"topic,omitempty"`
}

type PickCTAsOutput struct {
	CTAs []content.CTA `json:"ctas"`
}

type RewriteToneInput struct {
	HTML string `json:"html"`
	Tone string `json:"tone"`
}

// Brief carries the descriptive fields of the HTML-producing tools. Absent
// fields fall back to the request.
type Brief struct {
	Title          *string  `json:"title,omitempty"`
	Intro          *string  `json:"intro,omitempty"`
	NewsletterType *string  `json:"newsletter_type,omitempty"`
	Features       []string `json:"features,omitempty"`
	Links          []string `json:"links,omitempty"`
	Location       *string  `json:"location,omitempty"`
	Content        *string  `json:"content,omitempty"`
	KeyDetails     *string  `json:"key_details,omitempty"`
	Tone           Tone     `json:"tone,omitempty"`
	Sections       *int     `json:"sections,omitempty"`
	Preset         *string  `json:"preset,omitempty"`
}

type WriteNewsletterInput struct {
	Brief
	Topic       *string `json:"topic,omitempty"`
	ArticleHTML *string `json:"article_html,omitempty"`
	ArticleURL  *string `json:"article_url,omitempty"`
	StartDate   *string `json:"start_date,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
}

type GenerateEmailInput struct {
	Brief
	Items []content.RenderItem `json:"items"`
	CTAs  []content.CTA        `json:"ctas,omitempty"`
}

// HTMLOutput is returned by write_newsletter, generate_email and rewrite_tone.
type HTMLOutput struct {
	HTML string `json:"html"`
}

// Deps are the collaborators the tools delegate to.
type Deps struct {
	Source     content.Source
	Summarizer content.Summarizer
	Writer     *content.Writer
	Renderer   *content.Renderer
	// Articles is optional; without it article_url only appears in prompts.
	Articles        content.ArticleFetcher
	ArticleMaxChars int
}

type toolDef struct {
	description string
	params      *llm.Schema
	call        func(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry binds every tool to one request. Arguments the model leaves out
// are taken from the request.
type Registry struct {
	req     *Request
	deps    Deps
	log     *reqlog.Logger
	metrics *Metrics
	tools   [toolCount]toolDef

	mu       sync.Mutex
	articles map[string]string
}

func NewRegistry(req *Request, deps Deps, log *reqlog.Logger, metrics *Metrics) *Registry {
	r := &Registry{req: req, deps: deps, log: log, metrics: metrics, articles: map[string]string{}}
	r.tools = [toolCount]toolDef{
		ToolFetchSources: {
			description: "Fetch recent content for a topic within a date range.",
			params: object(nil, map[string]*llm.Schema{
				"topic":      str("Topic keywords; defaults to the request topic"),
				"start_date": str("YYYY-MM-DD"),
				"end_date":   str("YYYY-MM-DD"),
			}),
			call: bind(r, ToolFetchSources, r.FetchSources),
		},
		ToolSummarize: {
			description: "Summarize a list of items into short blurbs.",
			params: object([]string{"items"}, map[string]*llm.Schema{
				"items":     {Type: "array", Items: itemSchema},
				"max_chars": {Type: "integer"},
			}),
			call: bind(r, ToolSummarize, r.Summarize),
		},
		ToolBuildOutline: {
			description: "Create an outline for the newsletter. Returns { outline }.",
			params: object(nil, map[string]*llm.Schema{
				"topic":    str(""),
				"sections": sectionsSchema,
			}),
			call: bind(r, ToolBuildOutline, r.BuildOutline),
		},
		ToolComposeSections: {
			description: "Compose full sections from outline + factual summaries. Returns { sections }.",
			params: object([]string{"outline", "summaries"}, map[string]*llm.Schema{
				"outline":   {Type: "array", Items: outlineSchema},
				"summaries": {Type: "array", Items: summarySchema},
				"tone":      str("Comma separated tone descriptors"),
			}),
			call: bind(r, ToolComposeSections, r.ComposeSections),
		},
		ToolPickCTAs: {
			description: "Suggest up to two CTAs. Returns { ctas }.",
			params:      object(nil, map[string]*llm.Schema{"topic": str("")}),
			call:        bind(r, ToolPickCTAs, r.PickCTAs),
		},
		ToolRewriteTone: {
			description: "Rewrite final HTML to a desired tone. Returns { html }.",
			params: object([]string{"html", "tone"}, map[string]*llm.Schema{
				"html": str(""),
				"tone": str(""),
			}),
			call: bind(r, ToolRewriteTone, r.RewriteTone),
		},
		ToolWriteNewsletter: {
			description: "Write a complete HTML newsletter",
			params: object(nil, briefProps(map[string]*llm.Schema{
				"topic":        str(""),
				"article_html": str(""),
				"article_url":  str(""),
				"start_date":   str("YYYY-MM-DD"),
				"end_date":     str("YYYY-MM-DD"),
			})),
			call: bind(r, ToolWriteNewsletter, r.WriteNewsletter),
		},
		ToolGenerateEmail: {
			description: "Render HTML email from items",
			params: object([]string{"items"}, briefProps(map[string]*llm.Schema{
				"items": {Type: "array", Items: renderItemSchema},
				"ctas":  {Type: "array", Items: ctaSchema},
			})),
			call: bind(r, ToolGenerateEmail, r.GenerateEmail),
		},
	}
	return r
}

// Specs lists the tools in the form the model sees them.
func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, toolCount)
	for k := ToolKind(0); k < toolCount; k++ {
		t := r.tools[k]
		out = append(out, llm.ToolSpec{Name: k.String(), Description: t.description, Parameters: t.params})
	}
	return out
}

// Handle dispatches a model tool call. It satisfies llm.ToolHandler.
func (r *Registry) Handle(ctx context.Context, call llm.ToolCall) (any, error) {
	kind, ok := ParseToolKind(call.Name)
	if !ok {
		r.log.Warn("tool:unknown", map[string]any{"name": call.Name})
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	return r.tools[kind].call(ctx, call.Args)
}

// bind decodes raw model arguments into In before running the tool.
func bind[In, Out any](r *Registry, kind ToolKind, run func(context.Context, In) (Out, error)) func(context.Context, json.RawMessage) (any, error) {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var in In
		if trimmed := bytes.TrimSpace(args); len(trimmed) > 0 && string(trimmed) != "null" {
			if err := json.Unmarshal(trimmed, &in); err != nil {
				r.log.Warn("tool:bad-args:"+kind.String(), map[string]any{"error": err.Error(), "args": string(trimmed)})
				return nil, fmt.Errorf("%s: invalid arguments: %w", kind, err)
			}
		}
		return run(ctx, in)
	}
}

// invoke runs exec inside a span, reporting the call and its outcome to the
// request log and metrics.
func invoke[Out any](ctx context.Context, r *Registry, kind ToolKind, input any, exec func(context.Context) (Out, error)) (Out, error) {
	name := kind.String()
	ctx, span := tracer.Start(ctx, "tool."+name, trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("request.id", r.log.ID()),
	))
	defer span.End()

	start := time.Now()
	callID := r.log.ToolCall(name, input)
	out, err := exec(ctx)
	ms := time.Since(start).Milliseconds()
	if err != nil {
		r.log.ToolError(name, err, callID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.tool(name, "error", ms)
		return out, err
	}
	r.log.ToolResult(name, loggedOutput(out), callID, true)
	r.metrics.tool(name, "ok", ms)
	return out, nil
}

// loggedOutput shortens HTML payloads to their length.
func loggedOutput(v any) any {
	if h, ok := v.(HTMLOutput); ok {
		return map[string]any{"html_len": len(h.HTML)}
	}
	return v
}

func or[T any](p *T, def T) T {
	if p != nil {
		return *p
	}
	return def
}

func checkSections(n *int) error {
	if n != nil && (*n < 2 || *n > 8) {
		return fmt.Errorf("sections must be between 2 and 8, got %d", *n)
	}
	return nil
}

func (r *Registry) FetchSources(ctx context.Context, in FetchSourcesInput) (FetchSourcesOutput, error) {
	q := content.FetchQuery{
		Topic:     or(in.Topic, r.req.Topic),
		StartDate: or(in.StartDate, r.req.StartDate),
		EndDate:   or(in.EndDate, r.req.EndDate),
	}
	return invoke(ctx, r, ToolFetchSources, q, func(ctx context.Context) (FetchSourcesOutput, error) {
		items, err := r.deps.Source.Fetch(ctx, q)
		if err != nil {
			return FetchSourcesOutput{}, err
		}
		if items == nil {
			items = []content.Item{}
		}
		return FetchSourcesOutput{Items: items}, nil
	})
}

func (r *Registry) Summarize(ctx context.Context, in SummarizeInput) (SummarizeOutput, error) {
	return invoke(ctx, r, ToolSummarize, in, func(ctx context.Context) (SummarizeOutput, error) {
		sums, err := r.deps.Summarizer.Summarize(ctx, in.Items, in.MaxChars)
		if err != nil {
			return SummarizeOutput{}, err
		}
		if sums == nil {
			sums = []content.Summary{}
		}
		return SummarizeOutput{Summaries: sums}, nil
	})
}

func (r *Registry) BuildOutline(ctx context.Context, in BuildOutlineInput) (BuildOutlineOutput, error) {
	topic := or(in.Topic, r.req.Topic)
	sections := or(in.Sections, r.req.Sections)
	payload := map[string]any{"topic": topic, "sections": sections}
	return invoke(ctx, r, ToolBuildOutline, payload, func(ctx context.Context) (BuildOutlineOutput, error) {
		if err := checkSections(in.Sections); err != nil {
			return BuildOutlineOutput{}, err
		}
		outline, err := r.deps.Writer.BuildOutline(ctx, topic, sections)
		if err != nil {
			return BuildOutlineOutput{}, err
		}
		return BuildOutlineOutput{Outline: outline}, nil
	})
}

func (r *Registry) ComposeSections(ctx context.Context, in ComposeSectionsInput) (ComposeSectionsOutput, error) {
	tone := r.req.Tone.String()
	if in.Tone != nil {
		tone = in.Tone.String()
	}
	payload := map[string]any{"outline": in.Outline, "summaries": in.Summaries, "tone": tone}
	return invoke(ctx, r, ToolComposeSections, payload, func(ctx context.Context) (ComposeSectionsOutput, error) {
		sections, err := r.deps.Writer.ComposeSections(ctx, in.Outline, in.Summaries, tone)
		if err != nil {
			return ComposeSectionsOutput{}, err
		}
		return ComposeSectionsOutput{Sections: sections}, nil
	})
}

func (r *Registry) PickCTAs(ctx context.Context, in PickCTAsInput) (PickCTAsOutput, error) {
	topic := or(in.Topic, r.req.Topic)
	return invoke(ctx, r, ToolPickCTAs, map[string]any{"topic": topic}, func(ctx context.Context) (PickCTAsOutput, error) {
		ctas, err := r.deps.Writer.PickCTAs(ctx, topic)
		if err != nil {
			return PickCTAsOutput{}, err
		}
		return PickCTAsOutput{CTAs: ctas}, nil
	})
}

func (r *Registry) RewriteTone(ctx context.Context, in RewriteToneInput) (HTMLOutput, error) {
	return invoke(ctx, r, ToolRewriteTone, in, func(ctx context.Context) (HTMLOutput, error) {
		if strings.TrimSpace(in.HTML) == "" {
			return HTMLOutput{}, errors.New("html is required")
		}
		html, err := r.deps.Writer.RewriteTone(ctx, in.HTML, in.Tone)
		if err != nil {
			return HTMLOutput{}, err
		}
		return HTMLOutput{HTML: html}, nil
	})
}

// brief is a Brief with every field resolved against the request.
type brief struct {
	Title, Intro, NewsletterType string
	Features, Links              []string
	Location, Content            string
	KeyDetails, Tone, Preset     string
	Sections                     int
}

func (r *Registry) resolve(b Brief, intro string) brief {
	out := brief{
		Title:          or(b.Title, r.req.Title),
		Intro:          or(b.Intro, intro),
		NewsletterType: or(b.NewsletterType, r.req.NewsletterType),
		Features:       r.req.Features,
		Links:          r.req.Links,
		Location:       or(b.Location, r.req.Location),
		Content:        or(b.Content, r.req.Content),
		KeyDetails:     or(b.KeyDetails, r.req.KeyDetails),
		Tone:           r.req.Tone.String(),
		Preset:         or(b.Preset, r.req.Preset),
		Sections:       or(b.Sections, r.req.Sections),
	}
	if b.Features != nil {
		out.Features = b.Features
	}
	if b.Links != nil {
		out.Links = b.Links
	}
	if b.Tone != nil {
		out.Tone = b.Tone.String()
	}
	return out
}

func (r *Registry) WriteNewsletter(ctx context.Context, in WriteNewsletterInput) (HTMLOutput, error) {
	return invoke(ctx, r, ToolWriteNewsletter, in, func(ctx context.Context) (HTMLOutput, error) {
		if err := checkSections(in.Sections); err != nil {
			return HTMLOutput{}, err
		}
		b := r.resolve(in.Brief, r.req.Intro)
		topic := or(in.Topic, r.req.Topic)
		articleURL := or(in.ArticleURL, r.req.ArticleURL)
		articleHTML := or(in.ArticleHTML, r.req.ArticleHTML)

		prompt := newsletterPrompt(b, topic, articleURL)
		if text := r.articleText(ctx, articleURL, articleHTML); text != "" {
			prompt += "\n\nSource article content:\n" + text
		}

		r.log.ModelCall("generateText:start", map[string]any{"promptMeta": map[string]any{"title": b.Title}})
		html, chars, err := r.deps.Writer.WriteNewsletter(ctx, prompt)
		if err != nil {
			return HTMLOutput{}, err
		}
		r.log.ModelCall("generateText:finish", map[string]any{"chars": chars})
		return HTMLOutput{HTML: html}, nil
	})
}

// newsletterPrompt is the one-shot instruction for write_newsletter.
func newsletterPrompt(b brief, topic, articleURL string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Write a newsletter titled "%s" about %s`, b.Title, topic)
	if b.NewsletterType != "" {
		fmt.Fprintf(&sb, " (Type: %s)", b.NewsletterType)
	}
	if b.Tone != "" {
		fmt.Fprintf(&sb, " in a %s tone", b.Tone)
	}
	if b.Sections != 0 {
		fmt.Fprintf(&sb, " with %d sections", b.Sections)
	}
	if b.Intro != "" {
		sb.WriteString(". Use this introduction: " + b.Intro)
	}
	if len(b.Features) > 0 {
		sb.WriteString(". Include these content features: " + strings.Join(b.Features, ", "))
	}
	if b.Location != "" {
		sb.WriteString(". Focus on location: " + b.Location)
	}
	if b.KeyDetails != "" {
		sb.WriteString(". Key details to highlight: " + b.KeyDetails)
	}
	if b.Content != "" {
		sb.WriteString(". Additional content context: " + b.Content)
	}
	if len(b.Links) > 0 {
		sb.WriteString(". Include these relevant links: " + strings.Join(b.Links, ", "))
	}
	if articleURL != "" {
		sb.WriteString(". Include content from: " + articleURL)
	}
	if b.Preset != "" {
		fmt.Fprintf(&sb, ". Use %s preset style and structure", b.Preset)
	}
	return sb.String()
}

// articleText returns readable text for the seed article, preferring
// caller-supplied markup over fetching the URL. Failures are logged and
// yield "".
func (r *Registry) articleText(ctx context.Context, url, html string) string {
	key := url
	if html != "" {
		key = "html:" + html
	}
	if key == "" {
		return ""
	}
	r.mu.Lock()
	text, seen := r.articles[key]
	r.mu.Unlock()
	if seen {
		return text
	}

	var (
		a   content.Article
		err error
	)
	switch {
	case html != "":
		a, err = content.ArticleFromHTML(html, r.deps.ArticleMaxChars)
	case r.deps.Articles != nil:
		a, err = r.deps.Articles.FetchArticle(ctx, url)
	default:
		return ""
	}
	if err != nil {
		r.log.Warn("article:failed", map[string]any{"url": url, "err": err.Error()})
	} else {
		text = a.Text
		r.log.Debug("article:loaded", map[string]any{"url": url, "title": a.Title, "chars": len(text)})
	}
	r.mu.Lock()
	r.articles[key] = text
	r.mu.Unlock()
	return text
}

func (r *Registry) GenerateEmail(ctx context.Context, in GenerateEmailInput) (HTMLOutput, error) {
	b := r.resolve(in.Brief, r.defaultIntro())
	items := in.Items
	if items == nil {
		items = []content.RenderItem{}
	}
	payload := map[string]any{
		"title":           b.Title,
		"intro":           b.Intro,
		"newsletter_type": b.NewsletterType,
		"features":        b.Features,
		"links":           b.Links,
		"location":        b.Location,
		"content":         b.Content,
		"key_details":     b.KeyDetails,
		"tone":            b.Tone,
		"sections":        b.Sections,
		"preset":          b.Preset,
		"items":           items,
		"ctas":            in.CTAs,
		"items_len":       len(items),
	}
	return invoke(ctx, r, ToolGenerateEmail, payload, func(ctx context.Context) (HTMLOutput, error) {
		if err := checkSections(in.Sections); err != nil {
			return HTMLOutput{}, err
		}
		html, err := r.deps.Renderer.Render(ctx, content.EmailInput{
			Title:          b.Title,
			Intro:          b.Intro,
			NewsletterType: b.NewsletterType,
			Features:       b.Features,
			Links:          b.Links,
			Location:       b.Location,
			Content:        b.Content,
			KeyDetails:     b.KeyDetails,
			Tone:           b.Tone,
			Sections:       b.Sections,
			Preset:         b.Preset,
			Items:          items,
			CTAs:           in.CTAs,
		})
		if err != nil {
			return HTMLOutput{}, err
		}
		return HTMLOutput{HTML: html}, nil
	})
}

func (r *Registry) defaultIntro() string {
	if r.req.Intro != "" {
		return r.req.Intro
	}
	return fmt.Sprintf("Curated updates on %s.", r.req.Topic)
}

func str(desc string) *llm.Schema { return &llm.Schema{Type: "string", Description: desc} }

func object(required []string, props map[string]*llm.Schema) *llm.Schema {
	return &llm.Schema{Type: "object", Properties: props, Required: required}
}

func briefProps(extra map[string]*llm.Schema) map[string]*llm.Schema {
	props := map[string]*llm.Schema{
		"title":           str(""),
		"intro":           str(""),
		"newsletter_type": str(""),
		"features":        {Type: "array", Items: str("")},
		"links":           {Type: "array", Items: str("")},
		"location":        str(""),
		"content":         str(""),
		"key_details":     str(""),
		"tone":            str("Comma separated tone descriptors"),
		"sections":        sectionsSchema,
		"preset":          str(""),
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

var (
	sectionsSchema = &llm.Schema{Type: "integer", Description: "Between 2 and 8"}

	itemSchema = object(nil, map[string]*llm.Schema{
		"id":        str(""),
		"title":     str(""),
		"url":       str(""),
		"published": str(""),
		"content":   str(""),
	})
	summarySchema = object([]string{"title", "url", "summary", "published"}, map[string]*llm.Schema{
		"title":     str(""),
		"url":       str(""),
		"summary":   str(""),
		"published": str(""),
	})
	outlineSchema = object(nil, map[string]*llm.Schema{
		"id":        str(""),
		"title":     str(""),
		"blurb":     str(""),
		"word_goal": {Type: "integer"},
	})
	renderItemSchema = object(nil, map[string]*llm.Schema{
		"title":         str(""),
		"url":           str(""),
		"summary":       str(""),
		"published":     str(""),
		"bodyHtml":      str("Set for composed sections"),
		"key_takeaways": {Type: "array", Items: str("")},
	})
	ctaSchema = object([]string{"title", "text", "url"}, map[string]*llm.Schema{
		"title": str(""),
		"text":  str(""),
		"url":   str(""),
	})
)
