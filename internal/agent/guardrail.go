package agent

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/newsletter-agent/internal/content"
	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
)

// State is a stage of the recovery chain.
type State string

const (
	StatePlannerResult State = "PLANNER_RESULT"
	StateDirectWrite   State = "GUARDRAIL_DIRECT_WRITE"
	StateFetchRender   State = "GUARDRAIL_FETCH_SUMMARIZE_RENDER"
	StateFailed        State = "FAILED"
	StateDone          State = "DONE"
)

// EmptyRenderPolicy decides what the last tier does when both fetches
// return nothing.
type EmptyRenderPolicy string

const (
	// EmptyRenderAllow renders a newsletter with no items.
	EmptyRenderAllow EmptyRenderPolicy = "allow"
	// EmptyRenderReject fails the run instead.
	EmptyRenderReject EmptyRenderPolicy = "reject"
)

var (
	ErrEmptyRender = errors.New("no source items to render")
	ErrNoHTML      = errors.New("renderer returned no html")
)

// FallbackMaxChars is the summary size used by the last tier.
const FallbackMaxChars = 400

// Guardrail produces HTML without the planner when the planner produced none.
type Guardrail struct {
	EmptyRender     EmptyRenderPolicy
	SummaryMaxChars int
}

// Outcome is where the chain stopped.
type Outcome struct {
	// Final is StateDone or StateFailed.
	Final State
	// Tier is the state that produced HTML.
	Tier   State
	Source string
	HTML   string
	Trail  []State
	Err    error
}

// Recover runs the direct-write tier and then the fetch, summarize and
// render tier, stopping at the first that yields HTML.
func (g Guardrail) Recover(ctx context.Context, req *Request, reg *Registry, log *reqlog.Logger, m *Metrics) Outcome {
	out := Outcome{Trail: []State{StatePlannerResult, StateDirectWrite}}

	if html := g.directWrite(ctx, reg, log, m); html != "" {
		out.Final, out.Tier, out.Source, out.HTML = StateDone, StateDirectWrite, ToolWriteNewsletter.String(), html
		out.Trail = append(out.Trail, StateDone)
		return out
	}

	out.Trail = append(out.Trail, StateFetchRender)
	html, err := g.fetchRender(ctx, req, reg, log)
	if err != nil {
		log.Error("fallback:failed", map[string]any{"err": err.Error()})
		m.tier(StateFetchRender, "error")
		out.Final, out.Err = StateFailed, err
		out.Trail = append(out.Trail, StateFailed)
		return out
	}
	m.tier(StateFetchRender, "ok")
	out.Final, out.Tier, out.Source, out.HTML = StateDone, StateFetchRender, ToolGenerateEmail.String(), html
	out.Trail = append(out.Trail, StateDone)
	return out
}

// directWrite calls write_newsletter once with no arguments, so every field
// comes from the request.
func (g Guardrail) directWrite(ctx context.Context, reg *Registry, log *reqlog.Logger, m *Metrics) string {
	ctx, span := tracer.Start(ctx, "guardrail.direct_write")
	defer span.End()

	log.Step("guardrail:writer:direct", nil)
	res, err := reg.WriteNewsletter(ctx, WriteNewsletterInput{})
	if err != nil {
		log.Warn("guardrail:writer:failed", map[string]any{"err": err.Error()})
		span.RecordError(err)
		m.tier(StateDirectWrite, "error")
		return ""
	}
	log.Info("guardrail:writer:ok", map[string]any{"html_len": len(res.HTML)})
	if res.HTML == "" {
		m.tier(StateDirectWrite, "empty")
	} else {
		m.tier(StateDirectWrite, "ok")
	}
	return res.HTML
}

// fetchRender fetches for the topic, retries once with an empty topic when
// nothing came back, summarizes and renders. Any error fails the tier.
func (g Guardrail) fetchRender(ctx context.Context, req *Request, reg *Registry, log *reqlog.Logger) (string, error) {
	ctx, span := tracer.Start(ctx, "guardrail.fetch_summarize_render")
	defer span.End()

	html, items, err := g.fetchRenderSteps(ctx, req, reg, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	log.Info("fallback:ok", map[string]any{"items": items, "html_len": len(html)})
	return html, nil
}

func (g Guardrail) fetchRenderSteps(ctx context.Context, req *Request, reg *Registry, log *reqlog.Logger) (string, int, error) {
	log.Step("fallback:summaries->generate_email", nil)

	topic := req.Topic
	fetched, err := reg.FetchSources(ctx, FetchSourcesInput{Topic: &topic})
	if err != nil {
		return "", 0, fmt.Errorf("fetch sources: %w", err)
	}
	if len(fetched.Items) == 0 {
		empty := ""
		log.Info("fallback:broaden", map[string]any{"topic": empty})
		fetched, err = reg.FetchSources(ctx, FetchSourcesInput{Topic: &empty})
		if err != nil {
			return "", 0, fmt.Errorf("fetch sources (broadened): %w", err)
		}
	}
	items := fetched.Items
	if len(items) == 0 && g.EmptyRender == EmptyRenderReject {
		return "", 0, ErrEmptyRender
	}

	maxChars := g.SummaryMaxChars
	if maxChars <= 0 {
		maxChars = FallbackMaxChars
	}
	sums, err := reg.Summarize(ctx, SummarizeInput{Items: items, MaxChars: maxChars})
	if err != nil {
		return "", 0, fmt.Errorf("summarize: %w", err)
	}

	out, err := reg.GenerateEmail(ctx, GenerateEmailInput{Items: content.SummaryItems(sums.Summaries)})
	if err != nil {
		return "", 0, fmt.Errorf("generate email: %w", err)
	}
	if out.HTML == "" {
		return "", 0, ErrNoHTML
	}
	return out.HTML, len(items), nil
}
