package agent

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/newsletter-agent/internal/llm"
	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
)

var plannerSystem = strings.Join([]string{
	"You are a professional newsletter agent that creates high-quality, data-driven newsletters.",
	"IMPORTANT: You MUST use the structured workflow for the best results. Do NOT skip to write_newsletter() immediately.",
	"REQUIRED workflow (follow these steps in order):",
	"1. ALWAYS start by calling fetch_sources() to get recent, relevant content for the topic and date range",
	"2. Then call summarize() to create concise summaries of the fetched content",
	"3. Next, call build_outline() to create a structured outline based on the topic and sections",
	"4. Then call compose_sections() to write full sections using the outline and summaries",
	"5. Optionally call pick_ctas() to suggest relevant call-to-action items",
	"6. Finally, call generate_email() to create the final HTML newsletter",
	"Only use write_newsletter() as a last resort fallback if the structured approach completely fails.",
	"The structured approach produces much better, more factual newsletters with real data and proper organization.",
	"Never finish without returning an HTML document.",
}, "\n")

// Planner lets the model drive the tools.
type Planner struct {
	Model       llm.Model
	MaxSteps    int
	Temperature float64
}

// PlannerPrompt restates the request for the model.
func PlannerPrompt(req *Request) string {
	orNone := func(s, none string) string {
		if s == "" {
			return none
		}
		return s
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Create a comprehensive, data-driven newsletter about %s for %s to %s titled %s.",
		req.Topic, orNone(req.StartDate, "(no start)"), orNone(req.EndDate, "(no end)"), req.Title)
	sb.WriteString(" Please use the structured workflow: fetch recent sources, summarize them, build an outline, compose sections, and generate the final newsletter.")
	if req.NewsletterType != "" {
		fmt.Fprintf(&sb, " Newsletter type: %s.", req.NewsletterType)
	}
	if tone := req.Tone.String(); tone != "" {
		fmt.Fprintf(&sb, " Tone: %s.", tone)
	}
	if req.Sections != 0 {
		fmt.Fprintf(&sb, " Create %d sections.", req.Sections)
	}
	if len(req.Features) > 0 {
		fmt.Fprintf(&sb, " Include these content features: %s.", strings.Join(req.Features, ", "))
	}
	if req.Location != "" {
		fmt.Fprintf(&sb, " Focus on location: %s.", req.Location)
	}
	if req.KeyDetails != "" {
		fmt.Fprintf(&sb, " Key details to highlight: %s.", req.KeyDetails)
	}
	if req.Content != "" {
		fmt.Fprintf(&sb, " Additional content context: %s.", req.Content)
	}
	if len(req.Links) > 0 {
		fmt.Fprintf(&sb, " Include these relevant links: %s.", strings.Join(req.Links, ", "))
	}
	if req.Preset != "" {
		fmt.Fprintf(&sb, " Use %s preset style and structure.", req.Preset)
	}
	if req.ArticleURL != "" {
		fmt.Fprintf(&sb, " Also include content from: %s", req.ArticleURL)
	}
	return sb.String()
}

// Run drives the model until it stops calling tools or the step budget runs
// out. A model failure is logged and the steps completed so far are returned
// with it.
func (p *Planner) Run(ctx context.Context, req *Request, reg *Registry, log *reqlog.Logger) ([]llm.Step, error) {
	ctx, span := tracer.Start(ctx, "planner")
	defer span.End()

	log.Step("planner:start", nil)
	res, err := llm.GenerateText(ctx, p.Model, llm.ChatRequest{
		System:      plannerSystem,
		Messages:    []llm.Message{{Role: llm.RoleUser, Text: PlannerPrompt(req)}},
		Tools:       reg.Specs(),
		Temperature: p.Temperature,
	}, reg.Handle, p.MaxSteps)

	var steps []llm.Step
	if res != nil {
		steps = res.Steps
	}
	if err != nil {
		log.Error("planner:failed", map[string]any{"err": err.Error()})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	extra := map[string]any{"steps": len(steps)}
	if res != nil && res.Exhausted {
		extra["exhausted"] = true
	}
	log.Step("planner:finish", extra)
	span.SetAttributes(attribute.Int("planner.steps", len(steps)))

	for i, s := range steps {
		calls := make([]string, len(s.Calls))
		for j, c := range s.Calls {
			calls[j] = c.Name
		}
		results := make([]string, len(s.Results))
		for j, r := range s.Results {
			results[j] = r.Name
		}
		log.Debug("planner:step", map[string]any{
			"idx":          i,
			"finishReason": s.FinishReason,
			"toolCalls":    calls,
			"toolResults":  results,
		})
	}
	return steps, err
}
