package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/newsletter-agent/internal/helpers"
)

// DefaultMaxSteps bounds GenerateText when the caller passes zero.
const DefaultMaxSteps = 10

// ToolHandler runs one tool call.
type ToolHandler func(ctx context.Context, call ToolCall) (any, error)

// Step is one model turn of a GenerateText run together with the tool
// results it produced.
type Step struct {
	Index        int          `json:"index"`
	Text         string       `json:"text,omitempty"`
	FinishReason string       `json:"finishReason,omitempty"`
	Calls        []ToolCall   `json:"toolCalls,omitempty"`
	Results      []ToolResult `json:"toolResults,omitempty"`
}

// TextResult is the outcome of GenerateText.
type TextResult struct {
	Text  string
	Steps []Step
	// Exhausted is true when the run stopped on the step budget while the
	// model still wanted to call tools.
	Exhausted bool
}

// Results flattens the tool results of every step in order.
func (r *TextResult) Results() []ToolResult {
	var out []ToolResult
	for _, s := range r.Steps {
		out = append(out, s.Results...)
	}
	return out
}

// GenerateText runs req against m, executing requested tools with handle and
// feeding their results back until the model replies without tool calls or
// maxSteps turns have run. Tool failures are reported to the model as error
// results; only model errors abort the loop. Steps completed before a model
// error are returned alongside it.
func GenerateText(ctx context.Context, m Model, req ChatRequest, handle ToolHandler, maxSteps int) (*TextResult, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	msgs := append([]Message(nil), req.Messages...)
	res := &TextResult{}
	for i := 0; i < maxSteps; i++ {
		turn := req
		turn.Messages = msgs
		resp, err := m.Chat(ctx, turn)
		if err != nil {
			return res, fmt.Errorf("step %d: %w", i, err)
		}
		step := Step{Index: i, Text: resp.Text, FinishReason: resp.FinishReason, Calls: resp.Calls}
		if len(resp.Calls) == 0 || handle == nil {
			res.Steps = append(res.Steps, step)
			res.Text = resp.Text
			return res, nil
		}
		for j, call := range resp.Calls {
			if call.ID == "" {
				call.ID = fmt.Sprintf("call_%d_%d", i, j)
				step.Calls[j].ID = call.ID
			}
			tr := ToolResult{CallID: call.ID, Name: call.Name}
			out, err := handle(ctx, call)
			if err != nil {
				tr.Err = err.Error()
			} else {
				tr.Output = out
			}
			step.Results = append(step.Results, tr)
		}
		res.Steps = append(res.Steps, step)
		res.Text = resp.Text
		msgs = append(msgs,
			Message{Role: RoleAssistant, Text: resp.Text, Calls: step.Calls},
			Message{Role: RoleTool, Results: step.Results},
		)
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	res.Exhausted = true
	return res, nil
}

// GenerateStructured asks m for JSON matching schema and decodes it into out.
// The reply may wrap the JSON in prose or a code fence.
func GenerateStructured(ctx context.Context, m Model, system, prompt string, schema *Schema, temperature float64, out any) error {
	resp, err := m.Chat(ctx, ChatRequest{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Text: prompt}},
		Temperature: temperature,
		Schema:      schema,
	})
	if err != nil {
		return err
	}
	raw, err := helpers.ExtractJSON(resp.Text)
	if err != nil {
		return fmt.Errorf("structured output: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("structured output: decode: %w", err)
	}
	return nil
}

// GenerateString runs a single tool-less turn and returns the trimmed text.
func GenerateString(ctx context.Context, m Model, system, prompt string, temperature float64) (string, error) {
	resp, err := m.Chat(ctx, ChatRequest{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Text: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// resultPayload is the JSON object a backend sends back for a tool result.
func resultPayload(r ToolResult) map[string]any {
	if r.Err != "" {
		return map[string]any{"error": r.Err}
	}
	raw, err := json.Marshal(r.Output)
	if err != nil {
		return map[string]any{"result": fmt.Sprint(r.Output)}
	}
	var obj map[string]any
	if json.Unmarshal(raw, &obj) == nil && obj != nil {
		return obj
	}
	var v any
	_ = json.Unmarshal(raw, &v)
	return map[string]any{"result": v}
}
