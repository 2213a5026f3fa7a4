package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/newsletter-agent/internal/content"
	"github.com/mohammad-safakhou/newsletter-agent/internal/llm"
	"github.com/mohammad-safakhou/newsletter-agent/internal/llm/llmtest"
)

func TestRecoverDirectWrite(t *testing.T) {
	model := &llmtest.Model{Direct: directHTML("<h1>Direct</h1>")}
	reg := newTestRegistry(t, testRequest(), model)

	out := Guardrail{}.Recover(context.Background(), testRequest(), reg, reg.log, nil)
	if out.Final != StateDone || out.Tier != StateDirectWrite || out.Source != "write_newsletter" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if !strings.Contains(out.HTML, "Direct") {
		t.Fatalf("html = %q", out.HTML)
	}
	entries := reg.log.Dump()
	if toolCalls(entries, "write_newsletter") != 1 || toolCalls(entries, "fetch_sources") != 0 {
		t.Fatalf("expected a single direct write and no fetch")
	}
	want := []State{StatePlannerResult, StateDirectWrite, StateDone}
	if len(out.Trail) != len(want) {
		t.Fatalf("trail = %v", out.Trail)
	}
}

func TestRecoverBroadensEmptyFetch(t *testing.T) {
	src := &stubSource{fetch: func(q content.FetchQuery) ([]content.Item, error) {
		if q.Topic == "" {
			return []content.Item{{ID: "1", Title: "General news", URL: "https://example.com/1", Published: "2025-10-16", Content: "Something happened. Then more."}}, nil
		}
		return nil, nil
	}}
	model := &llmtest.Model{Direct: directError(errBoom)}
	req := testRequest()
	deps := testDeps(t)
	deps.Source = src
	deps.Writer = &content.Writer{Model: model}
	reg := NewRegistry(req, deps, newTestLog(), nil)

	out := Guardrail{EmptyRender: EmptyRenderAllow}.Recover(context.Background(), req, reg, reg.log, nil)
	if out.Final != StateDone || out.Tier != StateFetchRender || out.Source != "generate_email" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	qs := src.Queries()
	if len(qs) != 2 || qs[0].Topic != "kong" || qs[1].Topic != "" {
		t.Fatalf("expected topic fetch then one broadened fetch, got %+v", qs)
	}
	if !strings.Contains(out.HTML, "General news") {
		t.Fatalf("broadened items not rendered")
	}

	entries := reg.log.Dump()
	if !hasMsg(entries, "guardrail:writer:failed") || !hasMsg(entries, "fallback:ok") {
		t.Fatalf("tier transitions not logged")
	}
	for _, e := range entries {
		if e.ToolCall != nil && e.ToolCall.Name == "summarize" {
			in, _ := e.ToolCall.Input.(map[string]any)
			if in == nil {
				continue
			}
			if mc, _ := in["max_chars"].(float64); mc != FallbackMaxChars {
				t.Fatalf("summarize max_chars = %v", in["max_chars"])
			}
		}
	}
}

func TestRecoverEmptyRenderPolicy(t *testing.T) {
	empty := func(content.FetchQuery) ([]content.Item, error) { return nil, nil }
	for _, tc := range []struct {
		policy EmptyRenderPolicy
		final  State
	}{
		{EmptyRenderAllow, StateDone},
		{EmptyRenderReject, StateFailed},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			deps := testDeps(t)
			deps.Source = &stubSource{fetch: empty}
			deps.Writer = &content.Writer{Model: &llmtest.Model{Direct: directError(errBoom)}}
			req := testRequest()
			reg := NewRegistry(req, deps, newTestLog(), nil)

			out := Guardrail{EmptyRender: tc.policy}.Recover(context.Background(), req, reg, reg.log, nil)
			if out.Final != tc.final {
				t.Fatalf("final = %s (%v)", out.Final, out.Err)
			}
			if tc.final == StateFailed && !errors.Is(out.Err, ErrEmptyRender) {
				t.Fatalf("expected ErrEmptyRender, got %v", out.Err)
			}
		})
	}
}

func TestRecoverFailsWhenFetchFails(t *testing.T) {
	deps := testDeps(t)
	deps.Source = &stubSource{fetch: func(content.FetchQuery) ([]content.Item, error) { return nil, errBoom }}
	deps.Writer = &content.Writer{Model: &llmtest.Model{Direct: directError(errBoom)}}
	req := testRequest()
	reg := NewRegistry(req, deps, newTestLog(), nil)

	out := Guardrail{}.Recover(context.Background(), req, reg, reg.log, nil)
	if out.Final != StateFailed || !errors.Is(out.Err, errBoom) || out.HTML != "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if last := out.Trail[len(out.Trail)-1]; last != StateFailed {
		t.Fatalf("trail = %v", out.Trail)
	}
	if !hasMsg(reg.log.Dump(), "fallback:failed") {
		t.Fatalf("failure not logged")
	}
}

func TestRecoverDirectWriteEmptyEscalates(t *testing.T) {
	// A blank reply is not HTML; the chain moves on.
	model := &llmtest.Model{Direct: func(llm.ChatRequest) (*llm.ChatResponse, error) { return &llm.ChatResponse{Text: "  "}, nil }}
	reg := newTestRegistry(t, testRequest(), model)
	out := Guardrail{}.Recover(context.Background(), testRequest(), reg, reg.log, nil)
	if out.Tier != StateFetchRender {
		t.Fatalf("expected fetch tier, got %+v", out)
	}
}
