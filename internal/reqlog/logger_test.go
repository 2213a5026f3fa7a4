package reqlog

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)}
	svc := NewService(Options{MaxEntries: 10, TTL: time.Minute})
	svc.now = clk.now
	svc.cache.now = clk.now
	return svc, clk
}

func TestLoggerRecordsEntries(t *testing.T) {
	svc, clk := newTestService(t)
	log := svc.Create("req-1")
	log.Info("request:start", map[string]any{"topic": "dev tools", "apiKey": "secret"})
	clk.advance(25 * time.Millisecond)
	log.Step("planner:start", nil)
	log.Warn("guardrail:writer:failed", nil)
	log.Done(map[string]any{"html_len": 42})

	lines := log.Dump()
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	if lines[0].TS != "2025-01-15T12:00:00.000Z" || lines[0].ReqID != "req-1" {
		t.Fatalf("unexpected first line: %+v", lines[0])
	}
	if data := lines[0].Data.(map[string]any); data["apiKey"] != redacted {
		t.Fatalf("apiKey not redacted in stored entry: %v", data)
	}
	step := lines[1]
	if step.Msg != "step:planner:start" || step.Step == nil || step.Step.Name != "planner:start" {
		t.Fatalf("unexpected step line: %+v", step)
	}
	if step.Duration != 25 || step.Data.(map[string]any)["ms"] != float64(25) {
		t.Fatalf("step should carry elapsed ms: %+v", step)
	}
	if lines[3].Msg != "done" || lines[3].Data.(map[string]any)["html_len"] != float64(42) {
		t.Fatalf("unexpected done line: %+v", lines[3])
	}

	cached, ok := svc.Lookup("req-1")
	if !ok || len(cached) != 4 {
		t.Fatalf("lookup should return the same lines, got %d %v", len(cached), ok)
	}

	stats := log.Stats()
	if stats.Total != 4 || stats.ByLevel[LevelInfo] != 3 || stats.ByLevel[LevelWarn] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestLoggerToolTiming(t *testing.T) {
	svc, clk := newTestService(t)
	log := svc.Create("req-2")

	first := log.ToolCall("fetch_sources", map[string]any{"topic": "ai"})
	clk.advance(10 * time.Millisecond)
	log.ToolCall("fetch_sources", map[string]any{"topic": "ml"})
	clk.advance(5 * time.Millisecond)
	if first != "req-2-fetch_sources-1" {
		t.Fatalf("unexpected call id %q", first)
	}

	// no id: pairs with the oldest in-flight call of that name
	log.ToolResult("fetch_sources", []string{"a"}, "", true)
	clk.advance(5 * time.Millisecond)
	log.ToolError("fetch_sources", errors.New("boom"), "req-2-fetch_sources-2")

	lines := log.Dump()
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	if lines[0].ToolCall == nil || lines[0].ToolCall.Name != "fetch_sources" {
		t.Fatalf("missing tool call record: %+v", lines[0])
	}
	res := lines[2].ToolResult
	if res == nil || !res.Success || res.Duration != 15 {
		t.Fatalf("unexpected result record: %+v", res)
	}
	errRes := lines[3].ToolResult
	if lines[3].Level != LevelError || errRes == nil || errRes.Success || errRes.Duration != 10 {
		t.Fatalf("unexpected error record: %+v %+v", lines[3], errRes)
	}
	stats := log.Stats()
	if stats.ToolCalls != 2 || stats.ToolResults != 2 {
		t.Fatalf("unexpected tool stats: %+v", stats)
	}
}

func TestLoggerDumpPlain(t *testing.T) {
	svc, _ := newTestService(t)
	log := svc.Create("req-3")
	log.Info("hello", nil)
	id := log.ToolCall("summarize", map[string]any{"max": 400})
	log.ToolResult("summarize", map[string]any{"count": 1}, id, true)

	plain := log.DumpPlain()
	if len(plain) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(plain))
	}
	if plain[0] != "2025-01-15T12:00:00.000Z INFO req-3 hello" {
		t.Fatalf("unexpected plain line: %q", plain[0])
	}
	if !strings.HasSuffix(plain[1], "[TOOL_CALL: summarize]") {
		t.Fatalf("missing tool call tag: %q", plain[1])
	}
	if !strings.HasSuffix(plain[2], "[TOOL_RESULT: summarize (0ms)]") {
		t.Fatalf("missing tool result tag: %q", plain[2])
	}
}

func TestLoggerIsolatedPerRequest(t *testing.T) {
	svc, _ := newTestService(t)
	a := svc.Create("")
	b := svc.Create("")
	if a.ID() == b.ID() || a.ID() == "" {
		t.Fatalf("expected distinct generated ids, got %q and %q", a.ID(), b.ID())
	}
	a.Info("only-a", nil)
	if len(b.Dump()) != 0 {
		t.Fatalf("b should not see a's lines")
	}
}

func TestConsoleMirror(t *testing.T) {
	var buf bytes.Buffer
	svc := NewService(Options{MaxEntries: 5, TTL: time.Minute, Console: NewConsole(&buf, "debug", 20)})
	log := svc.Create("req-4")
	log.Info("request:start", map[string]any{"topic": strings.Repeat("x", 100)})
	id := log.ToolCall("summarize", nil)
	log.ToolError("summarize", errors.New("nope"), id)

	out := buf.String()
	if !strings.Contains(out, "[req-4]") || !strings.Contains(out, "request:start") {
		t.Fatalf("console missing header: %q", out)
	}
	if !strings.Contains(out, truncatedSuffix) {
		t.Fatalf("console payload should be truncated: %q", out)
	}
	if !strings.Contains(out, "✗ summarize") {
		t.Fatalf("console missing failure mark: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("non-stdout writer should not be colored: %q", out)
	}
}
