package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammad-safakhou/newsletter-agent/internal/delivery"
	"github.com/mohammad-safakhou/newsletter-agent/internal/llm"
	"github.com/mohammad-safakhou/newsletter-agent/internal/llm/llmtest"
)

func TestRunWeeklyDevDigest(t *testing.T) {
	model := &llmtest.Model{Planner: []llmtest.Turn{
		{Calls: []llm.ToolCall{llmtest.Call("fetch_sources", map[string]any{"topic": "dev tools", "start_date": "2025-01-15", "end_date": "2025-01-22"})}},
		{Calls: []llm.ToolCall{llmtest.Call("summarize", map[string]any{"items": []any{}, "max_chars": 400})}},
		{Calls: []llm.ToolCall{llmtest.Call("generate_email", map[string]any{"items": []any{}})}},
		{Text: "Done."},
	}}
	a := newTestAgent(t, model)
	drafts := &memoryDrafts{}
	a.Drafts = drafts
	req, err := ParseRequest([]byte(`{"topic":"dev tools","start_date":"2025-01-15","end_date":"2025-01-22","title":"Weekly Dev Digest"}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	log := newTestLog()

	resp, err := a.Run(context.Background(), req, log)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Source != "generate_email" || resp.State != StatePlannerResult {
		t.Fatalf("source=%q state=%q", resp.Source, resp.State)
	}
	if !strings.Contains(resp.HTML, "Weekly Dev Digest") {
		t.Fatalf("html missing title")
	}
	if resp.ReqID != log.ID() || len(resp.Logs) == 0 || len(resp.LogsPlain) != len(resp.Logs) {
		t.Fatalf("logs not attached: %+v", resp)
	}
	if resp.LogStats.ToolCalls != 3 || resp.LogStats.ToolResults != 3 {
		t.Fatalf("log stats = %+v", resp.LogStats)
	}
	if last := resp.Logs[len(resp.Logs)-1]; last.Msg != "done" {
		t.Fatalf("last entry = %q", last.Msg)
	}
	if toolCalls(resp.Logs, "write_newsletter") != 0 {
		t.Fatalf("guardrail should not run when the planner produced html")
	}
	if resp.DraftID != "draft-1" || len(drafts.saved) != 1 || drafts.saved[0].Topic != "dev tools" {
		t.Fatalf("draft not saved: %+v", drafts.saved)
	}
	if resp.Send != nil || resp.SendError != "" {
		t.Fatalf("dry run must not send")
	}
}

func TestRunEscalatesToDirectWrite(t *testing.T) {
	model := &llmtest.Model{
		Planner: []llmtest.Turn{{Text: "I could not find anything."}},
		Direct:  directHTML("<h1>Direct</h1>"),
	}
	a := newTestAgent(t, model)
	resp, err := a.Run(context.Background(), testRequest(), newTestLog())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.State != StateDirectWrite || resp.Source != "write_newsletter" {
		t.Fatalf("state=%q source=%q", resp.State, resp.Source)
	}
	if toolCalls(resp.Logs, "write_newsletter") != 1 {
		t.Fatalf("write_newsletter should run exactly once")
	}
	if toolCalls(resp.Logs, "fetch_sources") != 0 {
		t.Fatalf("fetch tier should not run")
	}
	picked := msgIndex(resp.Logs, "planner:result-picked")
	direct := msgIndex(resp.Logs, "step:guardrail:writer:direct")
	if picked < 0 || direct < picked {
		t.Fatalf("direct write should follow the planner result")
	}
}

func TestRunPlannerErrorStillRecovers(t *testing.T) {
	model := &llmtest.Model{
		Planner: []llmtest.Turn{{Err: errors.New("network down")}},
		Direct:  directHTML("<h1>Recovered</h1>"),
	}
	resp, err := newTestAgent(t, model).Run(context.Background(), testRequest(), newTestLog())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.State != StateDirectWrite || !hasMsg(resp.Logs, "planner:failed") {
		t.Fatalf("planner failure should be logged and recovered: %+v", resp.State)
	}
}

func TestRunFallbackFetchesAndBroadens(t *testing.T) {
	model := &llmtest.Model{
		Planner: []llmtest.Turn{{Text: "nothing"}},
		Direct:  directError(errBoom),
	}
	a := newTestAgent(t, model)
	req := testRequest()
	req.Topic = "dev tools"
	req.StartDate, req.EndDate = "2025-01-15", "2025-01-22"

	resp, err := a.Run(context.Background(), req, newTestLog())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.State != StateFetchRender || resp.Source != "generate_email" {
		t.Fatalf("state=%q", resp.State)
	}
	if n := toolCalls(resp.Logs, "fetch_sources"); n != 2 {
		t.Fatalf("expected a broadened retry, got %d fetches", n)
	}
	if !hasMsg(resp.Logs, "guardrail:writer:failed") || !hasMsg(resp.Logs, "fallback:ok") {
		t.Fatalf("transitions not logged")
	}
}

func TestRunTerminalFailure(t *testing.T) {
	model := &llmtest.Model{
		Planner: []llmtest.Turn{
			{Calls: []llm.ToolCall{llmtest.Call("fetch_sources", map[string]any{})}},
			{Text: "giving up"},
		},
		Direct: directError(errBoom),
	}
	a := newTestAgent(t, model)
	a.Deps.Source = &stubSource{fetch: failingFetch}
	transport := delivery.NewMock()
	a.Transport = transport
	drafts := &memoryDrafts{}
	a.Drafts = drafts
	req := testRequest()
	req.DryRun, req.To = false, "reader@example.com"

	resp, err := a.Run(context.Background(), req, newTestLog())
	if resp != nil {
		t.Fatalf("no response expected on failure")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected RunError, got %v", err)
	}
	if len(runErr.Steps) != 2 || runErr.Steps[0].Results[0].Err == "" {
		t.Fatalf("step trace missing: %+v", runErr.Steps)
	}
	if runErr.Trail[len(runErr.Trail)-1] != StateFailed || len(runErr.Logs) == 0 {
		t.Fatalf("trail/logs missing: %+v", runErr)
	}
	if len(transport.Sent()) != 0 || len(drafts.saved) != 0 {
		t.Fatalf("failed runs must not deliver or store")
	}
}

func TestRunDeliveryFailureIsNonFatal(t *testing.T) {
	model := &llmtest.Model{
		Planner: []llmtest.Turn{{Text: "no tools"}},
		Direct:  directHTML("<h1>Kong</h1>"),
	}
	a := newTestAgent(t, model)
	a.Transport = failingTransport{err: errors.New("relay refused")}
	req := testRequest()
	req.DryRun, req.To = false, "reader@example.com"

	resp, err := a.Run(context.Background(), req, newTestLog())
	if err != nil {
		t.Fatalf("delivery failure must not fail the run: %v", err)
	}
	if resp.HTML == "" || resp.Send != nil || resp.SendError != "relay refused" {
		t.Fatalf("unexpected response: send=%v err=%q", resp.Send, resp.SendError)
	}
	if !hasMsg(resp.Logs, "send:failed") {
		t.Fatalf("send failure not logged")
	}
}

func TestRunDeliversWhenNotDryRun(t *testing.T) {
	model := &llmtest.Model{
		Planner: []llmtest.Turn{{Text: "no tools"}},
		Direct:  directHTML("<h1>Kong</h1>"),
	}
	a := newTestAgent(t, model)
	transport := delivery.NewMock()
	a.Transport = transport
	reg := prometheus.NewRegistry()
	a.Metrics = NewMetrics("test", reg)
	req := testRequest()
	req.DryRun, req.To = false, "reader@example.com"

	resp, err := a.Run(context.Background(), req, newTestLog())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Send == nil || resp.Send.Provider != "mock" || !resp.Send.OK {
		t.Fatalf("send receipt = %+v", resp.Send)
	}
	sent := transport.Sent()
	if len(sent) != 1 || sent[0].Subject != "Kong Weekly" || sent[0].To != "reader@example.com" {
		t.Fatalf("sent = %+v", sent)
	}
	if got := testutil.ToFloat64(a.Metrics.Deliveries.WithLabelValues("mock", "ok")); got != 1 {
		t.Fatalf("deliveries metric = %v", got)
	}
	if got := testutil.ToFloat64(a.Metrics.Runs.WithLabelValues(string(StateDirectWrite))); got != 1 {
		t.Fatalf("runs metric = %v", got)
	}
}

func TestRunModelUnavailable(t *testing.T) {
	a := newTestAgent(t, nil)
	a.NewModel = func(context.Context, string) (llm.Model, error) { return nil, errors.New("missing api key") }
	log := newTestLog()
	_, err := a.Run(context.Background(), testRequest(), log)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if !hasMsg(log.Dump(), "model:init-failed") {
		t.Fatalf("init failure not logged")
	}
}

func TestRunDraftFailureIsNonFatal(t *testing.T) {
	model := &llmtest.Model{Planner: []llmtest.Turn{{Text: "x"}}, Direct: directHTML("<p>ok</p>")}
	a := newTestAgent(t, model)
	a.Drafts = &memoryDrafts{err: errBoom}
	resp, err := a.Run(context.Background(), testRequest(), newTestLog())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.DraftID != "" || !hasMsg(resp.Logs, "draft:save-failed") {
		t.Fatalf("draft failure should be logged only")
	}
}

type closingModel struct {
	*llmtest.Model
	closed int
}

func (m *closingModel) Close() error {
	m.closed++
	return nil
}

func TestRunClosesModel(t *testing.T) {
	model := &closingModel{Model: &llmtest.Model{Planner: []llmtest.Turn{{Text: "x"}}, Direct: directHTML("<p>ok</p>")}}
	a := newTestAgent(t, model)
	if _, err := a.Run(context.Background(), testRequest(), newTestLog()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if model.closed != 1 {
		t.Fatalf("model closed %d times", model.closed)
	}
}
