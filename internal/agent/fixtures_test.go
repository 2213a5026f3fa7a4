package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsletter-agent/internal/content"
	"github.com/mohammad-safakhou/newsletter-agent/internal/delivery"
	"github.com/mohammad-safakhou/newsletter-agent/internal/llm"
	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
	"github.com/mohammad-safakhou/newsletter-agent/internal/store"
)

func newTestLog() *reqlog.Logger {
	return reqlog.NewService(reqlog.Options{MaxEntries: 10, TTL: time.Minute}).Create("")
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	src, err := content.NewDefaultMockSource(0)
	if err != nil {
		t.Fatalf("mock source: %v", err)
	}
	return Deps{
		Source:     src,
		Summarizer: content.ExtractiveSummarizer{},
		Renderer:   content.NewRenderer(nil, nil),
	}
}

func newTestAgent(t *testing.T, model llm.Model) *Agent {
	t.Helper()
	return &Agent{
		NewModel:  func(context.Context, string) (llm.Model, error) { return model, nil },
		Deps:      testDeps(t),
		Planner:   Planner{MaxSteps: 10},
		Guardrail: Guardrail{EmptyRender: EmptyRenderAllow},
		Transport: delivery.NewMock(),
	}
}

func testRequest() *Request {
	return &Request{Topic: "kong", Title: "Kong Weekly", DryRun: true, Provider: DefaultProvider}
}

// directHTML answers every tool-less request with a full document.
func directHTML(body string) func(llm.ChatRequest) (*llm.ChatResponse, error) {
	return func(llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Text: "Here you go:\n<!doctype html><html><body>" + body + "</body></html>", FinishReason: "stop"}, nil
	}
}

func directError(err error) func(llm.ChatRequest) (*llm.ChatResponse, error) {
	return func(llm.ChatRequest) (*llm.ChatResponse, error) { return nil, err }
}

// stubSource returns scripted results and records every query.
type stubSource struct {
	mu      sync.Mutex
	queries []content.FetchQuery
	fetch   func(q content.FetchQuery) ([]content.Item, error)
}

func (s *stubSource) Fetch(_ context.Context, q content.FetchQuery) ([]content.Item, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	return s.fetch(q)
}

func (s *stubSource) Queries() []content.FetchQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]content.FetchQuery(nil), s.queries...)
}

type failingTransport struct{ err error }

func (failingTransport) Name() string { return "failing" }

func (f failingTransport) Send(context.Context, delivery.Message) (delivery.Receipt, error) {
	return delivery.Receipt{}, f.err
}

type memoryDrafts struct {
	saved []store.Draft
	err   error
}

func (m *memoryDrafts) SaveDraft(_ context.Context, d store.Draft) (store.Draft, error) {
	if m.err != nil {
		return store.Draft{}, m.err
	}
	d.ID = "draft-1"
	m.saved = append(m.saved, d)
	return d, nil
}

var errBoom = errors.New("boom")

func failingFetch(content.FetchQuery) ([]content.Item, error) { return nil, errBoom }

// toolCalls counts logged calls of the named tool.
func toolCalls(entries []reqlog.Entry, name string) int {
	n := 0
	for _, e := range entries {
		if e.ToolCall != nil && e.ToolCall.Name == name {
			n++
		}
	}
	return n
}

func hasMsg(entries []reqlog.Entry, msg string) bool {
	for _, e := range entries {
		if e.Msg == msg {
			return true
		}
	}
	return false
}

func msgIndex(entries []reqlog.Entry, prefix string) int {
	for i, e := range entries {
		if strings.HasPrefix(e.Msg, prefix) {
			return i
		}
	}
	return -1
}
