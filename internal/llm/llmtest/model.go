// Package llmtest provides a scripted llm.Model for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mohammad-safakhou/newsletter-agent/internal/llm"
)

// ErrScriptExhausted is returned when a tool-bearing request arrives after
// every scripted turn was consumed.
var ErrScriptExhausted = errors.New("llmtest: planner script exhausted")

// Turn is one scripted reply to a request that offers tools.
type Turn struct {
	Text  string
	Calls []llm.ToolCall
	Err   error
}

// Call builds a tool call with JSON-encoded args.
func Call(name string, args any) llm.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("llmtest: encode %s args: %v", name, err))
	}
	return llm.ToolCall{Name: name, Args: raw}
}

// Model replays Planner turns for requests with tools and delegates every
// other request to Direct. It records every request it receives.
type Model struct {
	Planner []Turn
	Direct  func(req llm.ChatRequest) (*llm.ChatResponse, error)

	mu       sync.Mutex
	next     int
	requests []llm.ChatRequest
}

func (m *Model) Name() string { return "llmtest" }

func (m *Model) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(req.Tools) == 0 {
		m.mu.Unlock()
		if m.Direct == nil {
			return &llm.ChatResponse{FinishReason: "stop"}, nil
		}
		return m.Direct(req)
	}
	if m.next >= len(m.Planner) {
		m.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	turn := m.Planner[m.next]
	m.next++
	m.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}
	calls := make([]llm.ToolCall, len(turn.Calls))
	for i, c := range turn.Calls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("call-%d-%d", m.next, i)
		}
		calls[i] = c
	}
	reason := "stop"
	if len(calls) > 0 {
		reason = "tool-calls"
	}
	return &llm.ChatResponse{Text: turn.Text, Calls: calls, FinishReason: reason}, nil
}

// Requests returns the recorded requests.
func (m *Model) Requests() []llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.ChatRequest(nil), m.requests...)
}

// Failing is a model whose every call fails with Err.
type Failing struct{ Err error }

func (f Failing) Name() string { return "failing" }

func (f Failing) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, f.Err
}
