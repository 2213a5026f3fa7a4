// Package llm wraps chat-capable language models behind a single-turn
// interface and runs tool-calling loops on top of it.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrModelUnavailable is returned when a backend cannot be constructed,
	// usually because its API key is missing.
	ErrModelUnavailable = errors.New("llm: model unavailable")
	// ErrEmptyResponse is returned when a backend answers with no candidates.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model request to run a named tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is what a tool returned for a call. Err is set when the tool
// failed; the model sees it in place of output.
type ToolResult struct {
	CallID string `json:"callId"`
	Name   string `json:"name"`
	Output any    `json:"output,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    Role         `json:"role"`
	Text    string       `json:"text,omitempty"`
	Calls   []ToolCall   `json:"calls,omitempty"`
	Results []ToolResult `json:"results,omitempty"`
}

// Schema is a JSON-schema subset shared by tool parameters and structured
// outputs.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  *Schema
}

// ChatRequest is a single model turn.
type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	// Schema, when set, asks the backend for JSON matching it.
	Schema *Schema
}

// ChatResponse is the model's reply to one turn.
type ChatResponse struct {
	Text         string
	Calls        []ToolCall
	FinishReason string
}

// Model is a chat-capable language model.
type Model interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
