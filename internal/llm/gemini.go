package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// Gemini is a Model backed by the Google Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini connects to Gemini. httpClient may be nil.
func NewGemini(ctx context.Context, apiKey, model string, httpClient *http.Client) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key missing", ErrModelUnavailable)
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		httpClient = &http.Client{
			Timeout:   httpClient.Timeout,
			Transport: &apiKeyTransport{base: httpClient.Transport, apiKey: apiKey},
		}
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return &Gemini{client: client, model: model}, nil
}

// apiKeyTransport re-adds the key header, which a custom HTTP client bypasses.
type apiKeyTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get("x-goog-api-key") == "" && req.URL.Query().Get("key") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("x-goog-api-key", t.apiKey)
	}
	return base.RoundTrip(req)
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

// Close releases the underlying client.
func (g *Gemini) Close() error { return g.client.Close() }

func (g *Gemini) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("gemini: no messages")
	}
	gm := g.client.GenerativeModel(g.model)
	gm.SetTemperature(float32(req.Temperature))
	if req.System != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  geminiSchema(t.Parameters),
			})
		}
		gm.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if req.Schema != nil {
		gm.ResponseMIMEType = "application/json"
		gm.ResponseSchema = geminiSchema(req.Schema)
	}

	history := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		if c := geminiContent(m); c != nil {
			history = append(history, c)
		}
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("gemini: no message content")
	}
	cs := gm.StartChat()
	cs.History = history[:len(history)-1]
	resp, err := cs.SendMessage(ctx, history[len(history)-1].Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	out := &ChatResponse{FinishReason: strings.ToLower(cand.FinishReason.String())}
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		switch v := p.(type) {
		case genai.Text:
			text.WriteString(string(v))
		case genai.FunctionCall:
			args, err := json.Marshal(v.Args)
			if err != nil {
				return nil, fmt.Errorf("gemini: encode args for %s: %w", v.Name, err)
			}
			out.Calls = append(out.Calls, ToolCall{ID: uuid.NewString(), Name: v.Name, Args: args})
		}
	}
	out.Text = text.String()
	if len(out.Calls) > 0 {
		out.FinishReason = "tool-calls"
	}
	return out, nil
}

func geminiContent(m Message) *genai.Content {
	var parts []genai.Part
	if m.Text != "" {
		parts = append(parts, genai.Text(m.Text))
	}
	for _, c := range m.Calls {
		args := map[string]any{}
		if len(c.Args) > 0 {
			_ = json.Unmarshal(c.Args, &args)
		}
		parts = append(parts, genai.FunctionCall{Name: c.Name, Args: args})
	}
	for _, r := range m.Results {
		parts = append(parts, genai.FunctionResponse{Name: r.Name, Response: resultPayload(r)})
	}
	if len(parts) == 0 {
		return nil
	}
	role := "user"
	if m.Role == RoleAssistant {
		role = "model"
	}
	return &genai.Content{Role: role, Parts: parts}
}

func geminiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = geminiSchema(v)
		}
	}
	if s.Items != nil {
		out.Items = geminiSchema(s.Items)
	}
	// Gemini rejects object schemas without properties.
	if out.Type == genai.TypeObject && len(out.Properties) == 0 {
		out.Properties = map[string]*genai.Schema{
			"value": {Type: genai.TypeString, Description: "unused"},
		}
	}
	return out
}
