package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI is a Model backed by the OpenAI chat completions API or a
// compatible endpoint.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI builds an OpenAI-compatible model. baseURL and httpClient are optional.
func NewOpenAI(apiKey, model, baseURL string, httpClient *http.Client) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key missing", ErrModelUnavailable)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}, nil
}

func (o *OpenAI) Name() string { return "openai:" + o.model }

func (o *OpenAI) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openaiMessages(m)...)
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(schemaMap(t.Parameters)),
			},
		})
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	out := &ChatResponse{Text: choice.Message.Content, FinishReason: choice.FinishReason}
	for _, tc := range choice.Message.ToolCalls {
		out.Calls = append(out.Calls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func openaiMessages(m Message) []openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case RoleAssistant:
		asst := openai.ChatCompletionAssistantMessageParam{}
		if m.Text != "" {
			asst.Content.OfString = openai.String(m.Text)
		}
		for _, c := range m.Calls {
			args := string(c.Args)
			if args == "" {
				args = "{}"
			}
			asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: c.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      c.Name,
					Arguments: args,
				},
			})
		}
		return []openai.ChatCompletionMessageParamUnion{{OfAssistant: &asst}}
	case RoleTool:
		out := make([]openai.ChatCompletionMessageParamUnion, 0, len(m.Results))
		for _, r := range m.Results {
			raw, _ := json.Marshal(resultPayload(r))
			out = append(out, openai.ToolMessage(string(raw), r.CallID))
		}
		return out
	default:
		return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(m.Text)}
	}
}

// schemaMap renders s as a plain JSON-schema map.
func schemaMap(s *Schema) map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	if out["type"] == "object" {
		if _, ok := out["properties"]; !ok {
			out["properties"] = map[string]any{}
		}
	}
	return out
}
