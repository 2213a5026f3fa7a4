package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/newsletter-agent/config"
)

// New builds the model selected by cfg.Backend. A missing API key yields an
// error wrapping ErrModelUnavailable.
func New(ctx context.Context, cfg config.LLMConfig, httpClient *http.Client) (Model, error) {
	switch cfg.Backend {
	case "gemini", "":
		return NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, httpClient)
	case "openai":
		return NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL, httpClient)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrModelUnavailable, cfg.Backend)
	}
}
