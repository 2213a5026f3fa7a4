package agent

import (
	"encoding/json"

	"github.com/mohammad-safakhou/newsletter-agent/internal/llm"
)

// ExtractHTML picks the final artifact from planner steps: the first
// write_newsletter result with HTML, else the first generate_email result
// with HTML. It returns empty strings when neither exists.
func ExtractHTML(steps []llm.Step) (source, html string) {
	var fromEmail string
	for _, s := range steps {
		for _, r := range s.Results {
			if r.Err != "" {
				continue
			}
			switch r.Name {
			case ToolWriteNewsletter.String():
				if h := htmlOf(r.Output); h != "" {
					return r.Name, h
				}
			case ToolGenerateEmail.String():
				if fromEmail == "" {
					fromEmail = htmlOf(r.Output)
				}
			}
		}
	}
	if fromEmail != "" {
		return ToolGenerateEmail.String(), fromEmail
	}
	return "", ""
}

func htmlOf(v any) string {
	switch out := v.(type) {
	case HTMLOutput:
		return out.HTML
	case *HTMLOutput:
		if out != nil {
			return out.HTML
		}
	case map[string]any:
		s, _ := out["html"].(string)
		return s
	case nil:
	default:
		raw, err := json.Marshal(out)
		if err != nil {
			return ""
		}
		var h HTMLOutput
		if json.Unmarshal(raw, &h) == nil {
			return h.HTML
		}
	}
	return ""
}
