package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newsletter-agent/internal/agent"
	"github.com/mohammad-safakhou/newsletter-agent/internal/delivery"
	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
)

// SendHandler serves POST /agent/send: delivery of an already drafted
// newsletter.
type SendHandler struct {
	Transport delivery.Transport
	Logs      *reqlog.Service
	Metrics   *agent.Metrics
}

func (h *SendHandler) Register(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.POST("/send", h.send, mw...)
}

// parseSend decodes {to, subject, html}. A nil message with no issues means
// the body was not a JSON object.
func parseSend(body []byte) (*delivery.Message, []agent.Issue) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, nil
	}
	var issues []agent.Issue
	field := func(name string) string {
		v, ok := raw[name]
		if !ok {
			issues = append(issues, agent.Issue{Field: name, Message: "required"})
			return ""
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			issues = append(issues, agent.Issue{Field: name, Message: "expected string"})
			return ""
		}
		return s
	}
	msg := &delivery.Message{To: strings.TrimSpace(field("to")), Subject: field("subject"), HTML: field("html")}
	if len(issues) > 0 {
		return msg, issues
	}
	if !govalidator.IsEmail(msg.To) {
		issues = append(issues, agent.Issue{Field: "to", Message: "invalid email"})
	}
	if strings.TrimSpace(msg.Subject) == "" {
		issues = append(issues, agent.Issue{Field: "subject", Message: "must not be empty"})
	}
	if strings.TrimSpace(msg.HTML) == "" {
		issues = append(issues, agent.Issue{Field: "html", Message: "must not be empty"})
	}
	return msg, issues
}

func (h *SendHandler) send(c echo.Context) error {
	r := c.Request()
	log := h.Logs.Create("")
	c.Response().Header().Set(echo.HeaderXRequestID, log.ID())
	log.Info("send:request:start", startFields(r))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": msgInvalidJSON})
	}
	msg, issues := parseSend(body)
	switch {
	case msg == nil:
		log.Error("send:bad-json", nil)
		return c.JSON(http.StatusBadRequest, map[string]any{"error": msgInvalidJSON})
	case len(issues) > 0:
		log.Warn("send:validation-failed", map[string]any{"issues": issues})
		return c.JSON(http.StatusBadRequest, map[string]any{"error": msgInvalidBody, "issues": issues})
	}

	if h.Transport == nil {
		log.Error("send:failed", map[string]any{"err": "no transport configured"})
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "no transport configured"})
	}
	log.Step("send:begin", map[string]any{"to": msg.To, "subject": msg.Subject})
	receipt, err := h.Transport.Send(r.Context(), *msg)
	if err != nil {
		log.Error("send:failed", map[string]any{"err": err.Error()})
		h.count(h.Transport.Name(), "error")
		log.Done(nil)
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
	log.Info("send:ok", map[string]any{"provider": receipt.Provider, "messageId": receipt.MessageID})
	h.count(receipt.Provider, "ok")
	log.Done(nil)
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "provider": receipt.Provider, "reqId": log.ID()})
}

func (h *SendHandler) count(provider, outcome string) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.Deliveries.WithLabelValues(provider, outcome).Inc()
}
