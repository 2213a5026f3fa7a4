package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/newsletter-agent/internal/agent"
	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
)

const (
	msgInvalidJSON  = "Invalid JSON"
	msgInvalidBody  = "Invalid body"
	msgModelInit    = "Failed to initialize AI model"
	msgNoHTML       = "No HTML produced by the agent and fallback failed."
	maxBodyBytes    = 1 << 20
	archiveDeadline = 5 * time.Second
)

// LogArchive keeps request logs past their in-memory TTL.
type LogArchive interface {
	ArchiveLogs(ctx context.Context, id string, entries []reqlog.Entry) error
	ArchivedLogs(ctx context.Context, id string) ([]reqlog.Entry, bool, error)
}

// AgentHandler serves POST /agent.
type AgentHandler struct {
	Agent   *agent.Agent
	Logs    *reqlog.Service
	Archive LogArchive
	// Timeout bounds a single run; zero means the request context only.
	Timeout time.Duration
	Log     *logrus.Entry
}

func (h *AgentHandler) Register(g *echo.Group) {
	g.POST("", h.run)
}

// run drafts a newsletter.
//
//	@Summary	Draft a newsletter
//	@Tags		agent
//	@Accept		json
//	@Produce	json
//	@Success	200	{object}	agent.Response
//	@Failure	400	{object}	map[string]interface{}
//	@Failure	500	{object}	map[string]interface{}
//	@Failure	502	{object}	map[string]interface{}
//	@Router		/agent [post]
func (h *AgentHandler) run(c echo.Context) error {
	r := c.Request()
	log := h.Logs.Create("")
	c.Response().Header().Set(echo.HeaderXRequestID, log.ID())
	log.Info("request:start", startFields(r))
	defer h.archive(log)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		log.Error("request:read-failed", map[string]any{"err": err.Error()})
		return c.JSON(http.StatusBadRequest, failure(log, log.Dump(), map[string]any{"error": msgInvalidJSON}))
	}

	req, err := agent.ParseRequest(body)
	if err != nil {
		var verr *agent.ValidationError
		switch {
		case errors.As(err, &verr):
			log.Warn("request:validation-failed", map[string]any{"issues": verr.Issues})
			return c.JSON(http.StatusBadRequest, failure(log, log.Dump(), map[string]any{"error": msgInvalidBody, "issues": verr.Issues}))
		default:
			log.Error("request:bad-json", map[string]any{"err": err.Error()})
			return c.JSON(http.StatusBadRequest, failure(log, log.Dump(), map[string]any{"error": msgInvalidJSON}))
		}
	}
	log.Info("request:body", map[string]any{"body": req})

	ctx := r.Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	resp, err := h.Agent.Run(ctx, req, log)
	if err != nil {
		var runErr *agent.RunError
		switch {
		case errors.Is(err, agent.ErrModelUnavailable):
			return c.JSON(http.StatusInternalServerError, failure(log, log.Dump(), map[string]any{"error": msgModelInit}))
		case errors.As(err, &runErr):
			h.logger().WithContext(ctx).WithError(err).WithField("req_id", log.ID()).Warn("agent run failed")
			return c.JSON(http.StatusBadGateway, failure(log, runErr.Logs, map[string]any{
				"error": msgNoHTML,
				"steps": runErr.Steps,
				"trail": runErr.Trail,
			}))
		default:
			return c.JSON(http.StatusInternalServerError, failure(log, log.Dump(), map[string]any{"error": err.Error()}))
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// startFields describes an incoming request. A caller supplied X-Request-ID is
// recorded for correlation only; log ids are always generated.
func startFields(r *http.Request) map[string]any {
	f := map[string]any{"method": r.Method, "path": r.URL.Path}
	if id := r.Header.Get(echo.HeaderXRequestID); id != "" {
		f["clientRequestId"] = id
	}
	return f
}

// failure attaches the request id and its log lines to an error body.
func failure(log *reqlog.Logger, entries []reqlog.Entry, body map[string]any) map[string]any {
	body["reqId"] = log.ID()
	body["logs"] = entries
	return body
}

func (h *AgentHandler) archive(log *reqlog.Logger) {
	if h.Archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveDeadline)
	defer cancel()
	if err := h.Archive.ArchiveLogs(ctx, log.ID(), log.Dump()); err != nil {
		h.logger().WithError(err).WithField("req_id", log.ID()).Warn("archive request logs")
	}
}

func (h *AgentHandler) logger() *logrus.Entry {
	if h.Log != nil {
		return h.Log
	}
	return logrus.WithField("component", "server")
}
