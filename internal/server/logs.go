package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
)

// LogsHandler serves GET /agent/logs/:id from the live cache, then the
// archive.
type LogsHandler struct {
	Logs    *reqlog.Service
	Archive LogArchive
}

func (h *LogsHandler) Register(g *echo.Group) {
	g.GET("/logs/:id", h.get)
}

type logsResponse struct {
	ReqID     string         `json:"reqId"`
	Source    string         `json:"source"`
	Logs      []reqlog.Entry `json:"logs"`
	LogsPlain []string       `json:"logsPlain"`
	LogStats  reqlog.Stats   `json:"logStats"`
}

func (h *LogsHandler) get(c echo.Context) error {
	id := c.Param("id")
	if entries, ok := h.Logs.Lookup(id); ok {
		return c.JSON(http.StatusOK, h.response(id, "cache", entries))
	}
	if h.Archive != nil {
		entries, ok, err := h.Archive.ArchivedLogs(c.Request().Context(), id)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if ok {
			return c.JSON(http.StatusOK, h.response(id, "archive", entries))
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "logs not found")
}

func (h *LogsHandler) response(id, source string, entries []reqlog.Entry) logsResponse {
	return logsResponse{
		ReqID:     id,
		Source:    source,
		Logs:      entries,
		LogsPlain: reqlog.Plain(entries, h.Logs.TruncateAt()),
		LogStats:  reqlog.ComputeStats(entries),
	}
}
