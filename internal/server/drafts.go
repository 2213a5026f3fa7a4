package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newsletter-agent/internal/store"
)

// DraftReader is the read side of draft history.
type DraftReader interface {
	ListDrafts(ctx context.Context, limit int) ([]store.Draft, error)
	GetDraft(ctx context.Context, id string) (store.Draft, error)
}

type DraftsHandler struct {
	Drafts DraftReader
}

func (h *DraftsHandler) Register(g *echo.Group) {
	g.GET("/drafts", h.list)
	g.GET("/drafts/:id", h.get)
}

func (h *DraftsHandler) list(c echo.Context) error {
	if h.Drafts == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "draft history not configured")
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	drafts, err := h.Drafts.ListDrafts(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if drafts == nil {
		drafts = []store.Draft{}
	}
	return c.JSON(http.StatusOK, map[string]any{"drafts": drafts})
}

func (h *DraftsHandler) get(c echo.Context) error {
	if h.Drafts == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "draft history not configured")
	}
	d, err := h.Drafts.GetDraft(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "draft not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}
