package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newsletter-agent/internal/agent"
	"github.com/mohammad-safakhou/newsletter-agent/internal/content"
)

// FooterHandler reads and patches the footer used by generate_email.
type FooterHandler struct {
	Store content.FooterStore
}

func (h *FooterHandler) Register(g *echo.Group) {
	g.GET("/footer", h.get)
	g.PUT("/footer", h.update)
}

func (h *FooterHandler) get(c echo.Context) error {
	s, err := h.Store.Footer(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}

func (h *FooterHandler) update(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}
	var p content.FooterPatch
	if err := json.Unmarshal(body, &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}
	if issues := footerIssues(p); len(issues) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": msgInvalidBody, "issues": issues})
	}
	s, err := content.UpdateFooter(c.Request().Context(), h.Store, p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}

func footerIssues(p content.FooterPatch) []agent.Issue {
	var issues []agent.Issue
	urls := []struct {
		field string
		v     *string
	}{
		{"unsubscribeUrl", p.UnsubscribeURL},
		{"websiteUrl", p.WebsiteURL},
		{"twitterUrl", p.TwitterURL},
		{"linkedinUrl", p.LinkedinURL},
	}
	for _, u := range urls {
		if u.v != nil && *u.v != "" && !govalidator.IsURL(*u.v) {
			issues = append(issues, agent.Issue{Field: u.field, Message: "invalid url"})
		}
	}
	return issues
}
