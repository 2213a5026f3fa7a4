package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/newsletter-agent/internal/agent"
	"github.com/mohammad-safakhou/newsletter-agent/internal/content"
	"github.com/mohammad-safakhou/newsletter-agent/internal/delivery"
	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
	"github.com/mohammad-safakhou/newsletter-agent/internal/runtime"
)

// Options carries everything the HTTP layer needs. Archive, Drafts and
// Secret are optional.
type Options struct {
	Agent          *agent.Agent
	Logs           *reqlog.Service
	Archive        LogArchive
	Footer         content.FooterStore
	Drafts         DraftReader
	Transport      delivery.Transport
	Metrics        *agent.Metrics
	Secret         []byte
	CORSOrigins    []string
	RequestTimeout time.Duration
	Logger         *logrus.Entry
}

// New builds the echo instance with every route mounted.
func New(opts Options) *echo.Echo {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "server")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		log.WithContext(req.Context()).WithFields(logrus.Fields{
			"status": code,
			"method": req.Method,
			"path":   req.URL.Path,
			"remote": c.RealIP(),
		}).Warn(err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	registerDocs(e)

	g := e.Group("/agent")
	var sendGuard []echo.MiddlewareFunc
	if len(opts.Secret) > 0 {
		g.Use(runtime.EchoAuthMiddleware(opts.Secret))
		sendGuard = append(sendGuard, runtime.RequireScopes(runtime.ScopeSend))
	}

	ah := &AgentHandler{
		Agent:   opts.Agent,
		Logs:    opts.Logs,
		Archive: opts.Archive,
		Timeout: opts.RequestTimeout,
		Log:     log,
	}
	ah.Register(g)

	sh := &SendHandler{Transport: opts.Transport, Logs: opts.Logs, Metrics: opts.Metrics}
	sh.Register(g, sendGuard...)

	lh := &LogsHandler{Logs: opts.Logs, Archive: opts.Archive}
	lh.Register(g)

	fh := &FooterHandler{Store: opts.Footer}
	fh.Register(g)

	dh := &DraftsHandler{Drafts: opts.Drafts}
	dh.Register(g)

	return e
}

// Serve runs e on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, e *echo.Echo, addr string, log *logrus.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
