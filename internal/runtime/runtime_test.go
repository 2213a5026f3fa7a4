package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/newsletter-agent/config"
)

func runAuth(t *testing.T, secret []byte, header string, mw ...echo.MiddlewareFunc) (*httptest.ResponseRecorder, error, string) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var subject string
	h := func(c echo.Context) error {
		subject, _ = SubjectFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	err := EchoAuthMiddleware(secret)(h)(c)
	return rec, err, subject
}

func statusOf(err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return 0
}

func TestEchoAuthMiddleware(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := SignJWT("editor", secret, time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	rec, err, sub := runAuth(t, secret, "Bearer "+tok)
	if err != nil || rec.Code != http.StatusNoContent || sub != "editor" {
		t.Fatalf("valid token rejected: %v %d %q", err, rec.Code, sub)
	}

	if _, err, _ := runAuth(t, secret, ""); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("missing token: %v", err)
	}
	if _, err, _ := runAuth(t, []byte("other"), "Bearer "+tok); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("wrong secret: %v", err)
	}

	expired, _ := SignJWT("editor", secret, -time.Minute)
	if _, err, _ := runAuth(t, secret, "Bearer "+expired); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("expired token: %v", err)
	}
}

func TestRequireScopes(t *testing.T) {
	secret := []byte("s3cret")
	plain, _ := SignJWT("reader", secret, time.Minute)
	sender, _ := SignJWT("sender", secret, time.Minute, ScopeSend)

	if _, err, _ := runAuth(t, secret, "Bearer "+plain, RequireScopes(ScopeSend)); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 without scope, got %v", err)
	}
	if rec, err, _ := runAuth(t, secret, "Bearer "+sender, RequireScopes(ScopeSend)); err != nil || rec.Code != http.StatusNoContent {
		t.Fatalf("scoped token rejected: %v", err)
	}
}

func TestLoadJWTSecret(t *testing.T) {
	if _, err := LoadJWTSecret(&config.Config{}); err != ErrNoJWTSecret {
		t.Fatalf("expected ErrNoJWTSecret, got %v", err)
	}
	cfg := &config.Config{Server: config.ServerConfig{JWTSecret: "abc"}}
	if s, err := LoadJWTSecret(cfg); err != nil || string(s) != "abc" {
		t.Fatalf("LoadJWTSecret = %q %v", s, err)
	}
}

func TestBuildPostgresDSN(t *testing.T) {
	if _, err := BuildPostgresDSN(&config.Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
	cfg := &config.Config{Storage: config.StorageConfig{Postgres: config.PostgresConfig{Host: "db", DBName: "news", User: "u", Password: "p"}}}
	dsn, err := BuildPostgresDSN(cfg)
	if err != nil || dsn != "postgres://u:p@db:5432/news?sslmode=disable" {
		t.Fatalf("dsn = %q %v", dsn, err)
	}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, tracer, err := SetupTelemetry(context.Background(), config.TelemetryConfig{}, TelemetryOptions{})
	if err != nil || tracer == nil {
		t.Fatalf("SetupTelemetry: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestTraceHook(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	entry := logrus.NewEntry(logrus.New()).WithContext(ctx)
	if err := (TraceHook{}).Fire(entry); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if entry.Data["trace_id"] != traceID.String() || entry.Data["span_id"] != spanID.String() || entry.Data["trace_sampled"] != true {
		t.Fatalf("trace fields missing: %v", entry.Data)
	}

	plain := logrus.NewEntry(logrus.New())
	_ = (TraceHook{}).Fire(plain)
	if _, ok := plain.Data["trace_id"]; ok {
		t.Fatalf("no span, no trace id")
	}
}
