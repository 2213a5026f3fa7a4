package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mohammad-safakhou/newsletter-agent/config"
	"github.com/mohammad-safakhou/newsletter-agent/internal/agent"
	"github.com/mohammad-safakhou/newsletter-agent/internal/content"
	"github.com/mohammad-safakhou/newsletter-agent/internal/delivery"
	"github.com/mohammad-safakhou/newsletter-agent/internal/llm"
	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
	"github.com/mohammad-safakhou/newsletter-agent/internal/runtime"
	"github.com/mohammad-safakhou/newsletter-agent/internal/store"
)

const metricsNamespace = "newsletter"

// Runtime is the assembled service: the agent plus the optional backends it
// was wired with. Close releases them.
type Runtime struct {
	Agent     *agent.Agent
	Logs      *reqlog.Service
	Footer    content.FooterStore
	Transport delivery.Transport
	Metrics   *agent.Metrics
	Redis     *store.Redis
	Store     *store.Store

	closers []func() error
}

// Build wires every collaborator from cfg. Postgres and Redis are only
// opened when configured.
func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger, reg prometheus.Registerer) (*Runtime, error) {
	log := logger.WithField("component", "builder")
	rt := &Runtime{}
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	var console *logrus.Logger
	if cfg.Logging.Console {
		console = reqlog.NewConsole(os.Stdout, cfg.Logging.ConsoleLevel, cfg.Logging.TruncateAt)
	}
	rt.Logs = reqlog.NewService(reqlog.Options{
		MaxEntries: cfg.Logging.MaxEntries,
		TTL:        cfg.Logging.TTL,
		TruncateAt: cfg.Logging.TruncateAt,
		Console:    console,
	})

	deps, err := buildDeps(cfg)
	if err != nil {
		return nil, err
	}

	rt.Footer = content.NewMemoryFooterStore()
	if cfg.Storage.Redis.Enabled() {
		r := store.NewRedis(cfg.Storage.Redis)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr, err)
		}
		rt.Redis = r
		rt.Footer = r
		rt.closers = append(rt.closers, r.Close)
		log.WithField("addr", cfg.Storage.Redis.Addr).Info("redis enabled")
	}
	deps.Renderer = content.NewRenderer(rt.Footer, content.LoadPresets())

	if cfg.Storage.Postgres.Enabled() {
		dsn := cfg.Storage.Postgres.DSN()
		if err := store.Migrate("", dsn, "up", 0); err != nil {
			rt.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		st, err := store.NewWithDSN(ctx, dsn)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Store = st
		rt.closers = append(rt.closers, st.Close)
		log.Info("draft history enabled")
	}

	rt.Transport, err = delivery.New(cfg.Delivery)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Metrics = agent.NewMetrics(metricsNamespace, reg)
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cache := rt.Logs.Cache()
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "log_cache_entries",
		Help:      "Request logs currently held in memory",
	}, func() float64 { return float64(cache.Len()) })

	llmCfg := cfg.LLM
	rt.Agent = &agent.Agent{
		NewModel: func(ctx context.Context, _ string) (llm.Model, error) {
			return llm.New(ctx, llmCfg, httpClient)
		},
		Deps: deps,
		Writer: content.Writer{
			Temperature:           cfg.LLM.WriterTemperature,
			StructuredTemperature: cfg.LLM.StructuredTemperature,
		},
		Planner: agent.Planner{
			MaxSteps:    cfg.LLM.MaxSteps,
			Temperature: cfg.LLM.PlannerTemperature,
		},
		Guardrail: agent.Guardrail{
			EmptyRender:     agent.EmptyRenderPolicy(cfg.Guardrail.EmptyRender),
			SummaryMaxChars: cfg.Guardrail.SummaryMaxChars,
		},
		Transport: rt.Transport,
		Metrics:   rt.Metrics,
		Logger:    logger.WithField("component", "agent"),
	}
	if rt.Store != nil {
		rt.Agent.Drafts = rt.Store
	}
	return rt, nil
}

func buildDeps(cfg *config.Config) (agent.Deps, error) {
	var deps agent.Deps
	switch cfg.Content.Backend {
	case "remote":
		client := content.NewHTTPClient(cfg.Content.Timeout, cfg.Content.Retries, 0)
		remote := content.NewRemoteSource(cfg.Content.RemoteURL, client)
		deps.Source, deps.Summarizer = remote, remote
	default:
		src, err := content.NewDefaultMockSource(cfg.Content.FillTo)
		if err != nil {
			return deps, fmt.Errorf("mock source: %w", err)
		}
		deps.Source, deps.Summarizer = src, content.ExtractiveSummarizer{}
	}

	deps.ArticleMaxChars = cfg.Article.MaxChars
	switch cfg.Article.Fetcher {
	case "http":
		f := content.NewHTTPArticleFetcher(cfg.Article.Timeout, cfg.Article.MaxChars)
		f.Permit = cfg.Article.Policy.Permits
		f.AllowPrivate = cfg.Article.AllowPrivate
		deps.Articles = f
	case "browser":
		deps.Articles = content.BrowserArticleFetcher{
			Timeout:      cfg.Article.Timeout,
			MaxChars:     cfg.Article.MaxChars,
			AllowPrivate: cfg.Article.AllowPrivate,
		}
	}
	if deps.Articles != nil {
		deps.Articles = content.PolicyFetcher{Next: deps.Articles, Permit: cfg.Article.Policy.Permits}
	}
	return deps, nil
}

// Options returns the HTTP options for this runtime.
func (rt *Runtime) Options(cfg *config.Config, logger *logrus.Logger) (Options, error) {
	opts := Options{
		Agent:          rt.Agent,
		Logs:           rt.Logs,
		Footer:         rt.Footer,
		Transport:      rt.Transport,
		Metrics:        rt.Metrics,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.General.RequestTimeout,
		Logger:         logger.WithField("component", "server"),
	}
	if rt.Redis != nil {
		opts.Archive = rt.Redis
	}
	if rt.Store != nil {
		opts.Drafts = rt.Store
	}
	if cfg.Server.JWTSecret != "" {
		secret, err := runtime.LoadJWTSecret(cfg)
		if err != nil {
			return opts, err
		}
		opts.Secret = secret
	}
	return opts, nil
}

// Close releases backends in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i]()
	}
	rt.closers = nil
}

// Run builds the runtime and serves HTTP until ctx ends.
func Run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	log := logger.WithField("component", "server")

	tel, _, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	rt, err := Build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.Logging.SweepInterval > 0 {
		go rt.Logs.Cache().Run(ctx, cfg.Logging.SweepInterval)
	}

	opts, err := rt.Options(cfg, logger)
	if err != nil {
		return err
	}
	e := New(opts)
	if cfg.Telemetry.Enabled {
		e.Use(echo.WrapMiddleware(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "http.server")
		}))
	}

	addr := cfg.General.Listen
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	if addr == "" {
		addr = ":10001"
	}
	return Serve(ctx, e, addr, log)
}

