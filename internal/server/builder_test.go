package server

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/newsletter-agent/config"
	"github.com/mohammad-safakhou/newsletter-agent/internal/content"
)

func baseConfig() *config.Config {
	return &config.Config{
		LLM:       config.LLMConfig{Backend: "gemini", MaxSteps: 10},
		Logging:   config.LoggingConfig{MaxEntries: 10, TTL: time.Minute},
		Content:   config.ContentConfig{Backend: "mock", FillTo: 5},
		Article:   config.ArticleConfig{Fetcher: "http", Policy: config.CrawlPolicyConfig{Disallow: []string{"blocked.com"}}},
		Guardrail: config.GuardrailConfig{EmptyRender: "reject", SummaryMaxChars: 300},
		Delivery:  config.DeliveryConfig{Transport: "mock"},
	}
}

func TestBuildWithoutBackends(t *testing.T) {
	cfg := baseConfig()
	reg := prometheus.NewRegistry()
	rt, err := Build(context.Background(), cfg, logrus.New(), reg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()

	if rt.Store != nil || rt.Redis != nil || rt.Agent.Drafts != nil {
		t.Fatalf("storage should stay disabled")
	}
	if _, ok := rt.Footer.(*content.MemoryFooterStore); !ok {
		t.Fatalf("footer store = %T", rt.Footer)
	}
	if rt.Transport.Name() != "mock" || rt.Agent.Guardrail.SummaryMaxChars != 300 || rt.Agent.Planner.MaxSteps != 10 {
		t.Fatalf("agent not configured from cfg: %+v", rt.Agent)
	}
	if _, ok := rt.Agent.Deps.Articles.(content.PolicyFetcher); !ok {
		t.Fatalf("article fetcher not wrapped by the crawl policy: %T", rt.Agent.Deps.Articles)
	}

	// no api key: the model factory reports the backend as unavailable
	if _, err := rt.Agent.NewModel(context.Background(), "gemini"); err == nil {
		t.Fatalf("expected model init error without an api key")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "newsletter_log_cache_entries" {
			found = true
		}
	}
	if !found {
		t.Fatalf("log cache gauge not registered")
	}
}

func TestOptionsEnablesAuth(t *testing.T) {
	cfg := baseConfig()
	cfg.Server.JWTSecret = "s3cret"
	rt, err := Build(context.Background(), cfg, logrus.New(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	opts, err := rt.Options(cfg, logrus.New())
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if string(opts.Secret) != "s3cret" || opts.Archive != nil || opts.Drafts != nil {
		t.Fatalf("unexpected options: %+v", opts)
	}
}
