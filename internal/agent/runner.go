package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mohammad-safakhou/newsletter-agent/internal/content"
	"github.com/mohammad-safakhou/newsletter-agent/internal/delivery"
	"github.com/mohammad-safakhou/newsletter-agent/internal/llm"
	"github.com/mohammad-safakhou/newsletter-agent/internal/reqlog"
	"github.com/mohammad-safakhou/newsletter-agent/internal/store"
)

// ErrModelUnavailable means no model could be built for the request.
var ErrModelUnavailable = errors.New("model unavailable")

// ModelFactory builds the model for a request's provider.
type ModelFactory func(ctx context.Context, provider string) (llm.Model, error)

// DraftSaver persists finished drafts.
type DraftSaver interface {
	SaveDraft(ctx context.Context, d store.Draft) (store.Draft, error)
}

// Agent runs one newsletter request end to end.
type Agent struct {
	NewModel ModelFactory
	// Deps.Writer is replaced per run by a writer bound to the run's model.
	Deps      Deps
	Writer    content.Writer
	Planner   Planner
	Guardrail Guardrail
	Transport delivery.Transport
	// Drafts is optional.
	Drafts  DraftSaver
	Metrics *Metrics
	Logger  *logrus.Entry
}

// Response is the successful result of a run.
type Response struct {
	ReqID         string            `json:"reqId"`
	HTML          string            `json:"html"`
	Source        string            `json:"source"`
	State         State             `json:"state"`
	Trail         []State           `json:"trail"`
	Debug         []reqlog.Entry    `json:"debug"`
	Logs          []reqlog.Entry    `json:"logs"`
	LogsPlain     []string          `json:"logsPlain"`
	TotalDuration int64             `json:"totalDuration"`
	LogStats      reqlog.Stats      `json:"logStats"`
	Send          *delivery.Receipt `json:"send,omitempty"`
	SendError     string            `json:"sendError,omitempty"`
	DraftID       string            `json:"draftId,omitempty"`
}

// RunError is returned when no tier produced HTML.
type RunError struct {
	Err   error
	Steps []llm.Step
	Trail []State
	Logs  []reqlog.Entry
}

func (e *RunError) Error() string {
	return fmt.Sprintf("no html produced by the agent and fallback failed: %v", e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Run plans, recovers when the plan yields no HTML, then optionally delivers
// and stores the draft. Delivery and storage failures never fail the run.
func (a *Agent) Run(ctx context.Context, req *Request, log *reqlog.Logger) (*Response, error) {
	ctx, span := tracer.Start(ctx, "agent.run")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", log.ID()), attribute.String("request.topic", req.Topic))

	log.Step("request:validated", map[string]any{"data": req})

	model, err := a.model(ctx, req)
	if err != nil {
		log.Error("model:init-failed", map[string]any{"err": err.Error()})
		a.logger().WithError(err).Error("model init failed")
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if c, ok := model.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				a.logger().WithError(err).Debug("model close failed")
			}
		}()
	}

	deps := a.Deps
	w := a.Writer
	w.Model = model
	deps.Writer = &w
	reg := NewRegistry(req, deps, log, a.Metrics)

	planner := a.Planner
	planner.Model = model
	steps, err := planner.Run(ctx, req, reg, log)
	if err != nil {
		a.logger().WithError(err).WithField("req_id", log.ID()).Warn("planner failed; continuing with guardrail")
	}

	source, html := ExtractHTML(steps)
	picked := source
	if picked == "" {
		picked = "none"
	}
	log.Info("planner:result-picked", map[string]any{"source": picked, "html_len": len(html)})

	out := Outcome{Final: StateDone, Tier: StatePlannerResult, Source: source, HTML: html, Trail: []State{StatePlannerResult, StateDone}}
	if html == "" {
		out = a.Guardrail.Recover(ctx, req, reg, log, a.Metrics)
	}
	span.SetAttributes(attribute.String("agent.tier", string(out.Tier)))

	if out.Final == StateFailed {
		a.Metrics.run(StateFailed)
		log.Done(map[string]any{"html_len": 0})
		return nil, &RunError{Err: out.Err, Steps: steps, Trail: out.Trail, Logs: log.Dump()}
	}
	a.Metrics.run(out.Tier)

	resp := &Response{ReqID: log.ID(), HTML: out.HTML, Source: out.Source, State: out.Tier, Trail: out.Trail}

	if !req.DryRun && req.To != "" && out.HTML != "" {
		a.deliver(ctx, req, out.HTML, log, resp)
	}
	if a.Drafts != nil {
		a.saveDraft(ctx, req, resp, log)
	}

	log.Done(map[string]any{"html_len": len(out.HTML)})

	entries := log.Dump()
	resp.Debug = entries
	resp.Logs = entries
	resp.LogsPlain = reqlog.Plain(entries, log.TruncateAt())
	resp.LogStats = reqlog.ComputeStats(entries)
	resp.TotalDuration = log.Elapsed().Milliseconds()
	return resp, nil
}

func (a *Agent) model(ctx context.Context, req *Request) (llm.Model, error) {
	if a.NewModel == nil {
		return nil, errors.New("no model factory configured")
	}
	provider := req.Provider
	if provider == "" {
		provider = DefaultProvider
	}
	m, err := a.NewModel(ctx, provider)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("model factory returned nil")
	}
	return m, nil
}

func (a *Agent) deliver(ctx context.Context, req *Request, html string, log *reqlog.Logger, resp *Response) {
	ctx, span := tracer.Start(ctx, "agent.deliver")
	defer span.End()

	log.Step("send:begin", map[string]any{"to": req.To})
	if a.Transport == nil {
		resp.SendError = "no delivery transport configured"
		log.Warn("send:failed", map[string]any{"err": resp.SendError})
		return
	}
	rcpt, err := a.Transport.Send(ctx, delivery.Message{To: req.To, Subject: req.Title, HTML: html})
	if err != nil {
		resp.SendError = err.Error()
		log.Warn("send:failed", map[string]any{"err": err.Error()})
		span.RecordError(err)
		a.Metrics.delivery(a.Transport.Name(), "error")
		return
	}
	resp.Send = &rcpt
	log.Info("send:ok", nil)
	a.Metrics.delivery(a.Transport.Name(), "ok")
}

func (a *Agent) saveDraft(ctx context.Context, req *Request, resp *Response, log *reqlog.Logger) {
	d, err := a.Drafts.SaveDraft(ctx, store.Draft{
		ReqID:     resp.ReqID,
		Topic:     req.Topic,
		Title:     req.Title,
		Source:    resp.Source,
		Tier:      string(resp.State),
		HTML:      resp.HTML,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Warn("draft:save-failed", map[string]any{"err": err.Error()})
		a.logger().WithError(err).Warn("draft save failed")
		return
	}
	resp.DraftID = d.ID
	log.Debug("draft:saved", map[string]any{"id": d.ID})
}

func (a *Agent) logger() *logrus.Entry {
	if a.Logger != nil {
		return a.Logger
	}
	return logrus.WithField("component", "agent")
}
