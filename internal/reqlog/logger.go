// Package reqlog keeps a structured, per-request log that can be returned to
// callers alongside their result and mirrored to the process console.
package reqlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const tsLayout = "2006-01-02T15:04:05.000Z"

// Options configures a Service.
type Options struct {
	MaxEntries int
	TTL        time.Duration
	TruncateAt int
	// Console receives a mirror of every entry; nil disables mirroring.
	Console *logrus.Logger
}

// Service hands out request loggers backed by a shared Cache.
type Service struct {
	cache      *Cache
	console    *logrus.Logger
	truncateAt int
	now        func() time.Time
}

// NewService builds a Service from opts.
func NewService(opts Options) *Service {
	if opts.TruncateAt <= 0 {
		opts.TruncateAt = DefaultTruncateAt
	}
	return &Service{
		cache:      NewCache(opts.MaxEntries, opts.TTL),
		console:    opts.Console,
		truncateAt: opts.TruncateAt,
		now:        time.Now,
	}
}

// Cache exposes the backing cache for sweeping and metrics.
func (s *Service) Cache() *Cache { return s.cache }

// Lookup returns the lines recorded for a request id, if still cached.
func (s *Service) Lookup(id string) ([]Entry, bool) { return s.cache.Get(id) }

// TruncateAt returns the configured rune budget for rendered payloads.
func (s *Service) TruncateAt() int { return s.truncateAt }

// Create returns a logger for id. An empty id gets a fresh UUID. Creating a
// logger for an id that is still cached appends to the existing lines.
func (s *Service) Create(id string) *Logger {
	if id == "" {
		id = uuid.NewString()
	}
	return &Logger{
		id:       id,
		svc:      s,
		rec:      s.cache.open(id),
		start:    s.now(),
		inflight: make(map[string]inflightCall),
	}
}

type inflightCall struct {
	name  string
	start time.Time
	seq   int
}

// Logger appends entries for a single request. It is safe for concurrent use.
type Logger struct {
	id    string
	svc   *Service
	rec   *record
	start time.Time

	mu       sync.Mutex
	seq      int
	inflight map[string]inflightCall
}

// ID returns the request id.
func (l *Logger) ID() string { return l.id }

// Elapsed returns the time since the logger was created.
func (l *Logger) Elapsed() time.Duration { return l.svc.now().Sub(l.start) }

func (l *Logger) Debug(msg string, data any) { l.push(LevelDebug, msg, data, nil) }
func (l *Logger) Info(msg string, data any)  { l.push(LevelInfo, msg, data, nil) }
func (l *Logger) Warn(msg string, data any)  { l.push(LevelWarn, msg, data, nil) }
func (l *Logger) Error(msg string, data any) { l.push(LevelError, msg, data, nil) }

// Step records a named phase boundary with the elapsed milliseconds.
func (l *Logger) Step(label string, extra map[string]any) {
	ms := l.Elapsed().Milliseconds()
	l.push(LevelInfo, "step:"+label, withMS(ms, extra), func(e *Entry) {
		e.Step = &StepMarker{Name: label, Phase: "execution"}
		e.Duration = ms
	})
}

// ToolCall records the start of a tool invocation and returns an id to pair
// with the matching ToolResult or ToolError.
func (l *Logger) ToolCall(name string, input any) string {
	now := l.svc.now()
	l.mu.Lock()
	l.seq++
	callID := fmt.Sprintf("%s-%s-%d", l.id, name, l.seq)
	l.inflight[callID] = inflightCall{name: name, start: now, seq: l.seq}
	l.mu.Unlock()

	clean := Redact(input)
	l.push(LevelDebug, "tool:call:"+name, map[string]any{"input": input}, func(e *Entry) {
		e.ToolCall = &ToolCallRecord{Name: name, Input: clean, StartTime: now.UnixMilli()}
	})
	return callID
}

// ToolResult records a finished tool invocation. When callID is empty or
// unknown the oldest in-flight call with the same name is used for timing.
func (l *Logger) ToolResult(name string, output any, callID string, success bool) {
	d := l.finishCall(name, callID)
	clean := Redact(output)
	l.push(LevelDebug, "tool:result:"+name, map[string]any{"output": output}, func(e *Entry) {
		e.ToolResult = &ToolResultRecord{Name: name, Output: clean, Duration: d, Success: success}
	})
}

// ToolError records a failed tool invocation.
func (l *Logger) ToolError(name string, err error, callID string) {
	d := l.finishCall(name, callID)
	msg := fmt.Sprint(err)
	l.push(LevelError, "tool:error:"+name, map[string]any{"error": msg}, func(e *Entry) {
		e.ToolResult = &ToolResultRecord{
			Name:     name,
			Output:   map[string]any{"error": msg},
			Duration: d,
			Success:  false,
		}
	})
}

// ModelCall records a model interaction under "model:<what>".
func (l *Logger) ModelCall(what string, payload map[string]any) {
	ms := l.Elapsed().Milliseconds()
	var data any
	if payload != nil {
		data = map[string]any{"payload": payload}
	}
	l.push(LevelDebug, "model:"+what, data, func(e *Entry) { e.Duration = ms })
}

// Done records the end of the request.
func (l *Logger) Done(extra map[string]any) {
	ms := l.Elapsed().Milliseconds()
	l.push(LevelInfo, "done", withMS(ms, extra), func(e *Entry) { e.Duration = ms })
}

// Dump returns a copy of the entries recorded so far.
func (l *Logger) Dump() []Entry { return l.svc.cache.snapshot(l.rec) }

// DumpPlain returns the entries as flattened text lines.
func (l *Logger) DumpPlain() []string { return Plain(l.Dump(), l.svc.truncateAt) }

// TruncateAt is the rune budget used when rendering plain lines.
func (l *Logger) TruncateAt() int { return l.svc.truncateAt }

// Stats summarizes the entries recorded so far.
func (l *Logger) Stats() Stats { return ComputeStats(l.Dump()) }

// Plain flattens entries into text lines.
func Plain(entries []Entry, truncateAt int) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Plain(truncateAt)
	}
	return out
}

func (l *Logger) finishCall(name, callID string) int64 {
	now := l.svc.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if call, ok := l.inflight[callID]; ok {
		delete(l.inflight, callID)
		return now.Sub(call.start).Milliseconds()
	}
	var (
		pick  string
		found inflightCall
	)
	for id, call := range l.inflight {
		if call.name != name {
			continue
		}
		if pick == "" || call.seq < found.seq {
			pick, found = id, call
		}
	}
	if pick == "" {
		return 0
	}
	delete(l.inflight, pick)
	return now.Sub(found.start).Milliseconds()
}

func (l *Logger) push(level Level, msg string, data any, decorate func(*Entry)) {
	e := Entry{
		TS:    l.svc.now().UTC().Format(tsLayout),
		Level: level,
		ReqID: l.id,
		Msg:   msg,
		Data:  Redact(data),
	}
	if decorate != nil {
		decorate(&e)
	}
	l.svc.cache.append(l.rec, e)
	if l.svc.console != nil {
		l.svc.console.WithField(entryField, e).Log(logrusLevel(level), msg)
	}
}

func withMS(ms int64, extra map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+1)
	out["ms"] = ms
	for k, v := range extra {
		out[k] = v
	}
	return out
}
