package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPClient posts JSON with exponential-backoff retries.
type HTTPClient struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

func NewHTTPClient(timeout time.Duration, retries int, backoff time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if backoff == 0 {
		backoff = 300 * time.Millisecond
	}
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		retries: retries,
		backoff: backoff,
	}
}

// StatusError is a non-2xx reply.
type StatusError struct {
	Status string
	Code   int
	Body   string
}

func (e *StatusError) Error() string { return e.Status + ": " + e.Body }

// DoJSON sends body as JSON and decodes a 2xx reply into out. Transport
// errors and 5xx replies are retried; 4xx replies are returned at once.
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if payload != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		lastErr = c.do(req, out)
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && se.Code < 500 {
			return lastErr
		}

		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// best-effort body for the error
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.Status, Code: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RemoteSource calls an external tool service for fetch_sources and
// summarize: POST {base}/fetch_sources and POST {base}/summarize.
type RemoteSource struct {
	base   string
	client *HTTPClient
}

func NewRemoteSource(baseURL string, client *HTTPClient) *RemoteSource {
	if client == nil {
		client = NewHTTPClient(0, 2, 0)
	}
	return &RemoteSource{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (r *RemoteSource) Fetch(ctx context.Context, q FetchQuery) ([]Item, error) {
	var out struct {
		Items []Item `json:"items"`
	}
	if err := r.client.DoJSON(ctx, http.MethodPost, r.base+"/fetch_sources", nil, q, &out); err != nil {
		return nil, fmt.Errorf("remote fetch_sources: %w", err)
	}
	return out.Items, nil
}

func (r *RemoteSource) Summarize(ctx context.Context, items []Item, maxChars int) ([]Summary, error) {
	in := map[string]any{"items": items}
	if maxChars > 0 {
		in["max_chars"] = maxChars
	}
	var out struct {
		Summaries []Summary `json:"summaries"`
	}
	if err := r.client.DoJSON(ctx, http.MethodPost, r.base+"/summarize", nil, in, &out); err != nil {
		return nil, fmt.Errorf("remote summarize: %w", err)
	}
	return out.Summaries, nil
}
