package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transport is spec.md §4.J's contract: "send(request) → async byte
// stream". HTTPTransport is the real implementation; tests use a fake that
// replays fixed chunks.
type Transport interface {
	Send(ctx context.Context, body []byte) (statusCode int, retryAfter string, stream io.ReadCloser, err error)
}

// HTTPTransport POSTs to <base_url>/responses per spec.md §6.
type HTTPTransport struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
}

// NewHTTPTransport builds an HTTPTransport with spec.md §5's 60s
// per-request timeout if client is nil.
func NewHTTPTransport(baseURL, bearerToken string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPTransport{BaseURL: baseURL, BearerToken: bearerToken, HTTPClient: client}
}

func (t *HTTPTransport) Send(ctx context.Context, body []byte) (int, string, io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return 0, "", nil, fmt.Errorf("llm: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.BearerToken)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, resp.Header.Get("Retry-After"), io.NopCloser(bytes.NewReader(raw)), nil
	}
	return resp.StatusCode, resp.Header.Get("Retry-After"), resp.Body, nil
}

// FakeTransport replays a fixed list of pre-recorded SSE bodies, one per
// call, per spec.md §4.J's "mock transport" contract. Status/body pairs
// beyond the list repeat the last entry.
type FakeTransport struct {
	Responses []FakeResponse
	calls     int
}

// FakeResponse is one canned Send result.
type FakeResponse struct {
	StatusCode int
	RetryAfter string
	Body       string
	Err        error
}

func (f *FakeTransport) Send(ctx context.Context, body []byte) (int, string, io.ReadCloser, error) {
	idx := f.calls
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	f.calls++
	r := f.Responses[idx]
	if r.Err != nil {
		return 0, "", nil, r.Err
	}
	return r.StatusCode, r.RetryAfter, io.NopCloser(bytesReader(r.Body)), nil
}

func bytesReader(s string) io.Reader { return bytes.NewReader([]byte(s)) }
