package fetchstate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SourcePulse/fetch_layer/pkg/logger"
)

// maxBodyBytes bounds how much of a response body a fetch will read.
const maxBodyBytes = 8 << 20

// Request describes one remote call.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// Response carries the raw transport outcome back to the controller.
type Response struct {
	StatusCode int
	Body       []byte
}

// Fetcher performs the transport round trip for a request.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request) (Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) (Response, error) {
	if f == nil {
		return Response{}, nil
	}
	return f(ctx, req)
}

// HTTPFetcher issues requests over a shared HTTP client. Non-2xx responses
// are reported as errors alongside the response so callers can record the
// status code.
type HTTPFetcher struct {
	client    *http.Client
	apiKey    string
	userAgent string
	log       *logger.Logger
}

// NewHTTPFetcher constructs an HTTP fetcher. A nil client falls back to a
// 10 second timeout default.
func NewHTTPFetcher(client *http.Client, apiKey string, log *logger.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("http-fetcher")
	}
	return &HTTPFetcher{
		client: client,
		apiKey: strings.TrimSpace(apiKey),
		log:    log,
	}
}

// WithUserAgent sets the User-Agent header attached to outgoing requests.
func (f *HTTPFetcher) WithUserAgent(ua string) *HTTPFetcher {
	f.userAgent = strings.TrimSpace(ua)
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if f.apiKey != "" && httpReq.Header.Get("Authorization") == "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.apiKey)
	}
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, fmt.Errorf("read response body: %w", err)
	}

	out := Response{StatusCode: resp.StatusCode, Body: payload}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, fmt.Errorf("fetch %s: status %d", req.URL, resp.StatusCode)
	}
	return out, nil
}
