package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// defaultTimeout bounds a single exchange when no custom client is
	// supplied.
	defaultTimeout = 30 * time.Second

	// requestIDHeader carries a per-request correlation ID.
	requestIDHeader = "X-Request-Id"
)

// HTTPInvoker is the net/http implementation of Invoker.
type HTTPInvoker struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	logger     *slog.Logger
}

// Option configures an HTTPInvoker.
type Option func(*HTTPInvoker)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(i *HTTPInvoker) {
		i.httpClient = client
	}
}

// WithHeader adds a standing header sent with every request.
func WithHeader(name, value string) Option {
	return func(i *HTTPInvoker) {
		i.headers[name] = value
	}
}

// WithLogger sets the logger used for exchange-level debug logging.
func WithLogger(logger *slog.Logger) Option {
	return func(i *HTTPInvoker) {
		i.logger = logger
	}
}

// NewHTTPInvoker creates an invoker for the given base endpoint.
func NewHTTPInvoker(baseURL string, options ...Option) *HTTPInvoker {
	inv := &HTTPInvoker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		headers:    make(map[string]string),
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(inv)
	}
	return inv
}

// BaseURL returns the invoker's base endpoint.
func (i *HTTPInvoker) BaseURL() string {
	return i.baseURL
}

// Invoke performs one exchange. A non-nil error means no usable
// response was obtained; gateway-level failures are reported through
// Response.Success and the body.
func (i *HTTPInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	url := i.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set(requestIDHeader, requestID)
	httpReq.Header.Set("Content-Type", "application/json")
	for name, value := range i.headers {
		httpReq.Header.Set(name, value)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	start := time.Now()
	httpResp, err := i.httpClient.Do(httpReq)
	if err != nil {
		i.logger.Debug("transport: exchange failed",
			"path", req.Path, "request_id", requestID, "error", err)
		return nil, fmt.Errorf("exchange with %s: %w", req.Path, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", req.Path, err)
	}

	resp := &Response{
		Success: httpResp.StatusCode >= 200 && httpResp.StatusCode < 300,
	}
	if json.Valid(data) {
		resp.Body = json.RawMessage(data)
	} else {
		resp.Raw = string(data)
	}

	i.logger.Debug("transport: exchange complete",
		"path", req.Path,
		"request_id", requestID,
		"success", resp.Success,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// Verify interface compliance.
var _ Invoker = (*HTTPInvoker)(nil)
