package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBytes bounds how much of a gateway response is read.
const maxResponseBytes = 1 << 20

// HTTPClient is the JSON client adapters use to talk to their gateway.
// Every failure is returned as a *errors.GatewayError with a kind derived from
// the transport error or HTTP status.
type HTTPClient struct {
	gateway string
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for one gateway. Requests are traced through otelhttp.
func NewHTTPClient(gateway, baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		gateway: gateway,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Request describes one gateway call.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// JSONBody marshals v for use as a Request body.
func JSONBody(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return b, nil
}

// Do sends req and decodes a 2xx response body into out (when out is non-nil).
func (c *HTTPClient) Do(ctx context.Context, req Request, out any) error {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return domainErrors.NewGatewayError(c.gateway, domainErrors.KindUnavailable, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return domainErrors.NewGatewayError(c.gateway, transportKind(ctx, err), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domainErrors.NewGatewayError(c.gateway, transportKind(ctx, err), fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domainErrors.NewGatewayError(c.gateway, StatusKind(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(payload, 256)))
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return domainErrors.NewGatewayError(c.gateway, domainErrors.KindParse, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// StatusKind maps a non-2xx HTTP status to a gateway error kind.
func StatusKind(status int) domainErrors.GatewayErrorKind {
	switch {
	case status == http.StatusNotFound:
		return domainErrors.KindNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domainErrors.KindTimeout
	case status == http.StatusTooManyRequests || status >= 500:
		return domainErrors.KindUnavailable
	default:
		return domainErrors.KindRejected
	}
}

func transportKind(ctx context.Context, err error) domainErrors.GatewayErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domainErrors.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domainErrors.KindTimeout
	}
	return domainErrors.KindUnavailable
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
