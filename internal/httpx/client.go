// Package httpx contains the concrete bottom of the transport stack: the
// net/http-backed base transport and the auth-applying decorators that sit
// directly above it.
package httpx

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stackspot/stkai-go/internal/logger"
	"github.com/stackspot/stkai-go/transport"
)

// Client is the base transport. It executes a single request over net/http
// with OpenTelemetry instrumentation and maps status >= 400 to *StatusError.
// Per-request timeouts come from the Request, not the underlying client.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates the base transport.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With("component", "httpx.client"),
	}
}

// Do implements transport.Transport.
func (c *Client) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &transport.MalformedError{Reason: "building request: " + err.Error()}
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		c.logger.Debug("request failed",
			"method", req.Method, "url", req.URL, "status", resp.StatusCode,
			logger.RequestAttr(ctx))
		return nil, transport.NewStatusError(resp.StatusCode, resp.Header, respBody)
	}

	return &transport.Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}
