package httpx

import (
	"context"
	"log/slog"

	"github.com/stackspot/stkai-go/internal/hostcli"
	"github.com/stackspot/stkai-go/transport"
)

// HostCLI attaches a bearer header pre-signed by the host CLI session. The
// probe owns token caching; this transport is stateless. On a 401 the CLI
// token cache is invalidated and the call retried once.
type HostCLI struct {
	next   transport.Transport
	probe  *hostcli.Probe
	logger *slog.Logger
}

// NewHostCLI wraps next with host-CLI authentication.
func NewHostCLI(next transport.Transport, probe *hostcli.Probe, logger *slog.Logger) *HostCLI {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostCLI{
		next:   next,
		probe:  probe,
		logger: logger.With("component", "httpx.host_cli"),
	}
}

// Do implements transport.Transport.
func (h *HostCLI) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, err := h.attempt(ctx, req)
	if !isUnauthorized(err) {
		return resp, err
	}

	h.logger.Info("401 received, reissuing host cli token", "url", req.URL)
	h.probe.Invalidate()

	resp, err = h.attempt(ctx, req)
	if isUnauthorized(err) {
		return nil, &transport.AuthError{Reason: "401 after host cli token reissue", Err: err}
	}
	return resp, err
}

func (h *HostCLI) attempt(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	signed := *req
	signed.Headers = cloneHeaders(req.Headers)
	if err := h.probe.Sign(ctx, &signed); err != nil {
		return nil, err
	}
	return h.next.Do(ctx, &signed)
}
