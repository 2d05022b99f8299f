package logger

import (
	"context"
	"log/slog"
)

// scope carries the per-call logging identity of an envelope or chat request
// down the transport stack, where the HTTP client cannot see the envelope.
type scope struct {
	requestID string
}

type scopeKey struct{}

// WithRequestID binds the envelope id to the context for downstream log
// correlation. An empty id leaves the context untouched.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, scope{requestID: id})
}

// RequestID returns the envelope id bound to the context, or "" when the call
// did not originate from an envelope.
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s.requestID
}

// RequestAttr renders the context's request scope as a log attribute, so
// transport-level records line up with the envelope logs emitted above them.
func RequestAttr(ctx context.Context) slog.Attr {
	return slog.String("request_id", RequestID(ctx))
}
