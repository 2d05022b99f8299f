// Package logger provides structured logging setup for the SDK.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/stackspot/stkai-go/internal/config"
)

// defaultLogBuffer matches the sdk.log_buffer default and backstops callers
// that construct the handler without a resolved config.
const defaultLogBuffer = 1024

// New creates a *slog.Logger from the given SDK config. Output goes to
// stderr as JSON or text per sdk.log_format, with a "service" attribute on
// every record. When async logging is enabled, the returned Closer flushes
// buffered records; otherwise it is a no-op.
func New(cfg config.SDK) (*slog.Logger, Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	closer := Closer(nopCloser{})
	if cfg.LogAsync {
		async := NewAsyncHandler(handler, cfg.LogBuffer)
		handler = async
		closer = async
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
