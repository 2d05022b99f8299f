package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stackspot/stkai-go/internal/config"
)

func TestNew(t *testing.T) {
	l, closer := New(config.SDK{LogLevel: "debug", Service: "test-svc"})
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	l, closer := New(config.SDK{LogLevel: "debug", Service: "test-svc", LogAsync: true})
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
}

func TestNewTextFormat(t *testing.T) {
	l, closer := New(config.SDK{LogLevel: "info", LogFormat: "text", Service: "test-svc"})
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewRespectsLevel(t *testing.T) {
	l, closer := New(config.SDK{LogLevel: "error", Service: "test-svc"})
	defer closer.Close()
	if l.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("warn should be suppressed at error level")
	}
	if !l.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error records must pass")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}

	if ctx2 := WithRequestID(ctx, ""); ctx2 != ctx {
		t.Error("empty id should not replace the existing scope")
	}

	attr := RequestAttr(ctx)
	if attr.Key != "request_id" || attr.Value.String() != "req-123" {
		t.Errorf("unexpected attr %v", attr)
	}
}
