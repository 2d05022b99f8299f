package stkai

import (
	"context"
	"sync"

	"github.com/stackspot/stkai-go/internal/config"
)

// The process-default handle mirrors the ergonomics of tools that configure
// the SDK once at startup. Libraries should prefer an explicit *SDK.
var (
	defaultMu  sync.Mutex
	defaultSDK *SDK
)

// Configure builds the process-default SDK. A previous default, if any, is
// closed first.
func Configure(ctx context.Context, opts ...Option) (*SDK, error) {
	sdk, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defaultMu.Lock()
	old := defaultSDK
	defaultSDK = sdk
	defaultMu.Unlock()
	if old != nil {
		_ = old.Close(ctx)
	}
	return sdk, nil
}

// Default returns the handle built by Configure, or nil before it runs.
func Default() *SDK {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultSDK
}

// Reset closes and discards the process-default handle. Safe to call when no
// default exists.
func Reset(ctx context.Context) error {
	defaultMu.Lock()
	sdk := defaultSDK
	defaultSDK = nil
	defaultMu.Unlock()
	if sdk == nil {
		return nil
	}
	return sdk.Close(ctx)
}

// Explain reports the process-default handle's resolved configuration, or
// nil before Configure runs.
func Explain() []config.Field {
	sdk := Default()
	if sdk == nil {
		return nil
	}
	return sdk.Explain()
}
