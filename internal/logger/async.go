package logger

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"
)

// Closer flushes and stops a handler that buffers records.
type Closer interface {
	Close()
}

// nopCloser is the Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// entry pairs a record with the sink that must write it, so records logged
// through WithAttrs/WithGroup derivatives keep their attached attributes.
type entry struct {
	sink slog.Handler
	rec  slog.Record
}

// AsyncHandler decouples log emission from I/O with a bounded queue and a
// single drain goroutine. When the queue is full, records are dropped rather
// than blocking the SDK's request path; the drop count is reported as a
// warning record when the handler is closed.
type AsyncHandler struct {
	inner   slog.Handler
	entries chan entry
	done    chan struct{}
	dropped *atomic.Int64
}

// NewAsyncHandler wraps inner with a queue of the given capacity. A capacity
// below 1 falls back to the sdk.log_buffer default.
func NewAsyncHandler(inner slog.Handler, buffer int) *AsyncHandler {
	if buffer < 1 {
		buffer = defaultLogBuffer
	}
	h := &AsyncHandler{
		inner:   inner,
		entries: make(chan entry, buffer),
		done:    make(chan struct{}),
		dropped: &atomic.Int64{},
	}
	go h.drain()
	return h
}

func (h *AsyncHandler) drain() {
	for e := range h.entries {
		_ = e.sink.Handle(context.Background(), e.rec)
	}
	if n := h.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped under pressure", callerPC())
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
	close(h.done)
}

func callerPC() uintptr {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	return pcs[0]
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record for the drain goroutine, dropping it when the
// queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.entries <- entry{sink: h.inner, rec: rec}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives the inner handler and shares the queue, so the derived
// records drain through a sink that carries the attrs.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{
		inner:   h.inner.WithAttrs(attrs),
		entries: h.entries,
		done:    h.done,
		dropped: h.dropped,
	}
}

// WithGroup derives the inner handler and shares the queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{
		inner:   h.inner.WithGroup(name),
		entries: h.entries,
		done:    h.done,
		dropped: h.dropped,
	}
}

// DroppedCount returns how many records were discarded because the queue was
// full.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops intake, waits for the queue to drain and emits the drop summary
// if any records were lost. Must be called on the root handler exactly once.
func (h *AsyncHandler) Close() {
	close(h.entries)
	<-h.done
}
