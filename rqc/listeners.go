package rqc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// EventListener observes execution lifecycle transitions. Listener failures
// never affect the execution: panics are recovered and logged.
type EventListener interface {
	OnBeforeExecute(req *Request)
	OnStatusChange(req *Request, old, new ExecutionStatus)
	OnAfterExecute(resp *Response)
}

// PhaseListener is an optional extension for listeners that want the finer
// create/poll phases in addition to the coarse lifecycle hooks.
type PhaseListener interface {
	OnCreateExecutionStart(req *Request)
	OnCreateExecutionEnd(req *Request, err error)
	OnGetResultStart(req *Request)
	OnGetResultEnd(req *Request, status ExecutionStatus)
}

// notifier fans lifecycle events out to registered listeners, shielding the
// execution from listener panics.
type notifier struct {
	listeners []EventListener
	logger    *slog.Logger
}

func newNotifier(listeners []EventListener, logger *slog.Logger) *notifier {
	return &notifier{listeners: listeners, logger: logger}
}

func (n *notifier) each(event string, req *Request, fn func(l EventListener)) {
	for _, l := range n.listeners {
		n.safely(event, req, func() { fn(l) })
	}
}

func (n *notifier) eachPhase(event string, req *Request, fn func(l PhaseListener)) {
	for _, l := range n.listeners {
		pl, ok := l.(PhaseListener)
		if !ok {
			continue
		}
		n.safely(event, req, func() { fn(pl) })
	}
}

func (n *notifier) safely(event string, req *Request, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("event listener panicked",
				"event", event,
				"request_id", req.ID,
				"panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (n *notifier) beforeExecute(req *Request) {
	n.each("on_before_execute", req, func(l EventListener) { l.OnBeforeExecute(req) })
}

func (n *notifier) statusChange(req *Request, old, new ExecutionStatus) {
	if old == new {
		return
	}
	n.each("on_status_change", req, func(l EventListener) { l.OnStatusChange(req, old, new) })
}

func (n *notifier) afterExecute(resp *Response) {
	n.each("on_after_execute", resp.Request, func(l EventListener) { l.OnAfterExecute(resp) })
}

func (n *notifier) createExecutionStart(req *Request) {
	n.eachPhase("create_execution_start", req, func(l PhaseListener) { l.OnCreateExecutionStart(req) })
}

func (n *notifier) createExecutionEnd(req *Request, err error) {
	n.eachPhase("create_execution_end", req, func(l PhaseListener) { l.OnCreateExecutionEnd(req, err) })
}

func (n *notifier) getResultStart(req *Request) {
	n.eachPhase("get_result_start", req, func(l PhaseListener) { l.OnGetResultStart(req) })
}

func (n *notifier) getResultEnd(req *Request, status ExecutionStatus) {
	n.eachPhase("get_result_end", req, func(l PhaseListener) { l.OnGetResultEnd(req, status) })
}

// NoopListener implements EventListener with empty hooks; embed it to
// implement only the events you care about.
type NoopListener struct{}

func (NoopListener) OnBeforeExecute(*Request)                           {}
func (NoopListener) OnStatusChange(*Request, ExecutionStatus, ExecutionStatus) {}
func (NoopListener) OnAfterExecute(*Response)                           {}

// FileLoggingListener appends one JSON line per lifecycle event to a local
// file, useful for offline execution audits.
type FileLoggingListener struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileLoggingListener logs events to the file at path, creating it on
// first write.
func NewFileLoggingListener(path string) *FileLoggingListener {
	return &FileLoggingListener{path: path, now: time.Now}
}

func (f *FileLoggingListener) write(record map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record["ts"] = f.now().UTC().Format(time.RFC3339Nano)
	line, err := json.Marshal(record)
	if err != nil {
		return
	}
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.Write(append(line, '\n'))
}

func (f *FileLoggingListener) OnBeforeExecute(req *Request) {
	f.write(map[string]any{"event": "before_execute", "request_id": req.ID})
}

func (f *FileLoggingListener) OnStatusChange(req *Request, old, new ExecutionStatus) {
	f.write(map[string]any{
		"event":      "status_change",
		"request_id": req.ID,
		"from":       string(old),
		"to":         string(new),
	})
}

func (f *FileLoggingListener) OnAfterExecute(resp *Response) {
	f.write(map[string]any{
		"event":        "after_execute",
		"request_id":   resp.Request.ID,
		"execution_id": resp.ExecutionID(),
		"status":       string(resp.Status),
	})
}
