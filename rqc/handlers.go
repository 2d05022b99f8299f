package rqc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResultContext carries a completed execution's platform result through the
// handler pipeline. Handled is false for the first handler in a chain and
// true for every subsequent one, whose RawResult is the previous handler's
// output rather than the platform field.
type ResultContext struct {
	Request   *Request
	RawResult any
	Handled   bool
}

// ResultHandler interprets the platform result of a completed execution.
// Returning an error flips the envelope from COMPLETED to ERROR; handler
// errors are never retried.
type ResultHandler interface {
	Handle(rc *ResultContext) (any, error)
}

// HandlerError marks a failure inside the result pipeline. It is
// deliberately outside the transport error taxonomy so nothing upstream
// retries it.
type HandlerError struct {
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("result handler %s: %v", e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// HandlerFunc adapts a function to the ResultHandler interface.
type HandlerFunc func(rc *ResultContext) (any, error)

func (f HandlerFunc) Handle(rc *ResultContext) (any, error) { return f(rc) }

// RawHandler passes the platform result through untouched.
type RawHandler struct{}

func (RawHandler) Handle(rc *ResultContext) (any, error) { return rc.RawResult, nil }

// JSONHandler decodes string results as JSON, stripping the markdown code
// fences LLM outputs often carry. Non-string results are deep-copied so the
// caller can mutate the decoded value without corrupting RawResponse.
type JSONHandler struct{}

func (JSONHandler) Handle(rc *ResultContext) (any, error) {
	switch v := rc.RawResult.(type) {
	case nil:
		return nil, nil
	case string:
		decoded, err := decodeFenced(v)
		if err != nil {
			return nil, &HandlerError{Handler: "json", Err: err}
		}
		return decoded, nil
	default:
		copied, err := deepCopyJSON(v)
		if err != nil {
			return nil, &HandlerError{Handler: "json", Err: err}
		}
		return copied, nil
	}
}

// decodeFenced strips a surrounding ```json ... ``` (or bare ```) fence
// before decoding.
func decodeFenced(s string) (any, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	var out any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, fmt.Errorf("decoding result as JSON: %w", err)
	}
	return out, nil
}

func deepCopyJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("copying structured result: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("copying structured result: %w", err)
	}
	return out, nil
}

// ChainedHandler runs handlers in order, feeding each output into the next
// handler's RawResult. The first handler sees Handled=false, the rest true.
type ChainedHandler struct {
	handlers []ResultHandler
}

// NewChainedHandler builds a pipeline from the given handlers. An empty
// chain behaves like RawHandler.
func NewChainedHandler(handlers ...ResultHandler) *ChainedHandler {
	return &ChainedHandler{handlers: handlers}
}

func (c *ChainedHandler) Handle(rc *ResultContext) (any, error) {
	current := rc.RawResult
	handled := rc.Handled
	for i, h := range c.handlers {
		out, err := h.Handle(&ResultContext{Request: rc.Request, RawResult: current, Handled: handled})
		if err != nil {
			return nil, fmt.Errorf("handler %d of %d: %w", i+1, len(c.handlers), err)
		}
		current = out
		handled = true
	}
	return current, nil
}
