// Package rqc executes Remote Quick Commands: a two-phase create/poll
// protocol where a POST submits work and GETs poll the execution until it
// reaches a terminal status. The client layers retries, throttling and
// lifecycle listeners around the protocol and never returns errors from its
// public surface; every outcome is encoded in a Response envelope.
package rqc

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the server-reported state of an execution. The set is
// open: servers may introduce new intermediate states, and anything the
// client does not recognize is treated as non-terminal.
type ExecutionStatus string

const (
	// StatusPending is the client-side state before the request is submitted.
	StatusPending ExecutionStatus = "PENDING"
	// StatusCreated means the server accepted the request but has not
	// started work. Staying here too long trips the overload watchdog.
	StatusCreated ExecutionStatus = "CREATED"
	// StatusRunning means the server is processing the execution.
	StatusRunning ExecutionStatus = "RUNNING"

	StatusCompleted ExecutionStatus = "COMPLETED"
	StatusFailure   ExecutionStatus = "FAILURE"
	StatusError     ExecutionStatus = "ERROR"
	// StatusTimeout is client-assigned: polling exceeded its wall budget or
	// the execution was stuck in CREATED beyond the overload timeout.
	StatusTimeout ExecutionStatus = "TIMEOUT"
)

// Terminal reports whether no further server-side progress is possible.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailure, StatusError:
		return true
	}
	return false
}

// Request is a single Remote Quick Command submission. Payload is any
// JSON-serializable value. The request is immutable after construction
// except for the two audit fields stamped by the client on submission.
type Request struct {
	ID       string
	Payload  any
	Metadata map[string]any

	mu          sync.Mutex
	executionID string
	submittedAt time.Time
}

// NewRequest creates a request with a generated unique id.
func NewRequest(payload any) *Request {
	return &Request{ID: uuid.NewString(), Payload: payload}
}

// NewRequestWithID creates a request with a caller-chosen id, useful for
// correlating envelopes with upstream tracking systems.
func NewRequestWithID(id string, payload any) *Request {
	return &Request{ID: id, Payload: payload}
}

// ExecutionID returns the server-assigned execution id, or "" before the
// create phase succeeds.
func (r *Request) ExecutionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executionID
}

// SubmittedAt returns when the create phase succeeded (zero before then).
func (r *Request) SubmittedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submittedAt
}

func (r *Request) markSubmitted(executionID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executionID = executionID
	r.submittedAt = at
}

// trackingID is the execution id once known, the request id before that.
func (r *Request) trackingID() string {
	if id := r.ExecutionID(); id != "" {
		return id
	}
	return r.ID
}

// inputData is the wire shape of the create-execution body.
func (r *Request) inputData() map[string]any {
	return map[string]any{"input_data": r.Payload}
}

// Response is the terminal envelope of an execution. It is always returned;
// the client never raises errors out of Execute or ExecuteMany.
type Response struct {
	Request *Request
	Status  ExecutionStatus
	// Result is the handler pipeline's output (only set on COMPLETED).
	Result any
	// Error describes what went wrong on non-COMPLETED outcomes.
	Error string
	// RawResponse is the entire decoded body of the terminal poll.
	RawResponse map[string]any
}

// RawResult returns the uninterpreted platform result field from the
// terminal poll body, or nil.
func (r *Response) RawResult() any {
	if r.RawResponse == nil {
		return nil
	}
	return r.RawResponse["result"]
}

// ExecutionID returns the server-assigned execution id, if any.
func (r *Response) ExecutionID() string { return r.Request.ExecutionID() }

func (r *Response) IsCompleted() bool { return r.Status == StatusCompleted }
func (r *Response) IsFailure() bool   { return r.Status == StatusFailure }
func (r *Response) IsError() bool     { return r.Status == StatusError }
func (r *Response) IsTimeout() bool   { return r.Status == StatusTimeout }
