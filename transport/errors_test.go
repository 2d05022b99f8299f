package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestIsRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &StatusError{StatusCode: 500}, true},
		{"bad gateway", &StatusError{StatusCode: 502}, true},
		{"request timeout", &StatusError{StatusCode: 408}, true},
		{"too many requests", &StatusError{StatusCode: 429}, true},
		{"bad request", &StatusError{StatusCode: 400}, false},
		{"not found", &StatusError{StatusCode: 404}, false},
		{"unauthorized", &StatusError{StatusCode: 401}, false},
		{"throttle", &ThrottleError{Status: &StatusError{StatusCode: 429}}, true},
		{"token wait", &TokenWaitError{Waited: time.Second, MaxWait: time.Second}, true},
		{"auth failure", &AuthError{Reason: "401 after refresh"}, false},
		{"malformed", &MalformedError{Reason: "missing execution_id"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"dns failure", &net.OpError{Op: "dial", Err: errors.New("no such host")}, true},
		{"wrapped server error", fmt.Errorf("creating execution: %w", &StatusError{StatusCode: 503}), true},
		{"plain error", errors.New("something else"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewStatusErrorParsesRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "2.5")
	e := NewStatusError(429, h, nil)
	if e.RetryAfter != 2500*time.Millisecond {
		t.Fatalf("RetryAfter = %v, want 2.5s", e.RetryAfter)
	}

	h.Set("Retry-After", "not-a-number")
	if e := NewStatusError(429, h, nil); e.RetryAfter != 0 {
		t.Fatalf("unparsable header should yield zero, got %v", e.RetryAfter)
	}

	if e := NewStatusError(429, http.Header{}, nil); e.RetryAfter != 0 {
		t.Fatalf("absent header should yield zero, got %v", e.RetryAfter)
	}
}

func TestRetryAfterHintIgnoresExcessiveValues(t *testing.T) {
	within := &StatusError{StatusCode: 429, RetryAfter: 30 * time.Second}
	if got := RetryAfterHint(within); got != 30*time.Second {
		t.Fatalf("hint = %v, want 30s", got)
	}

	excessive := &StatusError{StatusCode: 429, RetryAfter: 5 * time.Minute}
	if got := RetryAfterHint(excessive); got != 0 {
		t.Fatalf("hints above %v must be ignored, got %v", MaxRetryAfter, got)
	}

	wrapped := fmt.Errorf("throttled: %w", &ThrottleError{Status: within})
	if got := RetryAfterHint(wrapped); got != 30*time.Second {
		t.Fatalf("hint through wrap = %v, want 30s", got)
	}

	if got := RetryAfterHint(errors.New("no status")); got != 0 {
		t.Fatalf("non-status error should yield zero, got %v", got)
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be a timeout")
	}
	if !IsTimeout(&TokenWaitError{Waited: time.Second, MaxWait: time.Second}) {
		t.Error("token wait exhaustion should be a timeout")
	}
	if !IsTimeout(&StatusError{StatusCode: 408}) {
		t.Error("408 should be a timeout")
	}
	if IsTimeout(&StatusError{StatusCode: 500}) {
		t.Error("500 is not a timeout")
	}
	if IsTimeout(nil) {
		t.Error("nil is not a timeout")
	}
}

func TestWorkCreating(t *testing.T) {
	post := &Request{Method: http.MethodPost}
	if !post.WorkCreating() {
		t.Error("POST should be work-creating")
	}
	get := &Request{Method: http.MethodGet}
	if get.WorkCreating() {
		t.Error("GET must pass through unthrottled")
	}
}
