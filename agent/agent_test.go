package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stackspot/stkai-go/internal/config"
	"github.com/stackspot/stkai-go/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Agent {
	return config.Agent{
		BaseURL:           "http://agents.test",
		RequestTimeout:    time.Second,
		RetryMaxRetries:   0,
		RetryInitialDelay: time.Millisecond,
		MaxWorkers:        4,
	}
}

type chatServer struct {
	mu       sync.Mutex
	payloads []map[string]any
	reply    map[string]any
	fail     error
}

func (s *chatServer) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var payload map[string]any
	_ = json.Unmarshal(req.Body, &payload)
	s.payloads = append(s.payloads, payload)
	if s.fail != nil {
		return nil, s.fail
	}
	reply := s.reply
	if reply == nil {
		reply = map[string]any{"message": "hello", "conversation_id": "01JC0000000000000000000000"}
	}
	raw, _ := json.Marshal(reply)
	return &transport.Response{StatusCode: 200, Body: raw}, nil
}

func TestChatSendsWirePayload(t *testing.T) {
	srv := &chatServer{reply: map[string]any{
		"message":             "SOLID is...",
		"stop_reason":         "stop",
		"conversation_id":     "01JC0000000000000000000000",
		"tokens":              map[string]any{"user": 10, "enrichment": 5, "output": 20},
		"knowledge_source_id": []any{"ks-1", "ks-2"},
	}}
	c := New(testConfig(), srv, quietLogger())

	req := NewChatRequest("What is SOLID?")
	req.ReturnKnowledgeSources = true
	resp := c.Chat(context.Background(), "my-agent", req)

	if !resp.IsSuccess() {
		t.Fatalf("status = %s, error = %q", resp.Status, resp.Error)
	}
	if resp.Message != "SOLID is..." || resp.StopReason != "stop" {
		t.Fatalf("message = %q, stop = %q", resp.Message, resp.StopReason)
	}
	if resp.Tokens.Total() != 35 {
		t.Fatalf("tokens = %+v", resp.Tokens)
	}
	if len(resp.KnowledgeSources) != 2 || resp.KnowledgeSources[0] != "ks-1" {
		t.Fatalf("knowledge sources = %v", resp.KnowledgeSources)
	}

	payload := srv.payloads[0]
	if payload["user_prompt"] != "What is SOLID?" {
		t.Fatalf("user_prompt = %v", payload["user_prompt"])
	}
	if payload["streaming"] != false {
		t.Fatalf("streaming = %v", payload["streaming"])
	}
	if payload["stackspot_knowledge"] != "true" {
		t.Fatalf("stackspot_knowledge = %v (must be the string form)", payload["stackspot_knowledge"])
	}
	if payload["return_ks_in_response"] != true {
		t.Fatalf("return_ks_in_response = %v", payload["return_ks_in_response"])
	}
	if _, present := payload["conversation_id"]; present {
		t.Fatal("conversation_id must be omitted when unset")
	}
}

func TestChatTimeoutEnvelope(t *testing.T) {
	srv := &chatServer{fail: context.DeadlineExceeded}
	c := New(testConfig(), srv, quietLogger())

	resp := c.Chat(context.Background(), "a", NewChatRequest("hi"))
	if !resp.IsTimeout() {
		t.Fatalf("status = %s", resp.Status)
	}
}

func TestChatHTTPErrorEnvelope(t *testing.T) {
	srv := &chatServer{fail: &transport.StatusError{StatusCode: 422, Body: []byte("bad agent")}}
	c := New(testConfig(), srv, quietLogger())

	resp := c.Chat(context.Background(), "a", NewChatRequest("hi"))
	if !resp.IsError() {
		t.Fatalf("status = %s", resp.Status)
	}
}

func TestConversationCapturedFromFirstResponse(t *testing.T) {
	srv := &chatServer{reply: map[string]any{
		"message":         "ok",
		"conversation_id": "01JC0000000000000000000001",
	}}
	c := New(testConfig(), srv, quietLogger())

	conv := NewConversation()
	ctx := WithConversation(context.Background(), conv)

	c.Chat(ctx, "a", NewChatRequest("first"))
	if conv.ID() != "01JC0000000000000000000001" {
		t.Fatalf("conversation id = %q", conv.ID())
	}

	c.Chat(ctx, "a", NewChatRequest("second"))
	second := srv.payloads[1]
	if second["conversation_id"] != "01JC0000000000000000000001" {
		t.Fatalf("second payload conversation_id = %v", second["conversation_id"])
	}
	if second["use_conversation"] != true {
		t.Fatalf("use_conversation = %v", second["use_conversation"])
	}
}

func TestExplicitConversationIDWins(t *testing.T) {
	srv := &chatServer{}
	c := New(testConfig(), srv, quietLogger())

	conv := NewConversationWithID("01JC0000000000000000000AAA")
	ctx := WithConversation(context.Background(), conv)

	req := NewChatRequest("hi")
	req.ConversationID = "01JC0000000000000000000BBB"
	c.Chat(ctx, "a", req)

	if got := srv.payloads[0]["conversation_id"]; got != "01JC0000000000000000000BBB" {
		t.Fatalf("conversation_id = %v", got)
	}
	if conv.ID() != "01JC0000000000000000000AAA" {
		t.Fatal("explicit ids must not overwrite the scoped conversation")
	}
}

func TestInnerConversationOverridesOuter(t *testing.T) {
	srv := &chatServer{}
	c := New(testConfig(), srv, quietLogger())

	outer := NewConversationWithID("01JC000000000000000000OUTR")
	inner := NewConversationWithID("01JC000000000000000000INNR")
	ctx := WithConversation(context.Background(), outer)
	ctx = WithConversation(ctx, inner)

	c.Chat(ctx, "a", NewChatRequest("hi"))
	if got := srv.payloads[0]["conversation_id"]; got != "01JC000000000000000000INNR" {
		t.Fatalf("conversation_id = %v", got)
	}
}

func TestChatOutsideScopeSendsNoConversation(t *testing.T) {
	srv := &chatServer{}
	c := New(testConfig(), srv, quietLogger())

	c.Chat(context.Background(), "a", NewChatRequest("hi"))
	payload := srv.payloads[0]
	if _, present := payload["conversation_id"]; present {
		t.Fatal("conversation_id sent without a scope")
	}
	if payload["use_conversation"] != false {
		t.Fatalf("use_conversation = %v", payload["use_conversation"])
	}
}

func TestCallerRequestNotMutatedByScope(t *testing.T) {
	srv := &chatServer{}
	c := New(testConfig(), srv, quietLogger())

	conv := NewConversationWithID("01JC0000000000000000000CCC")
	ctx := WithConversation(context.Background(), conv)

	req := NewChatRequest("hi")
	c.Chat(ctx, "a", req)
	if req.ConversationID != "" || req.UseConversation {
		t.Fatalf("caller request mutated: %+v", req)
	}
}

func TestStartConversationPreSeedsULID(t *testing.T) {
	conv := StartConversation()
	if conv.ID() == "" {
		t.Fatal("expected a pre-generated id")
	}
	if !validID(conv.ID()) {
		t.Fatalf("id %q is not a ULID", conv.ID())
	}
	if got := conv.captureIfAbsent("other"); got != conv.ID() || got == "other" {
		t.Fatal("pre-seeded id must not be overwritten")
	}
}

func TestChatManyPreservesOrderAndSharesConversation(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		body, _ := json.Marshal(map[string]any{
			"message":         fmt.Sprintf("reply-%d", n),
			"conversation_id": "01JC0000000000000000000SHR",
		})
		return &transport.Response{StatusCode: 200, Body: body}, nil
	})
	c := New(testConfig(), srv, quietLogger())

	conv := NewConversation()
	ctx := WithConversation(context.Background(), conv)

	reqs := []*ChatRequest{NewChatRequest("a"), NewChatRequest("b"), NewChatRequest("c")}
	resps := c.ChatMany(ctx, "agent", reqs)

	if len(resps) != 3 {
		t.Fatalf("got %d responses", len(resps))
	}
	for i, resp := range resps {
		if resp.Request != reqs[i] {
			t.Fatalf("response %d belongs to request %s", i, resp.Request.ID)
		}
		if !resp.IsSuccess() {
			t.Fatalf("response %d status = %s", i, resp.Status)
		}
	}
	if conv.ID() != "01JC0000000000000000000SHR" {
		t.Fatalf("conversation id = %q", conv.ID())
	}
}

func TestMalformedChatBodyIsError(t *testing.T) {
	srv := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: []byte("not json")}, nil
	})
	c := New(testConfig(), srv, quietLogger())

	resp := c.Chat(context.Background(), "a", NewChatRequest("hi"))
	if !resp.IsError() {
		t.Fatalf("status = %s", resp.Status)
	}
}

func TestRetryOnTransientFailure(t *testing.T) {
	cfg := testConfig()
	cfg.RetryMaxRetries = 2
	calls := 0
	srv := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		calls++
		if calls == 1 {
			return nil, &transport.StatusError{StatusCode: 503}
		}
		body, _ := json.Marshal(map[string]any{"message": "ok"})
		return &transport.Response{StatusCode: 200, Body: body}, nil
	})
	c := New(cfg, srv, quietLogger())

	resp := c.Chat(context.Background(), "a", NewChatRequest("hi"))
	if !resp.IsSuccess() || calls != 2 {
		t.Fatalf("status = %s, calls = %d", resp.Status, calls)
	}
}
