package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stackspot/stkai-go/internal/config"
	"github.com/stackspot/stkai-go/internal/logger"
	"github.com/stackspot/stkai-go/internal/pool"
	"github.com/stackspot/stkai-go/internal/resilience"
	"github.com/stackspot/stkai-go/transport"
)

// Client chats with platform agents. Chat and ChatMany never return errors;
// every outcome is encoded in the ChatResponse envelope.
type Client struct {
	cfg       config.Agent
	transport transport.Transport
	retry     *resilience.Retry
	pool      *pool.Pool
	logger    *slog.Logger
	observer  func(*ChatResponse)
}

// Option configures a Client.
type Option func(*Client)

// WithPool sets the concurrency pool shared by ChatMany calls.
func WithPool(p *pool.Pool) Option {
	return func(c *Client) { c.pool = p }
}

// WithObserver registers a hook invoked with every terminal chat envelope.
func WithObserver(fn func(*ChatResponse)) Option {
	return func(c *Client) { c.observer = fn }
}

// New creates a Client on top of an authenticated transport.
func New(cfg config.Agent, t transport.Transport, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:       cfg,
		transport: t,
		retry:     resilience.NewRetry(cfg.RetryMaxRetries, cfg.RetryInitialDelay, logger),
		pool:      pool.New(cfg.MaxWorkers),
		logger:    logger.With("component", "agent"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat sends one prompt to the agent and blocks for the reply. A
// Conversation carried by ctx supplies the conversation id unless the
// request names one explicitly; the explicit id always wins.
func (c *Client) Chat(ctx context.Context, agentID string, req *ChatRequest) *ChatResponse {
	ctx = logger.WithRequestID(ctx, req.ID)
	conv, inScope := ConversationFrom(ctx)
	sent := req
	if inScope && req.ConversationID == "" {
		sent = req.enriched(conv.ID())
	}
	if sent.ConversationID != "" && !validID(sent.ConversationID) {
		c.logger.Warn("conversation id is not a ULID, the server may ignore it",
			"request_id", sent.ID, "conversation_id", sent.ConversationID)
	}

	resp := c.chat(ctx, agentID, sent)
	resp.Request = req
	if inScope && req.ConversationID == "" && resp.IsSuccess() && resp.ConversationID != "" {
		conv.captureIfAbsent(resp.ConversationID)
	}
	if c.observer != nil {
		c.observer(resp)
	}
	return resp
}

// ChatMany sends one chat per request with bounded concurrency and returns
// responses in input order. Workers share any Conversation carried by ctx.
func (c *Client) ChatMany(ctx context.Context, agentID string, reqs []*ChatRequest) []*ChatResponse {
	results := pool.Map(ctx, c.pool, reqs, func(ctx context.Context, i int, req *ChatRequest) *ChatResponse {
		return c.chatRecovering(ctx, agentID, req)
	})
	for i, resp := range results {
		if resp == nil {
			results[i] = &ChatResponse{
				Request: reqs[i],
				Status:  ChatError,
				Error:   "chat slot never acquired: " + ctx.Err().Error(),
			}
		}
	}
	return results
}

func (c *Client) chatRecovering(ctx context.Context, agentID string, req *ChatRequest) (resp *ChatResponse) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("chat panicked", "request_id", req.ID, "panic", fmt.Sprint(r))
			resp = &ChatResponse{
				Request: req,
				Status:  ChatError,
				Error:   fmt.Sprintf("chat panicked: %v", r),
			}
		}
	}()
	return c.Chat(ctx, agentID, req)
}

func (c *Client) chat(ctx context.Context, agentID string, req *ChatRequest) *ChatResponse {
	c.logger.Info("sending message to agent", "request_id", req.ID, "agent_id", agentID)
	started := time.Now()

	body, err := json.Marshal(req.payload())
	if err != nil {
		return c.failure(req, fmt.Errorf("encoding chat payload: %w", err))
	}

	var data map[string]any
	err = c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		headers := http.Header{}
		headers.Set("Content-Type", "application/json")
		resp, err := c.transport.Do(ctx, &transport.Request{
			Method:  http.MethodPost,
			URL:     strings.TrimSuffix(c.cfg.BaseURL, "/") + "/v1/agent/" + agentID + "/chat",
			Headers: headers,
			Body:    body,
			Timeout: c.cfg.RequestTimeout,
		})
		if err != nil {
			return err
		}
		if err := json.Unmarshal(resp.Body, &data); err != nil {
			return &transport.MalformedError{Reason: fmt.Sprintf("undecodable chat body: %v", err)}
		}
		return nil
	})
	if err != nil {
		return c.failure(req, err)
	}

	resp := parseChatResponse(req, data)
	c.logger.Info("agent responded",
		"request_id", req.ID,
		"tokens", resp.Tokens.Total(),
		"elapsed", time.Since(started))
	return resp
}

func (c *Client) failure(req *ChatRequest, err error) *ChatResponse {
	status := ChatError
	if transport.IsTimeout(err) {
		status = ChatTimeout
	}
	c.logger.Error("chat failed", "request_id", req.ID, "status", status, "error", err)
	return &ChatResponse{Request: req, Status: status, Error: err.Error()}
}

func parseChatResponse(req *ChatRequest, data map[string]any) *ChatResponse {
	resp := &ChatResponse{
		Request:     req,
		Status:      ChatSuccess,
		RawResponse: data,
	}
	resp.Message, _ = data["message"].(string)
	resp.StopReason, _ = data["stop_reason"].(string)
	resp.ConversationID, _ = data["conversation_id"].(string)
	if tokens, ok := data["tokens"].(map[string]any); ok {
		resp.Tokens = TokenUsage{
			User:       intField(tokens, "user"),
			Enrichment: intField(tokens, "enrichment"),
			Output:     intField(tokens, "output"),
		}
	}
	if sources, ok := data["knowledge_source_id"].([]any); ok {
		for _, s := range sources {
			if id, ok := s.(string); ok {
				resp.KnowledgeSources = append(resp.KnowledgeSources, id)
			}
		}
	}
	return resp
}

func intField(m map[string]any, key string) int {
	f, _ := m[key].(float64)
	return int(f)
}
