package rqc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/stackspot/stkai-go/internal/config"
	"github.com/stackspot/stkai-go/internal/logger"
	"github.com/stackspot/stkai-go/internal/pool"
	"github.com/stackspot/stkai-go/internal/resilience"
	"github.com/stackspot/stkai-go/transport"
)

const (
	createExecutionPath = "/v1/quick-commands/create-execution/"
	callbackPath        = "/v1/quick-commands/callback/"

	// pollJitterFactor spreads poll sleeps by up to 10% either way so a
	// batch submitted at once does not poll in lockstep.
	pollJitterFactor = 0.1
)

// Client executes Remote Quick Commands against a platform endpoint. All
// transport-level resilience (retries, throttling, auth refresh) lives in
// the Transport it is built on; the client owns the create/poll lifecycle.
type Client struct {
	cfg       config.RQC
	transport transport.Transport
	retry     *resilience.Retry
	pollRetry *resilience.Retry
	handler   ResultHandler
	notifier  *notifier
	pool      *pool.Pool
	cache     *ristretto.Cache[string, *Response]
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// Option configures a Client.
type Option func(*Client)

// WithHandler sets the result pipeline applied to COMPLETED executions.
// The default pipeline decodes JSON results.
func WithHandler(h ResultHandler) Option {
	return func(c *Client) { c.handler = h }
}

// WithListeners registers lifecycle listeners.
func WithListeners(listeners ...EventListener) Option {
	return func(c *Client) { c.notifier = newNotifier(listeners, c.logger) }
}

// WithPool sets the concurrency pool shared by ExecuteMany calls. Pass the
// same pool to several clients to bound their combined parallelism.
func WithPool(p *pool.Pool) Option {
	return func(c *Client) { c.pool = p }
}

// New creates a Client. The transport carries authentication and resilience
// decorators; cfg controls the polling lifecycle.
func New(cfg config.RQC, t transport.Transport, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rqc")
	c := &Client{
		cfg:       cfg,
		transport: t,
		retry:     resilience.NewRetry(cfg.RetryMaxRetries, cfg.RetryInitialDelay, logger),
		pollRetry: resilience.NewRetry(cfg.PollRetryMaxRetries, cfg.RetryInitialDelay, logger),
		handler:   JSONHandler{},
		notifier:  newNotifier(nil, logger),
		pool:      pool.New(cfg.MaxWorkers),
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
		rand:      rand.Float64,
	}
	if cfg.ResultCacheMB > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, *Response]{
			NumCounters: 10_000,
			MaxCost:     cfg.ResultCacheMB << 20,
			BufferItems: 64,
		})
		if err == nil {
			c.cache = cache
		} else {
			logger.Warn("result cache disabled", "error", err)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs the quick command identified by slug to completion. It never
// returns an error: every outcome, including transport failures and
// cancellation, is encoded in the Response status.
func (c *Client) Execute(ctx context.Context, slug string, req *Request) *Response {
	ctx = logger.WithRequestID(ctx, req.ID)
	c.notifier.beforeExecute(req)
	resp := c.execute(ctx, slug, req)
	c.notifier.afterExecute(resp)
	if c.cache != nil && resp.Status.Terminal() && resp.ExecutionID() != "" {
		c.cache.Set(resp.ExecutionID(), resp, costOf(resp))
	}
	return resp
}

// ExecuteMany runs one execution per request with bounded concurrency and
// returns responses in input order. A panicking execution yields an ERROR
// envelope for its slot; the rest of the batch is unaffected.
func (c *Client) ExecuteMany(ctx context.Context, slug string, reqs []*Request) []*Response {
	results := pool.Map(ctx, c.pool, reqs, func(ctx context.Context, i int, req *Request) *Response {
		return c.executeRecovering(ctx, slug, req)
	})
	for i, resp := range results {
		if resp == nil {
			results[i] = &Response{
				Request: reqs[i],
				Status:  StatusError,
				Error:   "execution slot never acquired: " + ctx.Err().Error(),
			}
		}
	}
	return results
}

func (c *Client) executeRecovering(ctx context.Context, slug string, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("execution panicked", "request_id", req.ID, "panic", fmt.Sprint(r))
			resp = &Response{
				Request: req,
				Status:  StatusError,
				Error:   fmt.Sprintf("execution panicked: %v", r),
			}
		}
	}()
	return c.Execute(ctx, slug, req)
}

// Result fetches the current state of an already-submitted execution with a
// single poll. Terminal results are cached, so repeated lookups of finished
// executions do not touch the network.
func (c *Client) Result(ctx context.Context, executionID string) *Response {
	if c.cache != nil {
		if resp, ok := c.cache.Get(executionID); ok {
			return resp
		}
	}
	req := NewRequestWithID(executionID, nil)
	req.markSubmitted(executionID, c.now())

	ctx = logger.WithRequestID(ctx, req.ID)
	body, err := c.poll(ctx, req)
	if err != nil {
		return c.failure(req, err, "polling execution")
	}
	resp := c.interpret(req, body)
	if c.cache != nil && resp.Status.Terminal() {
		c.cache.Set(executionID, resp, costOf(resp))
	}
	return resp
}

func (c *Client) execute(ctx context.Context, slug string, req *Request) *Response {
	executionID, err := c.createExecution(ctx, slug, req)
	if err != nil {
		return c.failure(req, err, "creating execution")
	}
	req.markSubmitted(executionID, c.now())
	c.notifier.statusChange(req, StatusPending, StatusCreated)
	c.logger.Info("execution created",
		"request_id", req.ID, "execution_id", executionID, "slug", slug)

	return c.pollUntilDone(ctx, req)
}

// createExecution submits the request and returns the server-assigned
// execution id. The whole create phase shares one retry budget.
func (c *Client) createExecution(ctx context.Context, slug string, req *Request) (string, error) {
	c.notifier.createExecutionStart(req)
	var executionID string
	err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		body, err := json.Marshal(req.inputData())
		if err != nil {
			return &transport.MalformedError{Reason: fmt.Sprintf("unencodable request payload: %v", err)}
		}
		headers := http.Header{}
		headers.Set("Content-Type", "application/json")
		resp, err := c.transport.Do(ctx, &transport.Request{
			Method:  http.MethodPost,
			URL:     c.cfg.BaseURL + createExecutionPath + slug,
			Headers: headers,
			Body:    body,
			Timeout: c.cfg.RequestTimeout,
		})
		if err != nil {
			return err
		}
		executionID, err = parseExecutionID(resp.Body)
		return err
	})
	c.notifier.createExecutionEnd(req, err)
	return executionID, err
}

// parseExecutionID accepts the two create-response shapes the platform has
// shipped: a bare JSON string body, or an object carrying execution_id.
func parseExecutionID(body []byte) (string, error) {
	var id string
	if err := json.Unmarshal(body, &id); err == nil && id != "" {
		return id, nil
	}
	var envelope struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.ExecutionID != "" {
		return envelope.ExecutionID, nil
	}
	return "", &transport.MalformedError{
		Reason: fmt.Sprintf("no execution id in create response %q", truncateBody(body)),
	}
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

func (c *Client) pollUntilDone(ctx context.Context, req *Request) *Response {
	deadline := c.now().Add(c.cfg.PollMaxDuration)
	createdAt := req.SubmittedAt()
	status := StatusCreated

	for {
		if c.now().After(deadline) {
			return c.timeout(req, status, fmt.Sprintf(
				"execution did not finish within %s", c.cfg.PollMaxDuration))
		}

		body, err := c.poll(ctx, req)
		switch {
		case err == nil:
			next := statusFrom(body)
			c.notifier.statusChange(req, status, next)
			status = next
			c.notifier.getResultEnd(req, status)

			if status.Terminal() {
				return c.interpret(req, body)
			}
			if status == StatusCreated && c.now().Sub(createdAt) > c.cfg.OverloadTimeout {
				return c.timeout(req, status, fmt.Sprintf(
					"execution stuck in CREATED for %s, platform looks overloaded",
					c.cfg.OverloadTimeout))
			}
		case ctx.Err() != nil:
			return c.failure(req, ctx.Err(), "polling execution")
		case transport.IsRetryable(err):
			// The poll retry budget is already spent; ride the regular
			// poll cadence until the wall budget runs out.
			c.logger.Warn("poll failed, continuing on next interval",
				"execution_id", req.ExecutionID(), "error", err)
		default:
			return c.failure(req, err, "polling execution")
		}

		if err := c.sleep(ctx, c.pollDelay()); err != nil {
			return c.failure(req, err, "polling execution")
		}
	}
}

// poll performs one status fetch, retried per the poll budget. The nocache
// query parameter and headers defeat CDN-level caching of callback reads.
func (c *Client) poll(ctx context.Context, req *Request) (map[string]any, error) {
	c.notifier.getResultStart(req)
	var decoded map[string]any
	err := c.pollRetry.Do(ctx, func(ctx context.Context, attempt int) error {
		headers := http.Header{}
		headers.Set("Cache-Control", "no-cache")
		headers.Set("Pragma", "no-cache")
		url := fmt.Sprintf("%s%s%s?nocache=%d",
			c.cfg.BaseURL, callbackPath, req.ExecutionID(), rand.Intn(1_000_000))
		resp, err := c.transport.Do(ctx, &transport.Request{
			Method:  http.MethodGet,
			URL:     url,
			Headers: headers,
			Timeout: c.cfg.RequestTimeout,
		})
		if err != nil {
			return err
		}
		if err := json.Unmarshal(resp.Body, &decoded); err != nil {
			return &transport.MalformedError{Reason: fmt.Sprintf("undecodable callback body: %v", err)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// statusFrom extracts progress.status, upper-cased. A missing status counts
// as RUNNING; any other value is returned as-is, and unrecognized values are
// non-terminal so new server-side states are survivable.
func statusFrom(body map[string]any) ExecutionStatus {
	progress, _ := body["progress"].(map[string]any)
	raw, _ := progress["status"].(string)
	if raw == "" {
		return StatusRunning
	}
	return ExecutionStatus(strings.ToUpper(raw))
}

// interpret turns a terminal poll body into the final envelope, running the
// handler pipeline on COMPLETED results.
func (c *Client) interpret(req *Request, body map[string]any) *Response {
	status := statusFrom(body)
	resp := &Response{Request: req, Status: status, RawResponse: body}

	switch status {
	case StatusCompleted:
		result, err := c.handler.Handle(&ResultContext{Request: req, RawResult: body["result"]})
		if err != nil {
			c.logger.Error("result handler failed",
				"execution_id", req.ExecutionID(), "error", err)
			resp.Status = StatusError
			resp.Error = err.Error()
			return resp
		}
		resp.Result = result
	case StatusFailure, StatusError:
		resp.Error = errorFrom(body)
		c.logger.Warn("execution finished unsuccessfully",
			"execution_id", req.ExecutionID(), "status", status, "error", resp.Error)
	default:
		// Caller asked for a single snapshot; hand back the live state.
	}
	return resp
}

func errorFrom(body map[string]any) string {
	for _, key := range []string{"error", "message", "detail"} {
		if msg, ok := body[key].(string); ok && msg != "" {
			return msg
		}
	}
	progress, _ := body["progress"].(map[string]any)
	if msg, ok := progress["execution_error"].(string); ok && msg != "" {
		return msg
	}
	return "execution reported failure without detail"
}

func (c *Client) failure(req *Request, err error, op string) *Response {
	status := StatusError
	if transport.IsTimeout(err) {
		status = StatusTimeout
	}
	c.logger.Error("execution failed",
		"request_id", req.ID, "tracking_id", req.trackingID(), "op", op, "error", err)
	return &Response{
		Request: req,
		Status:  status,
		Error:   fmt.Sprintf("%s: %v", op, err),
	}
}

func (c *Client) timeout(req *Request, last ExecutionStatus, msg string) *Response {
	c.notifier.statusChange(req, last, StatusTimeout)
	c.logger.Warn("execution timed out",
		"execution_id", req.ExecutionID(), "last_status", last, "reason", msg)
	return &Response{Request: req, Status: StatusTimeout, Error: msg}
}

func (c *Client) pollDelay() time.Duration {
	spread := 1 + (c.rand()*2-1)*pollJitterFactor
	return time.Duration(float64(c.cfg.PollInterval) * spread)
}

func costOf(resp *Response) int64 {
	raw, err := json.Marshal(resp.RawResponse)
	if err != nil {
		return 1
	}
	return int64(len(raw)) + 1
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
