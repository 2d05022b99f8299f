// Package listeners provides ready-made lifecycle listeners: NATS event
// publishing, a Postgres execution journal and OpenTelemetry metrics.
package listeners

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/stackspot/stkai-go/rqc"
)

const streamName = "STKAI"

// NATS publishes lifecycle events to JetStream subjects of the form
// <prefix>.executions.<event>. Publish failures are logged, never surfaced.
type NATS struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	prefix  string
	logger  *slog.Logger
	timeout time.Duration
}

// ConnectNATS connects to NATS and ensures the event stream exists.
func ConnectNATS(ctx context.Context, url, subjectPrefix string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	logger.Info("nats connected", "url", url, "stream", streamName)
	return &NATS{
		nc:      nc,
		js:      js,
		prefix:  subjectPrefix,
		logger:  logger.With("component", "listeners.nats"),
		timeout: 5 * time.Second,
	}, nil
}

// Close closes the NATS connection.
func (n *NATS) Close() { n.nc.Close() }

func (n *NATS) publish(event string, payload map[string]any) {
	payload["event"] = event
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	subject := n.prefix + ".executions." + event
	if _, err := n.js.Publish(ctx, subject, data); err != nil {
		n.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}

func (n *NATS) OnBeforeExecute(req *rqc.Request) {
	n.publish("before_execute", map[string]any{"request_id": req.ID})
}

func (n *NATS) OnStatusChange(req *rqc.Request, old, new rqc.ExecutionStatus) {
	n.publish("status_change", map[string]any{
		"request_id":   req.ID,
		"execution_id": req.ExecutionID(),
		"from":         string(old),
		"to":           string(new),
	})
}

func (n *NATS) OnAfterExecute(resp *rqc.Response) {
	n.publish("after_execute", map[string]any{
		"request_id":   resp.Request.ID,
		"execution_id": resp.ExecutionID(),
		"status":       string(resp.Status),
		"error":        resp.Error,
	})
}
