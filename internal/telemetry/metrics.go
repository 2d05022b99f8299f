package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "stkai"

// Metrics holds all SDK metric instruments.
type Metrics struct {
	ExecutionsStarted  metric.Int64Counter
	ExecutionsFinished metric.Int64Counter
	ExecutionDuration  metric.Float64Histogram
	ChatsSent          metric.Int64Counter
	ChatTokens         metric.Int64Counter
	RateLimitRate      metric.Float64Gauge
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ExecutionsStarted, err = meter.Int64Counter("stkai.executions.started",
		metric.WithDescription("Number of quick command executions started"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsFinished, err = meter.Int64Counter("stkai.executions.finished",
		metric.WithDescription("Number of quick command executions that reached a terminal status"))
	if err != nil {
		return nil, err
	}

	m.ExecutionDuration, err = meter.Float64Histogram("stkai.execution.duration_seconds",
		metric.WithDescription("Wall time from submission to terminal status"))
	if err != nil {
		return nil, err
	}

	m.ChatsSent, err = meter.Int64Counter("stkai.chats.sent",
		metric.WithDescription("Number of agent chat calls"))
	if err != nil {
		return nil, err
	}

	m.ChatTokens, err = meter.Int64Counter("stkai.chat.tokens",
		metric.WithDescription("Tokens consumed by agent chats"))
	if err != nil {
		return nil, err
	}

	m.RateLimitRate, err = meter.Float64Gauge("stkai.rate_limit.effective_rate",
		metric.WithDescription("Current adaptive rate limit in requests per window"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
