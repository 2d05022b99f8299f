package listeners

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stackspot/stkai-go/internal/telemetry"
	"github.com/stackspot/stkai-go/rqc"
)

// Metrics records execution counters and durations on the global meter.
type Metrics struct {
	m *telemetry.Metrics

	mu      sync.Mutex
	started map[string]time.Time

	rqc.NoopListener
}

// NewMetrics creates the metrics listener, building its instruments on the
// globally installed meter provider.
func NewMetrics() (*Metrics, error) {
	m, err := telemetry.NewMetrics()
	if err != nil {
		return nil, err
	}
	return &Metrics{m: m, started: make(map[string]time.Time)}, nil
}

func (l *Metrics) OnBeforeExecute(req *rqc.Request) {
	l.mu.Lock()
	l.started[req.ID] = time.Now()
	l.mu.Unlock()
	l.m.ExecutionsStarted.Add(context.Background(), 1)
}

func (l *Metrics) OnAfterExecute(resp *rqc.Response) {
	l.mu.Lock()
	startedAt, ok := l.started[resp.Request.ID]
	delete(l.started, resp.Request.ID)
	l.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("status", string(resp.Status)))
	l.m.ExecutionsFinished.Add(context.Background(), 1, attrs)
	if ok {
		l.m.ExecutionDuration.Record(context.Background(),
			time.Since(startedAt).Seconds(), attrs)
	}
}
