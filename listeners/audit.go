package listeners

import (
	"context"
	"log/slog"
	"time"

	"github.com/stackspot/stkai-go/internal/audit"
	"github.com/stackspot/stkai-go/internal/config"
	"github.com/stackspot/stkai-go/rqc"
)

// Audit journals terminal execution outcomes to Postgres. Insert failures
// are logged and dropped so a journal outage never affects executions.
type Audit struct {
	store   *audit.Store
	logger  *slog.Logger
	timeout time.Duration

	rqc.NoopListener
}

// ConnectAudit opens the journal database, applying pending schema
// migrations first.
func ConnectAudit(ctx context.Context, cfg config.Audit, logger *slog.Logger) (*Audit, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := audit.RunMigrations(ctx, cfg.DSN); err != nil {
		return nil, err
	}
	pool, err := audit.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Audit{
		store:   audit.NewStore(pool),
		logger:  logger.With("component", "listeners.audit"),
		timeout: 5 * time.Second,
	}, nil
}

// Close releases the journal's connections.
func (a *Audit) Close() { a.store.Close() }

func (a *Audit) OnAfterExecute(resp *rqc.Response) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	record := audit.Record{
		RequestID:   resp.Request.ID,
		ExecutionID: resp.ExecutionID(),
		Kind:        "quick_command",
		Status:      string(resp.Status),
		Error:       resp.Error,
		StartedAt:   resp.Request.SubmittedAt(),
		FinishedAt:  time.Now().UTC(),
	}
	if err := a.store.Insert(ctx, record); err != nil {
		a.logger.Warn("journal insert failed", "request_id", resp.Request.ID, "error", err)
	}
}
