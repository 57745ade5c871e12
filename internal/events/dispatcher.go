package events

import (
	"context"
	"time"

	"log/slog"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/service/deploy"
)

// Processor applies a build event.
type Processor interface {
	ProcessBuildEvent(ctx context.Context, ev domain.BuildEvent) (domain.Outcome, error)
}

// Dispatcher delivers events to a Processor with a bounded retry budget, for
// transports that do not redeliver on their own.
type Dispatcher struct {
	processor Processor
	logger    *slog.Logger
	attempts  int
	backoff   time.Duration
}

// NewDispatcher returns a dispatcher that tries each event up to attempts times.
func NewDispatcher(processor Processor, attempts int, backoff time.Duration, logger *slog.Logger) *Dispatcher {
	if attempts <= 0 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{processor: processor, logger: logger, attempts: attempts, backoff: backoff}
}

// Dispatch returns nil once the event is applied or acknowledged. Retryable
// failures are retried with linear backoff; when the budget runs out the event
// is logged as dead-lettered and the last error returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.BuildEvent) error {
	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		_, err := d.processor.ProcessBuildEvent(ctx, ev)
		if err == nil {
			return nil
		}
		if !deploy.Retryable(err) {
			d.logger.Warn("build event acknowledged without applying", "build_job_id", ev.BuildJobID, "phase", ev.Phase, "error", err)
			return nil
		}
		lastErr = err
		if attempt == d.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * d.backoff):
		}
	}
	d.logger.Error("build event dead-lettered",
		"build_job_id", ev.BuildJobID,
		"phase", ev.Phase,
		"phase_status", ev.PhaseStatus,
		"attempts", d.attempts,
		"error", lastErr,
	)
	return lastErr
}
