package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	buildevents "github.com/splax/buildor/internal/events"
	"github.com/splax/buildor/internal/service/deploy"
)

// BuildEvents consumes CodeBuild phase change events delivered by EventBridge.
type BuildEvents struct {
	processor buildevents.Processor
	logger    *slog.Logger
	timeout   time.Duration
}

// NewBuildEvents returns the EventBridge handler.
func NewBuildEvents(processor buildevents.Processor, logger *slog.Logger, timeout time.Duration) *BuildEvents {
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	return &BuildEvents{processor: processor, logger: logger, timeout: timeout}
}

// Handle returns an error only when the event should be redelivered.
func (h *BuildEvents) Handle(ctx context.Context, raw events.CloudWatchEvent) error {
	ev, err := buildevents.FromCloudWatch(raw)
	if err != nil {
		if errors.Is(err, buildevents.ErrMalformed) {
			h.logger.Warn("malformed build event discarded", "event_id", raw.ID, "detail_type", raw.DetailType, "error", err)
			return nil
		}
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	outcome, err := h.processor.ProcessBuildEvent(ctx, ev)
	if err != nil {
		if deploy.Retryable(err) {
			h.logger.Warn("build event will be redelivered", "event_id", raw.ID, "build_job_id", ev.BuildJobID, "error", err)
			return err
		}
		h.logger.Warn("build event rejected", "event_id", raw.ID, "build_job_id", ev.BuildJobID, "error", err)
		return nil
	}
	h.logger.Debug("build event handled", "event_id", raw.ID, "build_job_id", ev.BuildJobID, "outcome", outcome)
	return nil
}
