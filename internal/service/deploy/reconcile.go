package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
)

// ProcessBuildEvent applies a phase-completion event to the matching deployment.
//
// Every write is a conditional update; a rejected condition re-reads the record
// and re-evaluates the event up to the configured attempts. Redelivering the same
// event is a no-op. A returned error for which Retryable holds asks the caller
// to redeliver.
func (s Service) ProcessBuildEvent(ctx context.Context, ev domain.BuildEvent) (domain.Outcome, error) {
	ev.BuildJobID = domain.NormalizeBuildJobID(ev.BuildJobID)
	if err := validateEvent(ev); err != nil {
		return "", err
	}
	log := s.logger.With("build_job_id", ev.BuildJobID, "phase", ev.Phase, "phase_status", ev.PhaseStatus)

	current, err := s.deployments.GetDeploymentByBuildJobID(ctx, ev.BuildJobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.orphanEvent(ctx, ev)
		}
		return "", fmt.Errorf("%w: lookup deployment: %w", ErrTransientStore, err)
	}

	for attempt := 1; ; attempt++ {
		decision := domain.Decide(*current, ev, s.now())
		if decision.Transition == nil {
			if decision.Outcome == domain.OutcomeIgnoredTerminal && current.Status == domain.StatusSucceeded {
				if err := s.syncCurrentDeployment(ctx, *current); err != nil {
					return decision.Outcome, err
				}
			}
			s.metrics.observeEvent(decision.Outcome)
			log.Debug("build event ignored", "deployment_id", current.ID, "status", current.Status, "outcome", decision.Outcome)
			return decision.Outcome, nil
		}

		err = s.deployments.ApplyTransition(ctx, *decision.Transition)
		switch {
		case err == nil:
			updated := decision.Transition.Apply(*current)
			s.publish(updated)
			if updated.Status == domain.StatusSucceeded {
				if err := s.syncCurrentDeployment(ctx, updated); err != nil {
					return decision.Outcome, err
				}
			}
			s.metrics.observeEvent(decision.Outcome)
			log.Info("deployment updated", "deployment_id", updated.ID, "status", updated.Status, "outcome", decision.Outcome)
			return decision.Outcome, nil
		case errors.Is(err, repository.ErrNotFound):
			return s.orphanEvent(ctx, ev)
		case !errors.Is(err, repository.ErrConditionFailed):
			return "", fmt.Errorf("%w: apply transition: %w", ErrTransientStore, err)
		}

		s.metrics.observeConflict()
		if attempt >= s.cfg.CASAttempts {
			break
		}
		log.Debug("conditional write rejected, re-evaluating", "deployment_id", current.ID, "attempt", attempt)
		// Re-read by id: the build job lookup may be served by a lagging index.
		current, err = s.deployments.GetDeploymentByID(ctx, current.ID)
		if err != nil {
			return "", fmt.Errorf("%w: reload deployment: %w", ErrTransientStore, err)
		}
	}

	log.Warn("conditional write attempts exhausted", "attempts", s.cfg.CASAttempts)
	return "", fmt.Errorf("%w: conditional write contention after %d attempts", ErrTransientStore, s.cfg.CASAttempts)
}

func validateEvent(ev domain.BuildEvent) error {
	if strings.TrimSpace(ev.BuildJobID) == "" {
		return fmt.Errorf("%w: build job id is required", ErrValidation)
	}
	if ev.Phase.Index() == domain.NoPhaseIndex {
		return fmt.Errorf("%w: unknown phase %q", ErrValidation, ev.Phase)
	}
	if _, err := domain.ParsePhaseStatus(string(ev.PhaseStatus)); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// orphanEvent bounces an unmatched event back for redelivery while the tracker
// allows it, since Intake may not have committed the record yet. It then drops it.
func (s Service) orphanEvent(ctx context.Context, ev domain.BuildEvent) (domain.Outcome, error) {
	s.metrics.observeEvent(domain.OutcomeOrphan)
	if s.orphans != nil {
		if d := s.orphans.Observe(ctx, ev.BuildJobID); d.Retry {
			s.logger.Info("orphan build event, requesting redelivery", "build_job_id", ev.BuildJobID, "phase", ev.Phase, "attempt", d.Attempt)
			return domain.OutcomeOrphan, fmt.Errorf("%w: %s", ErrOrphanEvent, ev.BuildJobID)
		}
	}
	s.logger.Warn("dropping orphan build event", "build_job_id", ev.BuildJobID, "phase", ev.Phase, "phase_status", ev.PhaseStatus)
	return domain.OutcomeOrphan, nil
}

// syncCurrentDeployment points the project at a succeeded deployment unless a
// newer one already holds the pointer. Safe to repeat.
func (s Service) syncCurrentDeployment(ctx context.Context, d domain.Deployment) error {
	err := s.projects.SetCurrentDeployment(ctx, domain.CurrentDeploymentUpdate{
		ProjectID:           d.ProjectID,
		DeploymentID:        d.ID,
		DeploymentCreatedAt: d.CreatedAt,
		PublishedAt:         d.UpdatedAt,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrConditionFailed):
		s.logger.Info("newer deployment already current", "project_id", d.ProjectID, "deployment_id", d.ID)
		return nil
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Warn("project missing for succeeded deployment", "project_id", d.ProjectID, "deployment_id", d.ID)
		return nil
	default:
		return fmt.Errorf("%w: update current deployment: %w", ErrTransientStore, err)
	}
}
