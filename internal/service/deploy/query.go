package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
)

// Status returns the current snapshot of a deployment. When projectID is set the
// deployment must belong to that project.
func (s Service) Status(ctx context.Context, deploymentID, projectID string) (*domain.Snapshot, error) {
	deploymentID = strings.TrimSpace(deploymentID)
	projectID = strings.TrimSpace(projectID)
	if deploymentID == "" {
		return nil, fmt.Errorf("%w: deployment id is required", ErrValidation)
	}
	d, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: deployment %s", ErrNotFound, deploymentID)
		}
		return nil, fmt.Errorf("load deployment: %w", err)
	}
	if projectID != "" && d.ProjectID != projectID {
		return nil, fmt.Errorf("%w: deployment %s", ErrNotFound, deploymentID)
	}
	snapshot := d.Snapshot()
	return &snapshot, nil
}

// ListByProject returns recent deployments for a project, newest first.
func (s Service) ListByProject(ctx context.Context, projectID string, limit int) ([]domain.Snapshot, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrValidation)
	}
	if _, err := s.projects.GetProjectByID(ctx, projectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	deployments, err := s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	snapshots := make([]domain.Snapshot, 0, len(deployments))
	for _, d := range deployments {
		snapshots = append(snapshots, d.Snapshot())
	}
	return snapshots, nil
}
