package repository

import (
	"context"

	"github.com/splax/buildor/internal/domain"
)

// ProjectRepository persists project configuration.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context, limit int) ([]domain.Project, error)
	// SetCurrentDeployment moves the project's current pointer unless it already
	// references a deployment created after update.DeploymentCreatedAt.
	// A skipped update returns ErrConditionFailed.
	SetCurrentDeployment(ctx context.Context, update domain.CurrentDeploymentUpdate) error
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	// CreateDeployment writes a new record and returns ErrAlreadyExists if the id is taken.
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	// GetDeploymentByID is a strongly consistent read.
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	GetDeploymentByBuildJobID(ctx context.Context, buildJobID string) (*domain.Deployment, error)
	// ListDeploymentsByProject returns deployments newest first.
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	// ApplyTransition performs a single conditional write and returns
	// ErrConditionFailed when the stored record does not satisfy the guard.
	ApplyTransition(ctx context.Context, transition domain.Transition) error
}

// UserRepository stores user accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	// ListUsers returns users newest first.
	ListUsers(ctx context.Context, limit int) ([]domain.User, error)
}

// DefaultListLimit bounds list queries that do not specify a limit.
const DefaultListLimit = 20

// NormalizeLimit applies DefaultListLimit to non-positive limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
