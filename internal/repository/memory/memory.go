// Package memory keeps projects, deployments and users in process memory. It backs
// tests and single-node development servers.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
)

// Store implements the repository interfaces on guarded maps.
type Store struct {
	mu          sync.RWMutex
	projects    map[string]domain.Project
	deployments map[string]domain.Deployment
	byJob       map[string]string
	users       map[string]domain.User
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		projects:    make(map[string]domain.Project),
		deployments: make(map[string]domain.Deployment),
		byJob:       make(map[string]string),
		users:       make(map[string]domain.User),
	}
}

var (
	_ repository.ProjectRepository    = (*Store)(nil)
	_ repository.DeploymentRepository = (*Store)(nil)
	_ repository.UserRepository       = (*Store)(nil)
)

// CreateProject inserts a project.
func (s *Store) CreateProject(_ context.Context, project *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; ok {
		return repository.ErrAlreadyExists
	}
	s.projects[project.ID] = cloneProject(*project)
	return nil
}

// GetProjectByID fetches a project.
func (s *Store) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneProject(p)
	return &out, nil
}

// ListProjects returns projects newest first.
func (s *Store) ListProjects(_ context.Context, limit int) ([]domain.Project, error) {
	s.mu.RLock()
	projects := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		projects = append(projects, cloneProject(p))
	}
	s.mu.RUnlock()

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	if limit = repository.NormalizeLimit(limit); len(projects) > limit {
		projects = projects[:limit]
	}
	return projects, nil
}

// SetCurrentDeployment moves the current pointer unless a newer deployment holds it.
func (s *Store) SetCurrentDeployment(_ context.Context, update domain.CurrentDeploymentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[update.ProjectID]
	if !ok {
		return repository.ErrNotFound
	}
	if p.CurrentDeploymentCreatedAt != nil && p.CurrentDeploymentCreatedAt.After(update.DeploymentCreatedAt) {
		return repository.ErrConditionFailed
	}
	id := update.DeploymentID
	createdAt := update.DeploymentCreatedAt
	published := update.PublishedAt
	p.CurrentDeploymentID = &id
	p.CurrentDeploymentCreatedAt = &createdAt
	p.LastPublishedAt = &published
	p.UpdatedAt = update.PublishedAt
	s.projects[p.ID] = p
	return nil
}

// CreateDeployment inserts a deployment if its id is unused.
func (s *Store) CreateDeployment(_ context.Context, deployment *domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[deployment.ID]; ok {
		return repository.ErrAlreadyExists
	}
	s.deployments[deployment.ID] = *deployment
	if deployment.BuildJobID != "" {
		s.byJob[deployment.BuildJobID] = deployment.ID
	}
	return nil
}

// GetDeploymentByID fetches a deployment.
func (s *Store) GetDeploymentByID(_ context.Context, deploymentID string) (*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deployments[deploymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

// GetDeploymentByBuildJobID resolves a deployment from its build job.
func (s *Store) GetDeploymentByBuildJobID(_ context.Context, buildJobID string) (*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byJob[buildJobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	d := s.deployments[id]
	return &d, nil
}

// ListDeploymentsByProject returns the project's deployments newest first.
func (s *Store) ListDeploymentsByProject(_ context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	s.mu.RLock()
	var deployments []domain.Deployment
	for _, d := range s.deployments {
		if d.ProjectID == projectID {
			deployments = append(deployments, d)
		}
	}
	s.mu.RUnlock()

	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].CreatedAt.After(deployments[j].CreatedAt)
	})
	if limit = repository.NormalizeLimit(limit); len(deployments) > limit {
		deployments = deployments[:limit]
	}
	return deployments, nil
}

// ApplyTransition compares and sets the deployment under the store lock.
func (s *Store) ApplyTransition(_ context.Context, transition domain.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[transition.DeploymentID]
	if !ok {
		return repository.ErrNotFound
	}
	if !transition.Permits(d) {
		return repository.ErrConditionFailed
	}
	s.deployments[d.ID] = transition.Apply(d)
	return nil
}

func cloneProject(p domain.Project) domain.Project {
	p.Commands = domain.Commands{
		PreBuild: append([]string(nil), p.Commands.PreBuild...),
		Build:    append([]string(nil), p.Commands.Build...),
	}
	return p
}
