package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
)

var (
	// ErrValidation marks malformed project input.
	ErrValidation = errors.New("invalid project")
	// ErrNotFound marks an unknown project id.
	ErrNotFound = errors.New("project not found")
)

var (
	errInvalidProjectName = fmt.Errorf("%w: project name must be 1-100 letters, digits, '.', '_' or '-'", ErrValidation)
	errInvalidRepoURL     = fmt.Errorf("%w: repository URL must be an http(s) or git URL", ErrValidation)
	errInvalidOutput      = fmt.Errorf("%w: output folder must be a relative path", ErrValidation)
	errMissingProjectID   = fmt.Errorf("%w: project id required", ErrValidation)
)

// Names become the build's checkout directory and outputs live under it, so
// both stay within a shell-safe alphabet.
var (
	projectNamePattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,99}$`)
	outputFolderPattern = regexp.MustCompile(`^[A-Za-z0-9._][A-Za-z0-9._/-]*$`)
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name          string
	RepositoryURL string
	Commands      domain.Commands
	OutputFolder  string
}

// Service orchestrates project management.
type Service struct {
	projects repository.ProjectRepository
	logger   *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, logger *slog.Logger) Service {
	return Service{projects: projects, logger: logger}
}

// Create registers a new project, filling in default build commands and output folder.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	name := strings.TrimSpace(input.Name)
	if !projectNamePattern.MatchString(name) {
		return nil, errInvalidProjectName
	}
	repoURL := strings.TrimSpace(input.RepositoryURL)
	if !validRepoURL(repoURL) {
		return nil, errInvalidRepoURL
	}
	output := strings.Trim(strings.TrimSpace(input.OutputFolder), "/")
	if output == "" {
		output = domain.DefaultOutputFolder
	}
	if strings.Contains(output, "..") || !outputFolderPattern.MatchString(output) {
		return nil, errInvalidOutput
	}

	now := time.Now().UTC()
	project := &domain.Project{
		ID:            uuid.NewString(),
		Name:          name,
		RepositoryURL: repoURL,
		Commands:      input.Commands.WithDefaults(),
		OutputFolder:  output,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "name", project.Name)
	return project, nil
}

// Get fetches a project.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, projectID)
		}
		return nil, err
	}
	return project, nil
}

// List returns projects newest first.
func (s Service) List(ctx context.Context, limit int) ([]domain.Project, error) {
	return s.projects.ListProjects(ctx, limit)
}

func validRepoURL(raw string) bool {
	if raw == "" {
		return false
	}
	if strings.HasPrefix(raw, "git@") {
		return strings.Contains(raw, ":")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "git", "ssh":
		return true
	}
	return false
}
