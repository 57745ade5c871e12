package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
)

const projectColumns = `id, name, repository_url, pre_build_commands, build_commands, output_folder,
	current_deployment_id, current_deployment_created_at, last_published_at, created_at, updated_at`

const deploymentColumns = `id, project_id, build_job_id, status, phase, created_at, updated_at,
	build_number, started_at, ended_at`

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, name, repository_url, pre_build_commands, build_commands, output_folder, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		project.ID,
		project.Name,
		project.RepositoryURL,
		project.Commands.PreBuild,
		project.Commands.Build,
		project.OutputFolder,
		project.CreatedAt,
		project.UpdatedAt,
	)
	return mapError(err)
}

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	project, err := scanProject(r.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapError(err)
	}
	return project, nil
}

// ListProjects returns projects newest first.
func (r *Repository) ListProjects(ctx context.Context, limit int) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, repository.NormalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// SetCurrentDeployment moves the current pointer unless a newer deployment already holds it.
func (r *Repository) SetCurrentDeployment(ctx context.Context, update domain.CurrentDeploymentUpdate) error {
	const query = `UPDATE projects
		SET current_deployment_id = $2,
			current_deployment_created_at = $3,
			last_published_at = $4,
			updated_at = $4
		WHERE id = $1
			AND (current_deployment_created_at IS NULL OR current_deployment_created_at <= $3)`
	tag, err := r.pool.Exec(ctx, query, update.ProjectID, update.DeploymentID, update.DeploymentCreatedAt, update.PublishedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, `SELECT 1 FROM projects WHERE id = $1`, update.ProjectID)
	}
	return nil
}

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, build_job_id, status, phase, phase_index, created_at, updated_at,
			build_number, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID,
		deployment.ProjectID,
		deployment.BuildJobID,
		deployment.Status,
		deployment.Phase,
		deployment.Phase.Index(),
		deployment.CreatedAt,
		deployment.UpdatedAt,
		nullable(deployment.BuildNumber),
		deployment.StartedAt,
		deployment.EndedAt,
	)
	return mapError(err)
}

// GetDeploymentByID fetches a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return r.getDeployment(ctx, query, deploymentID)
}

// GetDeploymentByBuildJobID fetches the deployment started for a build job.
func (r *Repository) GetDeploymentByBuildJobID(ctx context.Context, buildJobID string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE build_job_id = $1`
	return r.getDeployment(ctx, query, buildJobID)
}

func (r *Repository) getDeployment(ctx context.Context, query string, arg any) (*domain.Deployment, error) {
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapError(err)
	}
	return d, nil
}

// ListDeploymentsByProject fetches recent deployments for a project.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, repository.NormalizeLimit(limit))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var deployments []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

// ApplyTransition performs a single conditional update guarded by status and phase order.
func (r *Repository) ApplyTransition(ctx context.Context, transition domain.Transition) error {
	const query = `UPDATE deployments
		SET status = $2, phase = $3, phase_index = $4, updated_at = $5,
			build_number = COALESCE($7, build_number),
			started_at = COALESCE($8, started_at),
			ended_at = COALESCE($9, ended_at)
		WHERE id = $1
			AND status IN ('Pending', 'Building')
			AND ($6 = FALSE OR phase_index < $4)`
	tag, err := r.pool.Exec(ctx, query,
		transition.DeploymentID,
		transition.Status,
		transition.Phase,
		transition.Phase.Index(),
		transition.UpdatedAt,
		transition.AdvanceOnly,
		nullable(transition.BuildNumber),
		nullableTime(transition.StartedAt),
		nullableTime(transition.EndedAt),
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, `SELECT 1 FROM deployments WHERE id = $1`, transition.DeploymentID)
	}
	return nil
}

// missingOr distinguishes a missing row from a guard that did not hold.
func (r *Repository) missingOr(ctx context.Context, query, id string) error {
	var one int
	if err := r.pool.QueryRow(ctx, query, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return mapError(err)
	}
	return repository.ErrConditionFailed
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p                domain.Project
		currentID        *string
		currentCreatedAt *time.Time
		lastPublishedAt  *time.Time
	)
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.RepositoryURL,
		&p.Commands.PreBuild,
		&p.Commands.Build,
		&p.OutputFolder,
		&currentID,
		&currentCreatedAt,
		&lastPublishedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.CurrentDeploymentID = currentID
	p.CurrentDeploymentCreatedAt = currentCreatedAt
	p.LastPublishedAt = lastPublishedAt
	return &p, nil
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var (
		d           domain.Deployment
		buildNumber *int64
	)
	if err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&d.BuildJobID,
		&d.Status,
		&d.Phase,
		&d.CreatedAt,
		&d.UpdatedAt,
		&buildNumber,
		&d.StartedAt,
		&d.EndedAt,
	); err != nil {
		return nil, err
	}
	if buildNumber != nil {
		d.BuildNumber = *buildNumber
	}
	return &d, nil
}

// nullable maps the zero value to NULL so COALESCE keeps the stored column.
func nullable(n int64) *int64 {
	if n <= 0 {
		return nil
	}
	return &n
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrAlreadyExists
		case "23503", "22P02":
			return repository.ErrNotFound
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", repository.ErrThrottled, pgErr.Message)
		}
	}
	return err
}
