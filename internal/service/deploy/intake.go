package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/splax/buildor/internal/buildtrigger"
	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/repository"
)

const stopBuildTimeout = 5 * time.Second

// Build environment variables handed to every job.
const (
	EnvProjectID     = "PROJECT_ID"
	EnvProjectName   = "PROJECT_NAME"
	EnvRepoURL       = "REPO_URL"
	EnvOutputFolder  = "OUTPUT_FOLDER"
	EnvDeploymentID  = "DEPLOYMENT_ID"
	EnvSourceVersion = "SOURCE_VERSION"
)

// TriggerInput requests a new deployment.
type TriggerInput struct {
	ProjectID     string
	SourceVersion string
}

// Receipt is returned to the caller once a deployment has been started.
type Receipt struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"projectId"`
	BuildJobID string        `json:"buildJobId"`
	Status     domain.Status `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Trigger starts a build for the project and records the deployment as Pending.
// The job is started before the record is written so no record exists without a job.
func (s Service) Trigger(ctx context.Context, in TriggerInput) (*Receipt, error) {
	projectID := strings.TrimSpace(in.ProjectID)
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrValidation)
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
		}
		return nil, fmt.Errorf("load project: %w", err)
	}

	now := s.now()
	deploymentID := s.newID()
	spec, err := buildtrigger.RenderBuildSpec(buildtrigger.BuildSpecInput{
		Commands:     project.Commands,
		OutputFolder: project.OutputFolder,
		ArtifactName: fmt.Sprintf("%s-dist-%d.zip", project.Name, now.Unix()),
	})
	if err != nil {
		return nil, err
	}

	jobID, err := s.trigger.StartBuild(ctx, buildtrigger.BuildRequest{
		JobDefinition: s.cfg.JobDefinition,
		Env:           buildEnv(project, deploymentID, in.SourceVersion),
		BuildSpec:     spec,
	})
	if err != nil {
		s.metrics.observeTrigger("trigger_failed")
		s.logger.Error("build trigger failed", "project_id", project.ID, "deployment_id", deploymentID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrTriggerFailed, err)
	}

	deployment := &domain.Deployment{
		ID:         deploymentID,
		ProjectID:  project.ID,
		BuildJobID: jobID,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		s.metrics.observeTrigger("persist_failed")
		s.logger.Error("deployment record not persisted for started build",
			"deployment_id", deploymentID, "build_job_id", jobID, "project_id", project.ID, "error", err)
		s.stopOrphanedBuild(ctx, deploymentID, jobID)
		return nil, fmt.Errorf("%w: persist deployment: %w", ErrTransientStore, err)
	}

	s.metrics.observeTrigger("started")
	s.publish(*deployment)
	s.logger.Info("deployment started", "deployment_id", deployment.ID, "project_id", project.ID, "build_job_id", jobID)
	return &Receipt{
		ID:         deployment.ID,
		ProjectID:  deployment.ProjectID,
		BuildJobID: deployment.BuildJobID,
		Status:     deployment.Status,
		CreatedAt:  deployment.CreatedAt,
	}, nil
}

func buildEnv(project *domain.Project, deploymentID, sourceVersion string) []buildtrigger.EnvVar {
	output := project.OutputFolder
	if output == "" {
		output = domain.DefaultOutputFolder
	}
	env := []buildtrigger.EnvVar{
		{Name: EnvProjectID, Value: project.ID},
		{Name: EnvProjectName, Value: project.Name},
		{Name: EnvRepoURL, Value: project.RepositoryURL},
		{Name: EnvOutputFolder, Value: output},
		{Name: EnvDeploymentID, Value: deploymentID},
	}
	if v := strings.TrimSpace(sourceVersion); v != "" {
		env = append(env, buildtrigger.EnvVar{Name: EnvSourceVersion, Value: v})
	}
	return env
}

// stopOrphanedBuild cancels a job whose deployment could not be recorded, when
// the trigger supports it. It outlives the caller's context.
func (s Service) stopOrphanedBuild(ctx context.Context, deploymentID, jobID string) {
	stopper, ok := s.trigger.(buildtrigger.Stopper)
	if !ok {
		return
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopBuildTimeout)
	defer cancel()
	if err := stopper.StopBuild(stopCtx, jobID); err != nil {
		s.logger.Error("failed to stop unrecorded build", "deployment_id", deploymentID, "build_job_id", jobID, "error", err)
		return
	}
	s.logger.Warn("stopped unrecorded build", "deployment_id", deploymentID, "build_job_id", jobID)
}
