package dynamo

import (
	"time"

	"github.com/splax/buildor/internal/domain"
)

// Attribute names shared by items, expressions and indexes.
const (
	attrID                  = "uuid"
	attrProjectID           = "project_id"
	attrBuildJobID          = "build_job_id"
	attrStatus              = "status"
	attrPhase               = "phase"
	attrPhaseIndex          = "phase_index"
	attrCreatedAt           = "created_at"
	attrUpdatedAt           = "updated_at"
	attrCurrentDeployment   = "current_deployment_id"
	attrCurrentDeploymentAt = "current_deployment_created_at"
	attrLastPublished       = "last_published"
	attrBuildNumber         = "build_number"
	attrStartTime           = "start_time"
	attrEndTime             = "end_time"
)

type commandsItem struct {
	PreBuild []string `dynamodbav:"preBuild"`
	Build    []string `dynamodbav:"build"`
}

// Times are stored as unix milliseconds so conditions can compare them numerically.
type projectItem struct {
	ID                         string       `dynamodbav:"uuid"`
	Name                       string       `dynamodbav:"name"`
	RepositoryURL              string       `dynamodbav:"repository_url"`
	Commands                   commandsItem `dynamodbav:"commands"`
	OutputFolder               string       `dynamodbav:"output_folder"`
	CurrentDeploymentID        string       `dynamodbav:"current_deployment_id,omitempty"`
	CurrentDeploymentCreatedAt int64        `dynamodbav:"current_deployment_created_at,omitempty"`
	LastPublished              int64        `dynamodbav:"last_published,omitempty"`
	CreatedAt                  int64        `dynamodbav:"created_at"`
	UpdatedAt                  int64        `dynamodbav:"updated_at"`
}

type deploymentItem struct {
	ID          string `dynamodbav:"uuid"`
	ProjectID   string `dynamodbav:"project_id"`
	BuildJobID  string `dynamodbav:"build_job_id"`
	Status      string `dynamodbav:"status"`
	Phase       string `dynamodbav:"phase"`
	PhaseIndex  int    `dynamodbav:"phase_index"`
	CreatedAt   int64  `dynamodbav:"created_at"`
	UpdatedAt   int64  `dynamodbav:"updated_at"`
	BuildNumber int64  `dynamodbav:"build_number,omitempty"`
	StartTime   int64  `dynamodbav:"start_time,omitempty"`
	EndTime     int64  `dynamodbav:"end_time,omitempty"`
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func optionalMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := fromMillis(ms)
	return &t
}

func toProjectItem(p domain.Project) projectItem {
	item := projectItem{
		ID:            p.ID,
		Name:          p.Name,
		RepositoryURL: p.RepositoryURL,
		Commands:      commandsItem{PreBuild: p.Commands.PreBuild, Build: p.Commands.Build},
		OutputFolder:  p.OutputFolder,
		CreatedAt:     millis(p.CreatedAt),
		UpdatedAt:     millis(p.UpdatedAt),
	}
	if p.CurrentDeploymentID != nil {
		item.CurrentDeploymentID = *p.CurrentDeploymentID
	}
	if p.CurrentDeploymentCreatedAt != nil {
		item.CurrentDeploymentCreatedAt = millis(*p.CurrentDeploymentCreatedAt)
	}
	if p.LastPublishedAt != nil {
		item.LastPublished = millis(*p.LastPublishedAt)
	}
	return item
}

func (item projectItem) toDomain() domain.Project {
	p := domain.Project{
		ID:                         item.ID,
		Name:                       item.Name,
		RepositoryURL:              item.RepositoryURL,
		Commands:                   domain.Commands{PreBuild: item.Commands.PreBuild, Build: item.Commands.Build},
		OutputFolder:               item.OutputFolder,
		CurrentDeploymentCreatedAt: optionalMillis(item.CurrentDeploymentCreatedAt),
		LastPublishedAt:            optionalMillis(item.LastPublished),
		CreatedAt:                  fromMillis(item.CreatedAt),
		UpdatedAt:                  fromMillis(item.UpdatedAt),
	}
	if item.CurrentDeploymentID != "" {
		id := item.CurrentDeploymentID
		p.CurrentDeploymentID = &id
	}
	return p
}

func toDeploymentItem(d domain.Deployment) deploymentItem {
	item := deploymentItem{
		ID:         d.ID,
		ProjectID:  d.ProjectID,
		BuildJobID: d.BuildJobID,
		Status:     string(d.Status),
		Phase:      string(d.Phase),
		PhaseIndex: d.Phase.Index(),
		CreatedAt:  millis(d.CreatedAt),
		UpdatedAt:  millis(d.UpdatedAt),
	}
	item.BuildNumber = d.BuildNumber
	if d.StartedAt != nil {
		item.StartTime = millis(*d.StartedAt)
	}
	if d.EndedAt != nil {
		item.EndTime = millis(*d.EndedAt)
	}
	return item
}

func (item deploymentItem) toDomain() domain.Deployment {
	return domain.Deployment{
		ID:          item.ID,
		ProjectID:   item.ProjectID,
		BuildJobID:  item.BuildJobID,
		Status:      domain.Status(item.Status),
		Phase:       domain.Phase(item.Phase),
		CreatedAt:   fromMillis(item.CreatedAt),
		UpdatedAt:   fromMillis(item.UpdatedAt),
		BuildNumber: item.BuildNumber,
		StartedAt:   optionalMillis(item.StartTime),
		EndedAt:     optionalMillis(item.EndTime),
	}
}
