package buildtrigger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	"github.com/aws/smithy-go"

	"github.com/splax/buildor/internal/domain"
)

// CodeBuildAPI is the subset of the CodeBuild client used to run deployments.
type CodeBuildAPI interface {
	StartBuild(
		ctx context.Context,
		params *codebuild.StartBuildInput,
		optFns ...func(*codebuild.Options),
	) (*codebuild.StartBuildOutput, error)

	StopBuild(
		ctx context.Context,
		params *codebuild.StopBuildInput,
		optFns ...func(*codebuild.Options),
	) (*codebuild.StopBuildOutput, error)
}

// CodeBuild starts builds as AWS CodeBuild jobs.
type CodeBuild struct {
	api     CodeBuildAPI
	project string
}

var (
	_ Trigger = (*CodeBuild)(nil)
	_ Stopper = (*CodeBuild)(nil)
)

// NewCodeBuild returns a trigger bound to the given CodeBuild project.
func NewCodeBuild(api CodeBuildAPI, project string) *CodeBuild {
	return &CodeBuild{api: api, project: project}
}

// NewCodeBuildFromConfig builds the CodeBuild client from an AWS config.
func NewCodeBuildFromConfig(cfg aws.Config, project string) *CodeBuild {
	return NewCodeBuild(codebuild.NewFromConfig(cfg), project)
}

// StartBuild starts a CodeBuild job and returns the id suffix used to correlate phase events.
func (c *CodeBuild) StartBuild(ctx context.Context, req BuildRequest) (string, error) {
	project := req.JobDefinition
	if project == "" {
		project = c.project
	}
	input := &codebuild.StartBuildInput{
		ProjectName:                  aws.String(project),
		EnvironmentVariablesOverride: make([]types.EnvironmentVariable, 0, len(req.Env)),
	}
	for _, env := range req.Env {
		input.EnvironmentVariablesOverride = append(input.EnvironmentVariablesOverride, types.EnvironmentVariable{
			Name:  aws.String(env.Name),
			Value: aws.String(env.Value),
			Type:  types.EnvironmentVariableTypePlaintext,
		})
	}
	if req.BuildSpec != "" {
		input.BuildspecOverride = aws.String(req.BuildSpec)
	}

	out, err := c.api.StartBuild(ctx, input)
	if err != nil {
		return "", classifyCodeBuild("start build", err)
	}
	if out.Build == nil || aws.ToString(out.Build.Id) == "" {
		return "", fmt.Errorf("start build: %w: no build id returned", ErrRejected)
	}
	return domain.NormalizeBuildJobID(aws.ToString(out.Build.Id)), nil
}

// StopBuild stops a job previously started on the configured project.
func (c *CodeBuild) StopBuild(ctx context.Context, jobID string) error {
	id := jobID
	if !strings.Contains(id, ":") {
		id = c.project + ":" + jobID
	}
	if _, err := c.api.StopBuild(ctx, &codebuild.StopBuildInput{Id: aws.String(id)}); err != nil {
		return classifyCodeBuild("stop build", err)
	}
	return nil
}

// Error codes that mean the request itself was refused rather than failing in transit.
const (
	codeInvalidInput     = "InvalidInputException"
	codeResourceNotFound = "ResourceNotFoundException"
	codeAccountLimit     = "AccountLimitExceededException"
)

func classifyCodeBuild(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case codeInvalidInput, codeResourceNotFound, codeAccountLimit:
			return fmt.Errorf("%s: %w: %s: %s", op, ErrRejected, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
