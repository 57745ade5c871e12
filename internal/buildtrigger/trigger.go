// Package buildtrigger starts and stops external build jobs.
package buildtrigger

import (
	"context"
	"errors"
)

// ErrRejected indicates the build service refused to start a job.
var ErrRejected = errors.New("buildtrigger: build rejected")

// EnvVar is a plaintext environment variable passed to the build.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// BuildRequest describes a single build to start.
type BuildRequest struct {
	// JobDefinition names the build project or profile to run.
	JobDefinition string
	Env           []EnvVar
	// BuildSpec overrides the job definition's build instructions when set.
	BuildSpec string
}

// Trigger starts builds on an external build service.
type Trigger interface {
	// StartBuild returns the normalized job id of the started build.
	StartBuild(ctx context.Context, req BuildRequest) (string, error)
}

// Stopper is implemented by triggers that can cancel a started build.
type Stopper interface {
	StopBuild(ctx context.Context, jobID string) error
}
