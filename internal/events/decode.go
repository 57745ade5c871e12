// Package events turns build-service notifications into domain build events.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/splax/buildor/internal/domain"
)

// ErrMalformed marks a notification that can never be applied and should be acknowledged.
var ErrMalformed = errors.New("malformed build event")

// CodeBuild notification constants.
const (
	SourceCodeBuild       = "aws.codebuild"
	DetailTypePhaseChange = "CodeBuild Build Phase Change"
)

// buildStartLayout is how CodeBuild formats build-start-time, e.g. "Apr 1, 2026 10:00:00 AM".
const buildStartLayout = "Jan 2, 2006 3:04:05 PM"

// PhaseChangeDetail is the detail section of a CodeBuild phase change notification.
type PhaseChangeDetail struct {
	BuildID               string                `json:"build-id"`
	ProjectName           string                `json:"project-name"`
	CompletedPhase        string                `json:"completed-phase"`
	CompletedPhaseStatus  string                `json:"completed-phase-status"`
	CompletedPhaseEnd     string                `json:"completed-phase-end"`
	AdditionalInformation AdditionalInformation `json:"additional-information"`
}

// AdditionalInformation carries the build metadata of a phase change.
type AdditionalInformation struct {
	// CodeBuild encodes the number as a JSON float.
	BuildNumber    float64 `json:"build-number"`
	BuildStartTime string  `json:"build-start-time"`
}

// FromCloudWatch decodes a CodeBuild phase change delivered through EventBridge.
func FromCloudWatch(ev events.CloudWatchEvent) (domain.BuildEvent, error) {
	if ev.DetailType != "" && ev.DetailType != DetailTypePhaseChange {
		return domain.BuildEvent{}, fmt.Errorf("%w: unexpected detail type %q", ErrMalformed, ev.DetailType)
	}
	var detail PhaseChangeDetail
	if err := json.Unmarshal(ev.Detail, &detail); err != nil {
		return domain.BuildEvent{}, fmt.Errorf("%w: decode detail: %v", ErrMalformed, err)
	}
	occurred := ev.Time
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	out, err := build(detail.BuildID, detail.CompletedPhase, detail.CompletedPhaseStatus, occurred)
	if err != nil {
		return out, err
	}
	info := detail.AdditionalInformation
	if info.BuildNumber > 0 {
		out.BuildNumber = int64(info.BuildNumber)
	}
	// An unreadable start time only loses metadata; the phase change still applies.
	if started, err := time.ParseInLocation(buildStartLayout, strings.TrimSpace(info.BuildStartTime), time.UTC); err == nil {
		out.BuildStartedAt = started
	}
	return out, nil
}

// BuilderCallback is the payload the self-hosted builder posts when a phase completes.
type BuilderCallback struct {
	JobID       string    `json:"job_id"`
	Phase       string    `json:"phase"`
	PhaseStatus string    `json:"phase_status"`
	Timestamp   time.Time `json:"timestamp"`
	BuildNumber int64     `json:"build_number,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
}

// FromBuilder decodes a builder callback.
func FromBuilder(cb BuilderCallback) (domain.BuildEvent, error) {
	occurred := cb.Timestamp
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	ev, err := build(cb.JobID, cb.Phase, cb.PhaseStatus, occurred)
	if err != nil {
		return ev, err
	}
	ev.BuildNumber = cb.BuildNumber
	ev.BuildStartedAt = cb.StartedAt
	return ev, nil
}

func build(jobID, phase, status string, occurred time.Time) (domain.BuildEvent, error) {
	jobID = domain.NormalizeBuildJobID(jobID)
	if jobID == "" {
		return domain.BuildEvent{}, fmt.Errorf("%w: missing build id", ErrMalformed)
	}
	p, err := domain.ParsePhase(phase)
	if err != nil {
		return domain.BuildEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	s, err := domain.ParsePhaseStatus(strings.TrimSpace(status))
	if err != nil {
		return domain.BuildEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return domain.BuildEvent{BuildJobID: jobID, Phase: p, PhaseStatus: s, OccurredAt: occurred}, nil
}
