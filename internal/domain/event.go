package domain

import (
	"strings"
	"time"
)

// BuildEvent reports that a phase of an external build has completed.
type BuildEvent struct {
	BuildJobID  string
	Phase       Phase
	PhaseStatus PhaseStatus
	OccurredAt  time.Time
	// BuildNumber and BuildStartedAt are zero when the notification omits them.
	BuildNumber    int64
	BuildStartedAt time.Time
}

// stamp copies the event's build metadata onto t. A terminal transition also
// records the event time as the build's end.
func (ev BuildEvent) stamp(t *Transition) *Transition {
	t.BuildNumber = ev.BuildNumber
	t.StartedAt = ev.BuildStartedAt
	if t.Status.Terminal() {
		t.EndedAt = ev.OccurredAt
	}
	return t
}

// NormalizeBuildJobID reduces a build identifier to the part after the last colon.
// Build services report both "project:uuid" and full ARNs for the same job.
func NormalizeBuildJobID(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}
