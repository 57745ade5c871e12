package domain

import "time"

// Status is the externally observable state of a deployment.
type Status string

// Deployment statuses. Every value other than Pending and Building is terminal.
const (
	StatusPending     Status = "Pending"
	StatusBuilding    Status = "Building"
	StatusSucceeded   Status = "Succeeded"
	StatusFailed      Status = "Failed"
	StatusTimedOut    Status = "TimedOut"
	StatusStopped     Status = "Stopped"
	StatusFault       Status = "Fault"
	StatusClientError Status = "ClientError"
)

// ActiveStatuses lists the statuses a conditional write may replace.
var ActiveStatuses = []Status{StatusPending, StatusBuilding}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusPending, StatusBuilding:
		return false
	default:
		return true
	}
}

// Failure reports whether s is one of the failure sinks.
func (s Status) Failure() bool {
	return s.Terminal() && s != StatusSucceeded
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusBuilding, StatusSucceeded, StatusFailed,
		StatusTimedOut, StatusStopped, StatusFault, StatusClientError:
		return true
	}
	return false
}

// Deployment is one build-and-publish attempt for a project.
type Deployment struct {
	ID         string
	ProjectID  string
	BuildJobID string
	Status     Status
	Phase      Phase
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// Build metadata reported by the build service. Zero or nil when never reported.
	BuildNumber int64
	StartedAt   *time.Time
	EndedAt     *time.Time
}

// Snapshot is the point-in-time view returned to polling clients.
type Snapshot struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Status    Status    `json:"status"`
	Phase     Phase     `json:"phase"`
	UpdatedAt time.Time `json:"updatedAt"`

	BuildNumber int64      `json:"buildNumber,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Snapshot returns the polling view of d.
func (d Deployment) Snapshot() Snapshot {
	return Snapshot{
		ID:          d.ID,
		ProjectID:   d.ProjectID,
		Status:      d.Status,
		Phase:       d.Phase,
		UpdatedAt:   d.UpdatedAt,
		BuildNumber: d.BuildNumber,
		StartedAt:   d.StartedAt,
		EndedAt:     d.EndedAt,
	}
}

// Transition is a single conditional write against a deployment record.
//
// Stores apply it only while the stored status is active. When AdvanceOnly is
// set the stored phase must additionally precede Phase in the build order.
type Transition struct {
	DeploymentID string
	Status       Status
	Phase        Phase
	UpdatedAt    time.Time
	AdvanceOnly  bool
	// Build metadata is written only when set and never clears stored values.
	BuildNumber int64
	StartedAt   time.Time
	EndedAt     time.Time
}

// Permits reports whether the stored deployment satisfies the transition's guard.
// Stores without native conditional expressions evaluate it under their own lock.
func (t Transition) Permits(current Deployment) bool {
	if current.Status.Terminal() {
		return false
	}
	if t.AdvanceOnly && current.Phase.Index() >= t.Phase.Index() {
		return false
	}
	return true
}

// Apply returns d with the transition's fields written.
func (t Transition) Apply(d Deployment) Deployment {
	d.Status = t.Status
	d.Phase = t.Phase
	d.UpdatedAt = t.UpdatedAt
	if t.BuildNumber > 0 {
		d.BuildNumber = t.BuildNumber
	}
	if !t.StartedAt.IsZero() {
		at := t.StartedAt
		d.StartedAt = &at
	}
	if !t.EndedAt.IsZero() {
		at := t.EndedAt
		d.EndedAt = &at
	}
	return d
}
