package domain

import "time"

// Outcome classifies how a build event affected a deployment.
type Outcome string

const (
	// OutcomeProgress records an advanced phase while the build keeps running.
	OutcomeProgress Outcome = "progress"
	// OutcomeSucceeded marks the final phase completing successfully.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed marks a failed phase.
	OutcomeFailed Outcome = "failed"
	// OutcomeIgnoredTerminal drops an event for a deployment already in a sink state.
	OutcomeIgnoredTerminal Outcome = "ignored_terminal"
	// OutcomeIgnoredStale drops a progress event whose phase is not later than the stored one.
	OutcomeIgnoredStale Outcome = "ignored_stale"
	// OutcomeOrphan marks an event whose build job has no deployment.
	OutcomeOrphan Outcome = "orphan"
)

// Decision is the result of evaluating a build event against the stored deployment.
type Decision struct {
	Outcome Outcome
	// Transition is set only when the deployment record must be written.
	Transition *Transition
}

// Decide evaluates ev against current. It is pure so callers can re-run it
// after a failed conditional write with a fresh read.
func Decide(current Deployment, ev BuildEvent, now time.Time) Decision {
	if current.Status.Terminal() {
		return Decision{Outcome: OutcomeIgnoredTerminal}
	}

	if failed, ok := ev.PhaseStatus.DeploymentStatus(); ok {
		return Decision{
			Outcome: OutcomeFailed,
			Transition: ev.stamp(&Transition{
				DeploymentID: current.ID,
				Status:       failed,
				Phase:        ev.Phase,
				UpdatedAt:    now,
			}),
		}
	}

	if ev.Phase.Final() {
		return Decision{
			Outcome: OutcomeSucceeded,
			Transition: ev.stamp(&Transition{
				DeploymentID: current.ID,
				Status:       StatusSucceeded,
				Phase:        ev.Phase,
				UpdatedAt:    now,
			}),
		}
	}

	if ev.Phase.Index() <= current.Phase.Index() {
		return Decision{Outcome: OutcomeIgnoredStale}
	}
	return Decision{
		Outcome: OutcomeProgress,
		Transition: ev.stamp(&Transition{
			DeploymentID: current.ID,
			Status:       StatusBuilding,
			Phase:        ev.Phase,
			UpdatedAt:    now,
			AdvanceOnly:  true,
		}),
	}
}
