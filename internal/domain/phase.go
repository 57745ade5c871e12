package domain

import (
	"fmt"
	"strings"
)

// Phase names a stage of the external build. Phases are totally ordered.
type Phase string

// Build phases in execution order.
const (
	PhaseSubmitted       Phase = "SUBMITTED"
	PhaseProvisioning    Phase = "PROVISIONING"
	PhaseDownloadSource  Phase = "DOWNLOAD_SOURCE"
	PhaseInstall         Phase = "INSTALL"
	PhasePreBuild        Phase = "PRE_BUILD"
	PhaseBuild           Phase = "BUILD"
	PhasePostBuild       Phase = "POST_BUILD"
	PhaseUploadArtifacts Phase = "UPLOAD_ARTIFACTS"
	PhaseFinalizing      Phase = "FINALIZING"
)

// Phases lists every phase in order.
var Phases = []Phase{
	PhaseSubmitted,
	PhaseProvisioning,
	PhaseDownloadSource,
	PhaseInstall,
	PhasePreBuild,
	PhaseBuild,
	PhasePostBuild,
	PhaseUploadArtifacts,
	PhaseFinalizing,
}

// NoPhaseIndex is the position of a deployment that has not observed any phase yet.
const NoPhaseIndex = -1

// Index returns the phase position in the build order, or NoPhaseIndex for
// the empty or an unknown phase.
func (p Phase) Index() int {
	for i, candidate := range Phases {
		if candidate == p {
			return i
		}
	}
	return NoPhaseIndex
}

// Final reports whether p is the last phase of a build.
func (p Phase) Final() bool {
	return p == PhaseFinalizing
}

// ParsePhase normalizes raw into a known phase.
func ParsePhase(raw string) (Phase, error) {
	p := Phase(strings.ToUpper(strings.TrimSpace(raw)))
	if p.Index() == NoPhaseIndex {
		return "", fmt.Errorf("unknown build phase %q", raw)
	}
	return p, nil
}

// PhaseStatus is the outcome of a completed phase.
type PhaseStatus string

// Phase outcomes reported by the build environment.
const (
	PhaseSucceeded   PhaseStatus = "SUCCEEDED"
	PhaseFailed      PhaseStatus = "FAILED"
	PhaseTimedOut    PhaseStatus = "TIMED_OUT"
	PhaseStopped     PhaseStatus = "STOPPED"
	PhaseFault       PhaseStatus = "FAULT"
	PhaseClientError PhaseStatus = "CLIENT_ERROR"
)

var failureStatuses = map[PhaseStatus]Status{
	PhaseFailed:      StatusFailed,
	PhaseTimedOut:    StatusTimedOut,
	PhaseStopped:     StatusStopped,
	PhaseFault:       StatusFault,
	PhaseClientError: StatusClientError,
}

// ParsePhaseStatus normalizes raw into a known phase status.
func ParsePhaseStatus(raw string) (PhaseStatus, error) {
	s := PhaseStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if s == PhaseSucceeded {
		return s, nil
	}
	if _, ok := failureStatuses[s]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown phase status %q", raw)
}

// DeploymentStatus maps a failed phase outcome onto its terminal deployment status.
// It reports false for SUCCEEDED.
func (s PhaseStatus) DeploymentStatus() (Status, bool) {
	status, ok := failureStatuses[s]
	return status, ok
}
