// Package tracker emits workflow milestone events for automated apply
// runs. Milestones are domain events on the bus; nothing in the pipeline
// blocks on their delivery.
package tracker

import "context"

// FailureReason classifies a terminal workflow failure.
type FailureReason string

const (
	ReasonNone               FailureReason = ""
	ReasonValidationFailed   FailureReason = "FileValidationFailed"
	ReasonStabilityFailed    FailureReason = "ContentStabilityFailed"
	ReasonBackendUnavailable FailureReason = "BackendUnavailable"
	ReasonSaveFailed         FailureReason = "BackendSaveFailed"
	ReasonDeploySetupFailed  FailureReason = "DeploymentSetupFailed"
	ReasonGeneral            FailureReason = "GeneralFailure"
)

// Tracker receives workflow milestones. Implementations are fire-and-
// forget: they never block the caller and never surface delivery errors
// to it. A workflow is completed at most once; implementations suppress
// duplicates.
type Tracker interface {
	// FileApplicationTriggered marks the start of the file-application leg.
	FileApplicationTriggered(ctx context.Context, workflowID string)

	// DeploymentTriggered marks the handoff to the deployment subsystem.
	DeploymentTriggered(ctx context.Context, workflowID string)

	// WorkflowComplete marks the terminal outcome. For success=false the
	// reason carries the failure classification.
	WorkflowComplete(ctx context.Context, workflowID string, success bool, reason FailureReason)
}

// Nop returns a tracker that discards every milestone. Used when no event
// bus is configured.
func Nop() Tracker {
	return nopTracker{}
}

type nopTracker struct{}

func (nopTracker) FileApplicationTriggered(context.Context, string) {}

func (nopTracker) DeploymentTriggered(context.Context, string) {}

func (nopTracker) WorkflowComplete(context.Context, string, bool, FailureReason) {}
