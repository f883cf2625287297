package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/applyd/internal/sanitize"
)

// Milestone names used in event subjects.
const (
	MilestoneFileApplication = "file_application.triggered"
	MilestoneDeployment      = "deployment.triggered"
	MilestoneCompleted       = "completed"
)

// SubjectPrefix is the root of every workflow event subject. Subscribers
// interested in everything use "workflows.>".
const SubjectPrefix = "workflows"

// Event is the wire form of a workflow milestone.
type Event struct {
	WorkflowID string        `json:"workflow_id"`
	Milestone  string        `json:"milestone"`
	Success    *bool         `json:"success,omitempty"`
	Reason     FailureReason `json:"reason,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// NATS publishes workflow milestones as events on subjects
// workflows.{workflowID}.{milestone}, with the ID sanitized into a
// subject-safe token. Publishing is fire-and-forget: failures are
// logged, never returned. Completion is deduplicated per workflow ID so
// a workflow is never completed twice.
type NATS struct {
	nc        *nats.Conn
	logger    *zap.Logger
	completed sync.Map // workflowID -> struct{}
}

// NewNATS wires a tracker to an existing NATS connection.
func NewNATS(nc *nats.Conn, logger *zap.Logger) (*NATS, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATS{nc: nc, logger: logger}, nil
}

// FileApplicationTriggered implements Tracker.
func (t *NATS) FileApplicationTriggered(_ context.Context, workflowID string) {
	t.publish(workflowID, MilestoneFileApplication, nil, ReasonNone)
}

// DeploymentTriggered implements Tracker.
func (t *NATS) DeploymentTriggered(_ context.Context, workflowID string) {
	t.publish(workflowID, MilestoneDeployment, nil, ReasonNone)
}

// WorkflowComplete implements Tracker. The first completion for a
// workflow ID wins; later ones are suppressed.
func (t *NATS) WorkflowComplete(_ context.Context, workflowID string, success bool, reason FailureReason) {
	if _, dup := t.completed.LoadOrStore(workflowID, struct{}{}); dup {
		t.logger.Debug("suppressing duplicate workflow completion",
			zap.String("workflow_id", workflowID))
		return
	}
	t.publish(workflowID, MilestoneCompleted, &success, reason)
}

func (t *NATS) publish(workflowID, milestone string, success *bool, reason FailureReason) {
	if workflowID == "" {
		return
	}
	event := Event{
		WorkflowID: workflowID,
		Milestone:  milestone,
		Success:    success,
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		t.logger.Warn("marshaling workflow event failed",
			zap.String("workflow_id", workflowID),
			zap.String("milestone", milestone),
			zap.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s.%s", SubjectPrefix, sanitize.Token(workflowID), milestone)
	if err := t.nc.Publish(subject, data); err != nil {
		t.logger.Warn("publishing workflow event failed",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
