package tracker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer runs an in-process NATS server on a random port.
func startTestNATSServer(t *testing.T) string {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second), "nats server did not start")
	t.Cleanup(srv.Shutdown)

	return srv.ClientURL()
}

func connect(t *testing.T, url string) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSPublishesMilestones(t *testing.T) {
	url := startTestNATSServer(t)
	nc := connect(t, url)
	sub, err := nc.SubscribeSync(SubjectPrefix + ".>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	tr, err := NewNATS(connect(t, url), nil)
	require.NoError(t, err)

	ctx := context.Background()
	tr.FileApplicationTriggered(ctx, "wf-1")
	tr.DeploymentTriggered(ctx, "wf-1")
	tr.WorkflowComplete(ctx, "wf-1", false, ReasonSaveFailed)

	subjects := make([]string, 0, 3)
	var completed Event
	for i := 0; i < 3; i++ {
		msg, err := sub.NextMsg(2 * time.Second)
		require.NoError(t, err)
		subjects = append(subjects, msg.Subject)
		if msg.Subject == "workflows.wf-1.completed" {
			require.NoError(t, json.Unmarshal(msg.Data, &completed))
		}
	}

	assert.Equal(t, []string{
		"workflows.wf-1.file_application.triggered",
		"workflows.wf-1.deployment.triggered",
		"workflows.wf-1.completed",
	}, subjects, "triggered precedes completed")

	assert.Equal(t, "wf-1", completed.WorkflowID)
	require.NotNil(t, completed.Success)
	assert.False(t, *completed.Success)
	assert.Equal(t, ReasonSaveFailed, completed.Reason)
	assert.False(t, completed.Timestamp.IsZero())
}

func TestNATSCompletionIsDeduplicated(t *testing.T) {
	url := startTestNATSServer(t)
	nc := connect(t, url)
	sub, err := nc.SubscribeSync("workflows.wf-dup.completed")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	tr, err := NewNATS(connect(t, url), nil)
	require.NoError(t, err)

	ctx := context.Background()
	tr.WorkflowComplete(ctx, "wf-dup", false, ReasonStabilityFailed)
	tr.WorkflowComplete(ctx, "wf-dup", true, ReasonNone)

	first, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var event Event
	require.NoError(t, json.Unmarshal(first.Data, &event))
	assert.Equal(t, ReasonStabilityFailed, event.Reason, "first completion wins")

	_, err = sub.NextMsg(300 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout, "second completion must be suppressed")
}

func TestNATSSanitizesSubjectToken(t *testing.T) {
	url := startTestNATSServer(t)
	nc := connect(t, url)
	sub, err := nc.SubscribeSync(SubjectPrefix + ".>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	tr, err := NewNATS(connect(t, url), nil)
	require.NoError(t, err)

	tr.DeploymentTriggered(context.Background(), "run 7.final")

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "workflows.run_7_final.deployment.triggered", msg.Subject)

	var event Event
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "run 7.final", event.WorkflowID, "payload keeps the raw id")
}

func TestNATSIgnoresEmptyWorkflowID(t *testing.T) {
	url := startTestNATSServer(t)
	nc := connect(t, url)
	sub, err := nc.SubscribeSync(SubjectPrefix + ".>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	tr, err := NewNATS(connect(t, url), nil)
	require.NoError(t, err)

	tr.FileApplicationTriggered(context.Background(), "")

	_, err = sub.NextMsg(300 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)
}

func TestNewNATSRequiresConnection(t *testing.T) {
	_, err := NewNATS(nil, nil)
	require.Error(t, err)
}

func TestNopTrackerIsInert(t *testing.T) {
	tr := Nop()
	ctx := context.Background()
	tr.FileApplicationTriggered(ctx, "wf")
	tr.DeploymentTriggered(ctx, "wf")
	tr.WorkflowComplete(ctx, "wf", true, ReasonNone)
}
