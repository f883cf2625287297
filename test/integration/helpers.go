package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/applyd/internal/apply"
	"github.com/fyrsmithlabs/applyd/internal/artifactstore"
	"github.com/fyrsmithlabs/applyd/internal/conversation"
	"github.com/fyrsmithlabs/applyd/internal/deploy"
	applyhttp "github.com/fyrsmithlabs/applyd/internal/http"
	"github.com/fyrsmithlabs/applyd/internal/project"
	"github.com/fyrsmithlabs/applyd/internal/tracker"
)

// createTestHistory creates a conversation store backed by a temp file.
func createTestHistory(t *testing.T) *conversation.Store {
	store, err := conversation.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err, "Should open history store")
	t.Cleanup(func() { store.Close() })
	return store
}

// pipelineEnv is a fully wired service stack listening on a loopback port.
type pipelineEnv struct {
	baseURL string
	store   *artifactstore.Memory
	deploys *deploy.Registry
	history *conversation.Store
	coord   *apply.Coordinator
}

// createTestPipeline boots the whole stack the daemon wires: in-memory
// artifact store, sqlite history, coordinator with fast timings, and the
// HTTP server on a random port. Everything shuts down via t.Cleanup.
func createTestPipeline(t *testing.T) *pipelineEnv {
	logger := zap.NewNop()

	store := artifactstore.NewMemory()
	projects := project.NewRegistry()
	files := project.NewFileRepository()
	deploys := deploy.NewRegistry()
	history := createTestHistory(t)
	matcher := conversation.NewMatcher(history, logger)

	cfg := apply.DefaultConfig()
	cfg.StabilityWindow = 20 * time.Millisecond
	cfg.SaveRetry.BaseDelay = time.Millisecond
	cfg.SaveRetry.MaxDelay = 5 * time.Millisecond
	cfg.SaveRetry.JitterMax = time.Millisecond
	cfg.StateRetry.BaseDelay = time.Millisecond
	cfg.StateRetry.MaxDelay = 5 * time.Millisecond
	cfg.StateRetry.JitterMax = time.Millisecond
	cfg.ResetDelay = time.Minute
	cfg.PendingClearDelay = time.Minute

	coord, err := apply.New(cfg, store, projects, files, deploys, tracker.Nop(), matcher, history, logger)
	require.NoError(t, err, "Should create coordinator")
	t.Cleanup(func() { coord.Close() })

	srv, err := applyhttp.NewServer(coord, projects, files, history, store, logger, &applyhttp.Config{
		Host: "127.0.0.1",
		Port: 0,
	})
	require.NoError(t, err, "Should create http server")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		if serr := <-errCh; serr != nil && serr != http.ErrServerClosed {
			t.Errorf("server exited: %v", serr)
		}
	})

	// Start binds asynchronously; wait for the listener.
	var addr string
	for i := 0; i < 100; i++ {
		if la := srv.Echo().ListenerAddr(); la != nil {
			addr = la.String()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, addr, "Server should bind a listener")

	return &pipelineEnv{
		baseURL: "http://" + addr,
		store:   store,
		deploys: deploys,
		history: history,
		coord:   coord,
	}
}

// postJSON posts body to path and decodes the response into out when the
// status matches. Mismatched statuses fail the test with the raw body.
func (env *pipelineEnv) postJSON(t *testing.T, path string, body, out any, wantStatus int) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(env.baseURL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err, "POST %s should reach the server", path)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "POST %s returned %s", path, raw)

	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out), "POST %s body should decode", path)
	}
}

// getJSON fetches path and decodes the response into out when the status
// matches.
func (env *pipelineEnv) getJSON(t *testing.T, path string, out any, wantStatus int) {
	t.Helper()
	resp, err := http.Get(env.baseURL + path)
	require.NoError(t, err, "GET %s should reach the server", path)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "GET %s returned %s", path, raw)

	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out), "GET %s body should decode", path)
	}
}

// registerProject registers a project over the API and returns it.
func (env *pipelineEnv) registerProject(t *testing.T, name, path string) *project.Project {
	t.Helper()
	var proj project.Project
	env.postJSON(t, "/api/v1/projects", applyhttp.CreateProjectRequest{Name: name, Path: path}, &proj, http.StatusCreated)
	require.NotEmpty(t, proj.ID, "Registered project should get an ID")
	return &proj
}

// applyBody builds the raw apply request payload from concrete contents.
func applyBody(files map[string]string, mode, workflowID string) map[string]any {
	body := map[string]any{"files": files}
	if mode != "" {
		body["mode"] = mode
	}
	if workflowID != "" {
		body["workflow_id"] = workflowID
	}
	return body
}

// projectPath joins the versioned project route for id and trailing parts.
func projectPath(id string, parts ...string) string {
	p := "/api/v1/projects/" + id
	for _, part := range parts {
		p += "/" + part
	}
	return p
}
