package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/applyd/internal/apply"
	"github.com/fyrsmithlabs/applyd/internal/artifactstore"
	"github.com/fyrsmithlabs/applyd/internal/conversation"
	"github.com/fyrsmithlabs/applyd/internal/deploy"
	"github.com/fyrsmithlabs/applyd/internal/project"
	"github.com/fyrsmithlabs/applyd/internal/retry"
	"github.com/fyrsmithlabs/applyd/internal/tracker"
)

type testRig struct {
	server   *Server
	store    *artifactstore.Memory
	projects *project.Registry
	files    *project.FileRepository
	coord    *apply.Coordinator
	history  *conversation.Store
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	store := artifactstore.NewMemory()
	projects := project.NewRegistry()
	files := project.NewFileRepository()

	history, err := conversation.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	cfg := &apply.Config{
		StabilityWindow:   20 * time.Millisecond,
		StateRetry:        retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, JitterMax: time.Millisecond},
		SaveRetry:         retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, JitterMax: time.Millisecond},
		ResetDelay:        time.Minute,
		PendingClearDelay: time.Minute,
	}
	coord, err := apply.New(cfg, store, projects, files, deploy.NewRegistry(), tracker.Nop(), nil, history, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	server, err := NewServer(coord, projects, files, history, store, zap.NewNop(), nil)
	require.NoError(t, err)

	return &testRig{
		server:   server,
		store:    store,
		projects: projects,
		files:    files,
		coord:    coord,
		history:  history,
	}
}

func (r *testRig) registerProject(t *testing.T, name string) *project.Project {
	t.Helper()
	proj, err := r.projects.Register(&project.Project{Name: name, Path: "/work/" + name})
	require.NoError(t, err)
	return proj
}

func (r *testRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	r.server.echo.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewServer(t *testing.T) {
	store := artifactstore.NewMemory()
	projects := project.NewRegistry()
	files := project.NewFileRepository()
	coord, err := apply.New(nil, store, projects, files, nil, nil, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(coord, projects, files, nil, store, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 7430, server.config.Port)
		assert.Equal(t, "applyd", server.config.ServiceName)
	})

	t.Run("returns error when coordinator is nil", func(t *testing.T) {
		_, err := NewServer(nil, projects, files, nil, store, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "coordinator cannot be nil")
	})

	t.Run("returns error when registry is nil", func(t *testing.T) {
		_, err := NewServer(coord, nil, files, nil, store, zap.NewNop(), nil)
		assert.Error(t, err)
	})

	t.Run("returns error when file repository is nil", func(t *testing.T) {
		_, err := NewServer(coord, projects, nil, nil, store, zap.NewNop(), nil)
		assert.Error(t, err)
	})

	t.Run("returns error when store is nil", func(t *testing.T) {
		_, err := NewServer(coord, projects, files, nil, nil, zap.NewNop(), nil)
		assert.Error(t, err)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(coord, projects, files, nil, store, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("history is optional", func(t *testing.T) {
		server, err := NewServer(coord, projects, files, nil, store, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.NotNil(t, server)
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("reports ready store", func(t *testing.T) {
		rig := newTestRig(t)

		rec := rig.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[HealthResponse](t, rec)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "applyd", resp.Service)
		assert.Equal(t, "ready", resp.Store)
	})

	t.Run("reports unavailable store", func(t *testing.T) {
		rig := newTestRig(t)
		rig.store.SetReadyError(errors.New("store down"))

		rec := rig.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[HealthResponse](t, rec)
		assert.Equal(t, "unavailable", resp.Store)
	})
}

func TestProjectEndpoints(t *testing.T) {
	t.Run("creates a project", func(t *testing.T) {
		rig := newTestRig(t)

		rec := rig.do(t, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "Site", Path: "/work/site"})
		require.Equal(t, http.StatusCreated, rec.Code)

		proj := decodeBody[project.Project](t, rec)
		assert.NotEmpty(t, proj.ID)
		assert.Equal(t, "Site", proj.Name)
		assert.Equal(t, "/work/site", proj.Path)
	})

	t.Run("rejects duplicate path", func(t *testing.T) {
		rig := newTestRig(t)
		rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "Other", Path: "/work/site"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("rejects missing name", func(t *testing.T) {
		rig := newTestRig(t)

		rec := rig.do(t, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Path: "/work/site"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("lists projects", func(t *testing.T) {
		rig := newTestRig(t)
		rig.registerProject(t, "one")
		rig.registerProject(t, "two")

		rec := rig.do(t, http.MethodGet, "/api/v1/projects", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		list := decodeBody[[]project.Project](t, rec)
		assert.Len(t, list, 2)
	})

	t.Run("gets a project", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodGet, "/api/v1/projects/"+proj.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decodeBody[project.Project](t, rec)
		assert.Equal(t, proj.ID, got.ID)

		rec = rig.do(t, http.MethodGet, "/api/v1/projects/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("deletes a project", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodDelete, "/api/v1/projects/"+proj.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = rig.do(t, http.MethodDelete, "/api/v1/projects/"+proj.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleApply(t *testing.T) {
	t.Run("applies a manual batch", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply", ApplyRequest{
			Files: json.RawMessage(`{"index.html":"<h1>hi</h1>","style.css":"body{}"}`),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decodeBody[ApplyResponse](t, rec)
		assert.Equal(t, 2, resp.Applied)
		assert.Equal(t, "manual", resp.Mode)
		assert.Equal(t, "Successfully applied 2 files", resp.Message)

		assert.Equal(t, 1, rig.store.Calls())

		rec = rig.do(t, http.MethodGet, "/api/v1/projects/"+proj.ID+"/files", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		filesResp := decodeBody[ProjectFilesResponse](t, rec)
		assert.Equal(t, 2, filesResp.Count)
		assert.Equal(t, "<h1>hi</h1>", filesResp.Files["index.html"])
	})

	t.Run("applies an automated batch and queues a deployment", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply", ApplyRequest{
			Files:      json.RawMessage(`{"main.go":"package main"}`),
			Mode:       "auto",
			WorkflowID: "wf-99",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decodeBody[ApplyResponse](t, rec)
		assert.Equal(t, "auto", resp.Mode)
		assert.Equal(t, "Auto-fix: Applied 1 files", resp.Message)

		rec = rig.do(t, http.MethodGet, "/api/v1/deployments", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		pending := decodeBody[[]deploy.Handoff](t, rec)
		require.Len(t, pending, 1)
		assert.Equal(t, "wf-99", pending[0].CorrelationID)
		assert.Equal(t, proj.ID, pending[0].ProjectID)
	})

	t.Run("reports the application state", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply", ApplyRequest{
			Files: json.RawMessage(`{"a.txt":"a"}`),
		})

		rec := rig.do(t, http.MethodGet, "/api/v1/projects/"+proj.ID+"/state", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		state := decodeBody[apply.ApplicationState](t, rec)
		assert.False(t, state.IsApplying)
		assert.Equal(t, 100, state.Progress.Percent)
		assert.Equal(t, "Successfully applied 1 files", state.Progress.Message)
	})

	t.Run("returns 404 for an unknown project", func(t *testing.T) {
		rig := newTestRig(t)

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/ghost/apply", ApplyRequest{
			Files: json.RawMessage(`{"a.txt":"a"}`),
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns 422 for an empty batch", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply", ApplyRequest{
			Files: json.RawMessage(`{}`),
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("returns 400 for malformed files", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply", ApplyRequest{
			Files: json.RawMessage(`["not","an","object"]`),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 422 with reason for a validation failure", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply", ApplyRequest{
			Files: json.RawMessage(`{"a.txt":null}`),
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		resp := decodeBody[ErrorResponse](t, rec)
		assert.Equal(t, string(tracker.ReasonValidationFailed), resp.Reason)
	})

	t.Run("returns 400 for an unknown mode", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply", ApplyRequest{
			Files: json.RawMessage(`{"a.txt":"a"}`),
			Mode:  "yolo",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 400 for an automated apply without a workflow id", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply", ApplyRequest{
			Files: json.RawMessage(`{"a.txt":"a"}`),
			Mode:  "auto",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 502 when the store is unavailable", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")
		rig.store.SetReadyError(errors.New("store down"))

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply", ApplyRequest{
			Files: json.RawMessage(`{"a.txt":"a"}`),
		})
		assert.Equal(t, http.StatusBadGateway, rec.Code)

		resp := decodeBody[ErrorResponse](t, rec)
		assert.Equal(t, string(tracker.ReasonBackendUnavailable), resp.Reason)
	})

	t.Run("returns 400 for an invalid body", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply", bytes.NewReader([]byte("not json")))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		rig.server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleApplySilent(t *testing.T) {
	t.Run("updates files without persistence", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply-silent", ApplyRequest{
			Files: json.RawMessage(`{"notes.md":"draft"}`),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decodeBody[SilentApplyResponse](t, rec)
		assert.Equal(t, 1, resp.Applied)
		assert.Equal(t, 0, rig.store.Calls())
		assert.Equal(t, 1, rig.files.Count(proj.ID))

		rec = rig.do(t, http.MethodGet, "/api/v1/projects/"+proj.ID+"/state", nil)
		state := decodeBody[apply.ApplicationState](t, rec)
		assert.Equal(t, 0, state.Progress.Percent)
	})

	t.Run("rejects an invalid batch", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply-silent", ApplyRequest{
			Files: json.RawMessage(`{"a.txt":null}`),
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestMessageEndpoints(t *testing.T) {
	t.Run("appends and lists messages", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/messages", AppendMessageRequest{
			Role:    conversation.RoleUser,
			Content: "generate the landing page",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		msg := decodeBody[conversation.Message](t, rec)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, proj.ID, msg.ProjectID)

		rec = rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/messages", AppendMessageRequest{
			Role:          conversation.RoleAssistant,
			Content:       "done, files attached",
			DeclaredPaths: []string{"index.html"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = rig.do(t, http.MethodGet, "/api/v1/projects/"+proj.ID+"/messages", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[MessagesResponse](t, rec)
		require.Len(t, resp.Messages, 2)
		assert.Equal(t, conversation.RoleAssistant, resp.Messages[0].Role)

		rec = rig.do(t, http.MethodGet, "/api/v1/projects/"+proj.ID+"/messages?limit=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp = decodeBody[MessagesResponse](t, rec)
		assert.Len(t, resp.Messages, 1)
	})

	t.Run("rejects an unknown role", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/messages", AppendMessageRequest{
			Role:    "robot",
			Content: "beep",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects empty content", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/messages", AppendMessageRequest{
			Role: conversation.RoleUser,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects a bad limit", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		rec := rig.do(t, http.MethodGet, "/api/v1/projects/"+proj.ID+"/messages?limit=zero", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 404 for an unknown project", func(t *testing.T) {
		rig := newTestRig(t)

		rec := rig.do(t, http.MethodGet, "/api/v1/projects/ghost/messages", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns 503 without a history store", func(t *testing.T) {
		rig := newTestRig(t)
		proj := rig.registerProject(t, "site")

		server, err := NewServer(rig.coord, rig.projects, rig.files, nil, rig.store, zap.NewNop(), nil)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/"+proj.ID+"/messages", nil)
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestDeploymentEndpoints(t *testing.T) {
	rig := newTestRig(t)
	proj := rig.registerProject(t, "site")

	rec := rig.do(t, http.MethodPost, "/api/v1/projects/"+proj.ID+"/apply", ApplyRequest{
		Files:      json.RawMessage(`{"main.go":"package main"}`),
		Mode:       "auto",
		WorkflowID: "wf-7",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = rig.do(t, http.MethodGet, "/api/v1/deployments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[[]deploy.Handoff](t, rec)
	require.Len(t, pending, 1)

	rec = rig.do(t, http.MethodPost, "/api/v1/deployments/"+proj.ID+"/claim", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	claimed := decodeBody[deploy.Handoff](t, rec)
	assert.Equal(t, "wf-7", claimed.CorrelationID)
	assert.Equal(t, []string{"main.go"}, claimed.Paths)

	rec = rig.do(t, http.MethodPost, "/api/v1/deployments/"+proj.ID+"/claim", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		rig := newTestRig(t)

		rec := rig.do(t, http.MethodGet, "/health", nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		rig := newTestRig(t)
		rig.server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			rig.server.echo.ServeHTTP(rec, req)
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestServerLifecycle(t *testing.T) {
	rig := newTestRig(t)
	rig.server.config.Port = 0

	errChan := make(chan error, 1)
	go func() {
		errChan <- rig.server.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rig.server.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.True(t, err == nil || err == http.ErrServerClosed)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
