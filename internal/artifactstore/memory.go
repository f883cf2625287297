package artifactstore

import (
	"context"
	"fmt"
	"sync"
)

// Memory is the in-process store used in tests and when no backend is
// configured. It records everything saved and can inject outages and
// per-file failures.
type Memory struct {
	mu        sync.Mutex
	saved     map[string]map[string]string
	calls     int
	failFirst int
	failPaths map[string]bool
	readyErr  error
}

// NewMemory returns an empty always-ready memory store.
func NewMemory() *Memory {
	return &Memory{
		saved:     make(map[string]map[string]string),
		failPaths: make(map[string]bool),
	}
}

// SetReadyError makes Ready report err until cleared with nil.
func (m *Memory) SetReadyError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyErr = err
}

// FailFirst makes the next n SaveBatch calls fail with a transport error.
func (m *Memory) FailFirst(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
}

// FailPaths marks paths that the backend rejects per file.
func (m *Memory) FailPaths(paths ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		m.failPaths[p] = true
	}
}

// Calls returns how many SaveBatch calls were made.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Saved returns a copy of what was stored for the project.
func (m *Memory) Saved(projectID string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.saved[projectID]))
	for path, content := range m.saved[projectID] {
		out[path] = content
	}
	return out
}

// Ready implements Client.
func (m *Memory) Ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyErr
}

// SaveBatch implements Client.
func (m *Memory) SaveBatch(ctx context.Context, req *SaveRequest) (*SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil || req.ProjectID == "" {
		return nil, fmt.Errorf("save request needs a project id")
	}

	m.mu.Lock()
	m.calls++
	if m.failFirst > 0 {
		m.failFirst--
		m.mu.Unlock()
		return nil, fmt.Errorf("simulated store outage")
	}
	m.mu.Unlock()

	report := func(p int, msg string) {
		if req.OnProgress != nil {
			req.OnProgress(p, msg)
		}
	}
	report(0, "Uploading files")

	result := &SaveResult{}
	m.mu.Lock()
	files, ok := m.saved[req.ProjectID]
	if !ok {
		files = make(map[string]string, len(req.Files))
		m.saved[req.ProjectID] = files
	}
	for _, f := range req.Files {
		if m.failPaths[f.Path] {
			result.Failed = append(result.Failed, FileError{Path: f.Path, Reason: "rejected"})
			continue
		}
		files[f.Path] = f.Text()
		result.Saved = append(result.Saved, f.Path)
	}
	m.mu.Unlock()

	report(50, "Storing files")
	report(100, "Files stored")

	result.Success = len(result.Failed) == 0
	return result, nil
}
