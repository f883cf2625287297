package project

import (
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/applyd/internal/artifact"
)

// GlobalKey is the flat-view key for a project file.
func GlobalKey(projectID, path string) string {
	return projectID + "/" + path
}

// FileRepository holds the applied file content keyed by project, plus a
// flat global view keyed projectID/path. The apply pipeline is the single
// logical writer; reads may come from anywhere.
type FileRepository struct {
	mu        sync.RWMutex
	byProject map[string]map[string]string
	global    map[string]string
}

// NewFileRepository returns an empty repository.
func NewFileRepository() *FileRepository {
	return &FileRepository{
		byProject: make(map[string]map[string]string),
		global:    make(map[string]string),
	}
}

// ApplyBatch merges the batch into the project's file set and the global
// view, returning the number of files written. A file with absent content
// rejects the whole batch before anything is written; validation runs
// earlier in the pipeline, so hitting this means a caller skipped it.
func (r *FileRepository) ApplyBatch(projectID string, b *artifact.Batch) (int, error) {
	if projectID == "" {
		return 0, fmt.Errorf("project id is required")
	}
	files := b.Files()
	for _, f := range files {
		if f.Content == nil {
			return 0, fmt.Errorf("file %q has no content", f.Path)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	projectFiles, ok := r.byProject[projectID]
	if !ok {
		projectFiles = make(map[string]string, len(files))
		r.byProject[projectID] = projectFiles
	}
	for _, f := range files {
		projectFiles[f.Path] = *f.Content
		r.global[GlobalKey(projectID, f.Path)] = *f.Content
	}
	return len(files), nil
}

// Files returns a copy of the project's file map.
func (r *FileRepository) Files(projectID string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.byProject[projectID]
	out := make(map[string]string, len(src))
	for path, content := range src {
		out[path] = content
	}
	return out
}

// Lookup returns one file's content.
func (r *FileRepository) Lookup(projectID, path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	content, ok := r.byProject[projectID][path]
	return content, ok
}

// Count returns the number of files applied for the project.
func (r *FileRepository) Count(projectID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byProject[projectID])
}

// GlobalSnapshot returns a copy of the flat projectID/path view.
func (r *FileRepository) GlobalSnapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.global))
	for key, content := range r.global {
		out[key] = content
	}
	return out
}

// Clear drops the project's files from both views.
func (r *FileRepository) Clear(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path := range r.byProject[projectID] {
		delete(r.global, GlobalKey(projectID, path))
	}
	delete(r.byProject, projectID)
}
