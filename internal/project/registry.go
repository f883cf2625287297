// Package project tracks registered projects and the file state applied
// into them.
package project

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrProjectExists is returned when an ID or path is already taken.
	ErrProjectExists = errors.New("project already registered")
	// ErrProjectNotFound is returned for lookups of unknown projects.
	ErrProjectNotFound = errors.New("project not found")
)

// Project is a workspace that generated batches are applied into.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry is the in-memory project catalog. Lookups run by ID or by
// workspace path. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*Project
	byPath   map[string]*Project
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		projects: make(map[string]*Project),
		byPath:   make(map[string]*Project),
	}
}

// Register adds a project. A missing ID is assigned; a duplicate ID or
// path is rejected.
func (r *Registry) Register(p *Project) (*Project, error) {
	if p == nil || p.Name == "" {
		return nil, fmt.Errorf("project name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := r.projects[p.ID]; ok {
		return nil, fmt.Errorf("id %q: %w", p.ID, ErrProjectExists)
	}
	if p.Path != "" {
		if _, ok := r.byPath[p.Path]; ok {
			return nil, fmt.Errorf("path %q: %w", p.Path, ErrProjectExists)
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	r.projects[p.ID] = p
	if p.Path != "" {
		r.byPath[p.Path] = p
	}
	return p, nil
}

// Get returns the project with the given ID.
func (r *Registry) Get(id string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	return p, ok
}

// GetByPath returns the project registered at the given workspace path.
func (r *Registry) GetByPath(path string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byPath[path]
	return p, ok
}

// List returns all projects ordered by creation time, then ID.
func (r *Registry) List() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove deletes a project from the registry, reporting whether it was
// present. Applied file state is the repository's concern, not cleared
// here.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return false
	}
	delete(r.projects, id)
	if p.Path != "" {
		delete(r.byPath, p.Path)
	}
	return true
}
