// Package deploy is the handoff surface between the apply pipeline and
// the deployment subsystem. The pipeline submits; deployment claims
// asynchronously. Nothing here executes a deployment.
package deploy

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Handoff describes one applied batch ready for deployment. The
// correlation ID is the workflow ID of the automated run that produced it.
type Handoff struct {
	CorrelationID string    `json:"correlation_id"`
	ProjectID     string    `json:"project_id"`
	ProjectName   string    `json:"project_name"`
	Paths         []string  `json:"paths"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Descriptor caches a project's deployment target parameters. A manual
// apply invalidates it so the next deployment re-derives fresh ones.
type Descriptor struct {
	URL      string            `json:"url"`
	Params   map[string]string `json:"params,omitempty"`
	CachedAt time.Time         `json:"cached_at"`
}

// Registry is the shared state between the pipeline and the deployment
// subsystem. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	pending map[string]Handoff
	cache   map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]Handoff),
		cache:   make(map[string]Descriptor),
	}
}

// Submit queues a handoff, replacing any pending one for the same
// project: only the newest applied state is worth deploying.
func (r *Registry) Submit(h Handoff) error {
	if h.CorrelationID == "" {
		return fmt.Errorf("handoff needs a correlation id")
	}
	if h.ProjectID == "" {
		return fmt.Errorf("handoff needs a project id")
	}
	if h.SubmittedAt.IsZero() {
		h.SubmittedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[h.ProjectID] = h
	return nil
}

// Claim removes and returns the pending handoff for a project.
func (r *Registry) Claim(projectID string) (Handoff, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.pending[projectID]
	if ok {
		delete(r.pending, projectID)
	}
	return h, ok
}

// Pending lists queued handoffs ordered by submission time.
func (r *Registry) Pending() []Handoff {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handoff, 0, len(r.pending))
	for _, h := range r.pending {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ProjectID < out[j].ProjectID
	})
	return out
}

// CacheDescriptor stores the deployment parameters for a project.
func (r *Registry) CacheDescriptor(projectID string, d Descriptor) {
	if d.CachedAt.IsZero() {
		d.CachedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[projectID] = d
}

// CachedDescriptor returns the cached parameters, if any.
func (r *Registry) CachedDescriptor(projectID string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.cache[projectID]
	return d, ok
}

// InvalidateDescriptor drops the cached parameters for a project.
func (r *Registry) InvalidateDescriptor(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, projectID)
}
