package apply

import (
	"sync"
	"time"
)

const readyMessage = "Ready"

// ApplicationState is the externally visible state of one project's apply
// pipeline. Callers always receive copies; the coordinator is the only
// writer.
type ApplicationState struct {
	ProjectID    string    `json:"project_id"`
	IsApplying   bool      `json:"is_applying"`
	Phase        Phase     `json:"phase"`
	Progress     Progress  `json:"progress"`
	PendingPaths []string  `json:"pending_paths,omitempty"`
	TotalFiles   int       `json:"total_files"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// stateTable holds per-project application state plus the per-project
// locks that serialize applies. Both maps grow on demand and are never
// pruned; the entry count is bounded by the number of registered projects.
type stateTable struct {
	mu     sync.Mutex
	states map[string]*ApplicationState
	locks  map[string]*sync.Mutex
}

func newStateTable() *stateTable {
	return &stateTable{
		states: make(map[string]*ApplicationState),
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the project's apply lock, creating it on first use. The
// same *sync.Mutex is returned for the lifetime of the table so TryLock
// on it is meaningful across calls.
func (t *stateTable) lockFor(projectID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[projectID] = l
	}
	return l
}

// get returns a copy of the project's state. Unknown projects read as
// idle and ready.
func (t *stateTable) get(projectID string) ApplicationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[projectID]
	if !ok {
		return ApplicationState{
			ProjectID: projectID,
			Phase:     PhaseIdle,
			Progress:  Progress{Message: readyMessage},
		}
	}
	out := *s
	out.PendingPaths = append([]string(nil), s.PendingPaths...)
	return out
}

// update mutates the project's state under the table lock and returns a
// copy of the result. The entry is created idle if absent.
func (t *stateTable) update(projectID string, fn func(*ApplicationState)) ApplicationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[projectID]
	if !ok {
		s = &ApplicationState{
			ProjectID: projectID,
			Phase:     PhaseIdle,
			Progress:  Progress{Message: readyMessage},
		}
		t.states[projectID] = s
	}
	fn(s)
	s.UpdatedAt = time.Now()
	out := *s
	out.PendingPaths = append([]string(nil), s.PendingPaths...)
	return out
}
