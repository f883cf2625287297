package apply

import (
	"sync"
	"time"
)

// cleanupScheduler tracks the delayed state resets a finished apply leaves
// behind, so the next apply on the same project can cancel them before
// they wipe its fresh state.
type cleanupScheduler struct {
	mu     sync.Mutex
	timers map[string][]*time.Timer
}

func newCleanupScheduler() *cleanupScheduler {
	return &cleanupScheduler{timers: make(map[string][]*time.Timer)}
}

// schedule runs fn after d unless the project's tasks are cancelled first.
// A task that is already firing when cancel arrives may still run, so fn
// must tolerate running against newer state.
func (s *cleanupScheduler) schedule(projectID string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.forget(projectID, timer)
		fn()
	})
	s.timers[projectID] = append(s.timers[projectID], timer)
}

// cancel stops every scheduled task for the project and reports how many
// were stopped before firing.
func (s *cleanupScheduler) cancel(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	stopped := 0
	for _, t := range s.timers[projectID] {
		if t.Stop() {
			stopped++
		}
	}
	delete(s.timers, projectID)
	return stopped
}

// stopAll cancels everything. Used on daemon shutdown.
func (s *cleanupScheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timers := range s.timers {
		for _, t := range timers {
			t.Stop()
		}
		delete(s.timers, id)
	}
}

func (s *cleanupScheduler) forget(projectID string, timer *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timers := s.timers[projectID]
	for i, t := range timers {
		if t == timer {
			s.timers[projectID] = append(timers[:i], timers[i+1:]...)
			break
		}
	}
	if len(s.timers[projectID]) == 0 {
		delete(s.timers, projectID)
	}
}
