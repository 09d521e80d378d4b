package job

import "sync"

// Registry enforces at most one in-flight job per user. The check-and-set
// is atomic; everything else a job touches is exclusively owned per-job,
// so this mutex is the only shared-state guard in the pipeline.
type Registry struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

// NewRegistry returns an empty admission registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[int64]struct{})}
}

// TryAdmit reserves the user's job slot. It returns false without side
// effects when a job is already in flight for that user.
func (r *Registry) TryAdmit(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[userID]; busy {
		return false
	}
	r.active[userID] = struct{}{}
	return true
}

// Release frees the user's slot. Releasing an unheld slot is a no-op so
// failure paths can call it unconditionally.
func (r *Registry) Release(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, userID)
}

// Active reports how many users currently have a job in flight.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
