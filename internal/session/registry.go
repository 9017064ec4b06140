package session

import (
	"sync"
	"time"
)

// idleTTL is the idle-garbage-collection window of spec.md §3.
const idleTTL = 30 * time.Minute

// Registry owns all active CallSessions, keyed by provider-assigned id.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]*CallSession
	historyMax int
	now        func() time.Time
	stopSweep  chan struct{}
	sweepOnce  sync.Once
}

// NewRegistry creates a Registry and starts its idle sweeper.
func NewRegistry(historyMax int) *Registry {
	r := &Registry{
		sessions:   make(map[string]*CallSession),
		historyMax: historyMax,
		now:        time.Now,
		stopSweep:  make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Close stops the idle sweeper. Safe to call once.
func (r *Registry) Close() {
	r.sweepOnce.Do(func() { close(r.stopSweep) })
}

// GetOrCreate returns the session for id, creating it in the Greeting
// state if it does not yet exist, per spec.md §3 lifecycle.
func (r *Registry) GetOrCreate(id string) *CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := newCallSession(id, r.now(), r.historyMax)
	r.sessions[id] = s
	return s
}

// Get returns the session for id, if it exists.
func (r *Registry) Get(id string) (*CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops a session immediately, e.g. once it enters Ended with no
// in-flight upstream calls remaining.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
			r.sweepIdle()
		}
	}
}

func (r *Registry) sweepIdle() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		s.Lock()
		idle := now.Sub(s.LastActivityAt) >= idleTTL
		ended := s.State == StateEnded
		s.Unlock()
		if idle || ended {
			delete(r.sessions, id)
		}
	}
}
