package session

import (
	"sync"
	"time"
)

// CallSession is one active call's in-memory state, per spec.md §3. All
// session state is held only in process memory; nothing here is persisted.
type CallSession struct {
	mu sync.Mutex

	// turnMu serializes whole turns (spec.md §5 "utterances are
	// processed strictly in arrival order"). It is held for the
	// duration of a turn, including the upstream I/O the router
	// performs with mu released; mu itself guards only the brief
	// snapshot/reapply critical sections around that I/O.
	turnMu sync.Mutex

	ID             string
	Caller         string
	StartedAt      time.Time
	LastActivityAt time.Time
	HasSMSConsent  ConsentState
	State          State

	history    []Turn
	historyMax int

	context *QueryContext
	pending *PendingConfirmation

	// lastKnownLocation survives QueryContext expiry; it is the location
	// memory the rewriter and router fall back to (spec.md §4.4 step 1,
	// §4.6 step 5), independent of the 5-minute follow-up window.
	lastKnownLocation string

	// lastSMSBody is the most recent non-empty Answer.SMSBody across
	// turns, survives QueryContext expiry, and is what gets texted on
	// AwaitingConsent -> Ending with consent granted (spec.md §4.8,
	// scenario 5 of §9: "SMS send is enqueued containing the last
	// smsResponse").
	lastSMSBody string

	reprompts int
}

// newCallSession constructs a session in the Greeting state.
func newCallSession(id string, now time.Time, historyMax int) *CallSession {
	if historyMax <= 0 {
		historyMax = 20
	}
	return &CallSession{
		ID:             id,
		StartedAt:      now,
		LastActivityAt: now,
		HasSMSConsent:  ConsentUnknown,
		State:          StateGreeting,
		historyMax:     historyMax,
	}
}

// Lock/Unlock expose the per-session data mutex, held only for the
// short snapshot/reapply critical sections around a turn's upstream
// I/O (spec.md §5: "the mutex is not held across upstream I/O").
func (s *CallSession) Lock()   { s.mu.Lock() }
func (s *CallSession) Unlock() { s.mu.Unlock() }

// LockTurn/UnlockTurn bracket one full dialog turn, holding ordering
// across the router's unlocked upstream I/O without holding the data
// mutex (mu) across that I/O. Callers take LockTurn first, then take
// and release mu as needed within the turn.
func (s *CallSession) LockTurn()   { s.turnMu.Lock() }
func (s *CallSession) UnlockTurn() { s.turnMu.Unlock() }

// Touch advances LastActivityAt. Callers must hold the lock.
func (s *CallSession) Touch(now time.Time) {
	s.LastActivityAt = now
}

// AppendTurn records a turn, trimming history to historyMax. Callers
// must hold the lock.
func (s *CallSession) AppendTurn(t Turn) {
	s.history = append(s.history, t)
	if len(s.history) > s.historyMax {
		s.history = s.history[len(s.history)-s.historyMax:]
	}
}

// History returns a copy of the recorded turns. Callers must hold the lock.
func (s *CallSession) History() []Turn {
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Context returns the session's QueryContext, or nil if absent or
// expired as of now. Callers must hold the lock.
func (s *CallSession) Context(now time.Time) *QueryContext {
	if s.context.Expired(now) {
		return nil
	}
	return s.context
}

// SetContext atomically replaces the QueryContext. Callers must hold the lock.
func (s *CallSession) SetContext(ctx *QueryContext) {
	s.context = ctx
}

// Pending returns the pending location-confirmation branch,
// if any. Callers must hold the lock.
func (s *CallSession) Pending() *PendingConfirmation {
	return s.pending
}

// SetPending sets or clears the pending location-confirmation branch.
// Callers must hold the lock.
func (s *CallSession) SetPending(p *PendingConfirmation) {
	s.pending = p
}

// Reprompts returns the current re-prompt counter. Callers must hold the lock.
func (s *CallSession) Reprompts() int { return s.reprompts }

// IncrementReprompts bumps the re-prompt counter and returns the new value.
// Callers must hold the lock.
func (s *CallSession) IncrementReprompts() int {
	s.reprompts++
	return s.reprompts
}

// ResetReprompts clears the re-prompt counter. Callers must hold the lock.
func (s *CallSession) ResetReprompts() { s.reprompts = 0 }

// LastLocation returns the location of the most recent non-expired
// QueryContext, or "" if none. Callers must hold the lock.
func (s *CallSession) LastLocation(now time.Time) string {
	ctx := s.Context(now)
	if ctx == nil {
		return ""
	}
	return ctx.Location
}

// LastKnownLocation returns the location memory that survives
// QueryContext expiry. Callers must hold the lock.
func (s *CallSession) LastKnownLocation() string {
	return s.lastKnownLocation
}

// SetLastKnownLocation records a resolved location for later recall,
// regardless of the follow-up window. Callers must hold the lock.
func (s *CallSession) SetLastKnownLocation(location string) {
	if location == "" {
		return
	}
	s.lastKnownLocation = location
}

// LastSMSBody returns the most recently promised SMS body. Callers must
// hold the lock.
func (s *CallSession) LastSMSBody() string { return s.lastSMSBody }

// SetLastSMSBody records an SMS body for the end-of-call send. Callers
// must hold the lock.
func (s *CallSession) SetLastSMSBody(body string) {
	if body == "" {
		return
	}
	s.lastSMSBody = body
}
