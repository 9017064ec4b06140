// Package session implements the call session registry of spec.md §3:
// CallSession, Turn, QueryContext, and the per-session mutex/idle-TTL
// lifecycle.
package session

import (
	"time"

	"github.com/shelterline/relay/internal/classifier"
	"github.com/shelterline/relay/internal/retrieval"
)

// ConsentState is the tri-state SMS consent flag.
type ConsentState string

const (
	ConsentUnknown ConsentState = "unknown"
	ConsentGranted ConsentState = "granted"
	ConsentDenied  ConsentState = "denied"
)

// State is the dialog state machine's current state for a call.
type State string

const (
	StateGreeting          State = "Greeting"
	StateAwaitingUtterance State = "AwaitingUtterance"
	StateProcessing        State = "Processing"
	StateAwaitingConsent   State = "AwaitingConsent"
	StateEnding            State = "Ending"
	StateEnded             State = "Ended"
)

// Role distinguishes caller and assistant turns.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one recorded utterance or response.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// QueryContext is the follow-up engine's memory of the most recently
// presented results (spec.md §3 "QueryContext").
type QueryContext struct {
	Intent           classifier.Intent
	Query            string
	Location         string
	Results          []retrieval.Result
	FocusResultTitle string
	Timestamp        time.Time
}

// Expired reports whether the context is older than the 5-minute window.
func (q *QueryContext) Expired(now time.Time) bool {
	if q == nil {
		return true
	}
	return now.Sub(q.Timestamp) > 5*time.Minute
}

// PendingConfirmation records a location-confirmation branch awaiting a
// yes/no answer (spec.md §4.6 step 5).
type PendingConfirmation struct {
	Intent   classifier.Intent
	Location string
}
