// Package dialog implements the call-level state machine of spec.md
// §4.8: greet, gather, process, reply, and loop/consent/end.
package dialog

import (
	"context"
	"strings"
	"time"

	"github.com/shelterline/relay/internal/router"
	"github.com/shelterline/relay/internal/session"
	"github.com/shelterline/relay/pkg/logging"
)

// Router is the narrow surface of *router.Router the engine needs,
// satisfied by the real router and by test stubs.
type Router interface {
	Route(ctx context.Context, in router.Input) (router.Answer, router.Effects, error)
}

// SummaryGenerator produces an optional end-of-call conversation summary.
type SummaryGenerator interface {
	Complete(ctx context.Context, history []session.Turn) (string, error)
}

// SMSDispatcher hands an end-of-call SMS off to async delivery. Calls
// return once the send is durably queued, not once it is delivered.
type SMSDispatcher interface {
	Enqueue(ctx context.Context, callID, to, body string) error
}

// CallRecord is the fire-and-forget audit row written on Ended.
type CallRecord struct {
	CallID       string
	Caller       string
	StartedAt    time.Time
	EndedAt      time.Time
	TurnCount    int
	HadRetrieval bool
	SMSSent      bool
	Outcome      string
}

// AuditRecorder persists a CallRecord. Implementations must not block
// the caller on anything slower than their own configured timeout.
type AuditRecorder interface {
	Record(ctx context.Context, rec CallRecord) error
}

const (
	greetingLine  = "Hi, thanks for calling. I'm here to help you find shelter, legal aid, counseling, or other support. What's going on?"
	reentryLine   = "Sorry, I missed that. Could you say that again?"
	tooLongReply  = "Sorry, that's taking longer than expected. Could you try saying that again?"
	consentYes    = "Great, I've sent that text. Take care, and please reach out again if you need anything."
	consentNo     = "Okay, no text message. Take care, and please reach out again if you need anything."
	consentRepeat = "Sorry, was that a yes or no on the text message?"
)

// Config customizes an Engine beyond the fixed timing constants of
// spec.md §4.8. Zero values fall back to the spec's defaults.
type Config struct {
	SoftBudget   time.Duration
	HardBudget   time.Duration
	MaxReprompts int
	Logger       *logging.Logger
}

// Engine drives one call's state machine against a shared Router.
type Engine struct {
	router  Router
	summary SummaryGenerator
	sms     SMSDispatcher
	audit   AuditRecorder

	softBudget   time.Duration
	hardBudget   time.Duration
	maxReprompts int
	logger       *logging.Logger
}

// New constructs an Engine. summary, sms, and audit are all optional;
// a nil summary or sms skips that end-of-call step, a nil audit skips
// the audit row entirely.
func New(r Router, summary SummaryGenerator, sms SMSDispatcher, audit AuditRecorder, cfg Config) *Engine {
	e := &Engine{
		router:       r,
		summary:      summary,
		sms:          sms,
		audit:        audit,
		softBudget:   cfg.SoftBudget,
		hardBudget:   cfg.HardBudget,
		maxReprompts: cfg.MaxReprompts,
		logger:       cfg.Logger,
	}
	if e.softBudget <= 0 {
		e.softBudget = 10 * time.Second
	}
	if e.hardBudget <= 0 {
		e.hardBudget = 12 * time.Second
	}
	if e.maxReprompts <= 0 {
		e.maxReprompts = 2
	}
	if e.logger == nil {
		e.logger = logging.Default()
	}
	return e
}

// Outcome is what the webhook dispatcher speaks back to the caller for
// one turn, plus the envelope shape it implies.
type Outcome struct {
	Text      string
	NextState session.State
	Hangup    bool
}

// Greet implements the Greeting -> AwaitingUtterance transition of the
// first webhook for a call (POST /voice).
func (e *Engine) Greet(sess *session.CallSession, now time.Time) Outcome {
	sess.Lock()
	defer sess.Unlock()
	sess.Touch(now)
	sess.State = session.StateAwaitingUtterance
	sess.AppendTurn(session.Turn{Role: session.RoleAssistant, Text: greetingLine, Timestamp: now})
	return Outcome{Text: greetingLine, NextState: session.StateAwaitingUtterance}
}

// HandleUtterance implements the AwaitingUtterance -> Processing ->
// {AwaitingUtterance | AwaitingConsent | Ending} loop of spec.md §4.8.
// A blank utterance is the provider's own Gather-timeout callback and is
// treated as the 30-second idle event rather than a real turn.
//
// LockTurn/UnlockTurn bracket the whole call so utterances are processed
// strictly in arrival order (spec.md §5) even though the router itself
// releases the data mutex across its upstream I/O.
func (e *Engine) HandleUtterance(ctx context.Context, sess *session.CallSession, utterance string, now time.Time) Outcome {
	sess.LockTurn()
	defer sess.UnlockTurn()

	if strings.TrimSpace(utterance) == "" {
		return e.handleIdle(sess, now)
	}

	sess.Lock()
	sess.Touch(now)
	sess.ResetReprompts()
	sess.AppendTurn(session.Turn{Role: session.RoleUser, Text: utterance, Timestamp: now})
	in := router.Input{
		Utterance:         utterance,
		State:             sess.State,
		Context:           sess.Context(now),
		Pending:           sess.Pending(),
		LastKnownLocation: sess.LastKnownLocation(),
		Now:               now,
	}
	sess.State = session.StateProcessing
	sess.Unlock()

	answer, effects, ok := e.routeWithBudget(ctx, sess.ID, in)
	if !ok {
		sess.Lock()
		sess.State = session.StateAwaitingUtterance
		sess.Unlock()
		return Outcome{Text: tooLongReply, NextState: session.StateAwaitingUtterance}
	}

	sess.Lock()
	e.applyEffects(sess, effects)
	if answer.SMSBody != "" {
		sess.SetLastSMSBody(answer.SMSBody)
	}
	if sess.State == session.StateProcessing {
		// The router answered without requesting a transition (the
		// common case): go back to listening for the next utterance.
		sess.State = session.StateAwaitingUtterance
	}
	nextState := sess.State
	sess.AppendTurn(session.Turn{Role: session.RoleAssistant, Text: answer.Text, Timestamp: now})
	sess.Unlock()

	return Outcome{Text: answer.Text, NextState: nextState}
}

// routeWithBudget implements the 10s/12s request-budget timeouts of
// spec.md §4.8: the router runs against a context bound to the hard
// budget, but if it hasn't produced an Answer within the soft budget the
// turn gives up and returns the "taking too long" reply. The router call
// is left running in the background (still bounded by the hard budget)
// and its result is simply discarded if it arrives late.
func (e *Engine) routeWithBudget(ctx context.Context, callID string, in router.Input) (router.Answer, router.Effects, bool) {
	turnCtx, cancel := context.WithTimeout(ctx, e.hardBudget)

	type result struct {
		answer  router.Answer
		effects router.Effects
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer cancel()
		a, eff, err := e.router.Route(turnCtx, in)
		done <- result{a, eff, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			e.logger.Error("dialog: router returned error", "call_id", callID, "error", res.err)
			return router.Answer{}, router.Effects{}, false
		}
		return res.answer, res.effects, true
	case <-time.After(e.softBudget):
		e.logger.Warn("dialog: router exceeded soft budget, replying early", "call_id", callID)
		go func() { <-done }() // drain once the hard budget or router call completes
		return router.Answer{}, router.Effects{}, false
	}
}

func (e *Engine) applyEffects(sess *session.CallSession, effects router.Effects) {
	if effects.StateChanged {
		sess.State = effects.NewState
	}
	if effects.ClearContext {
		sess.SetContext(nil)
	}
	if effects.SetContext != nil {
		sess.SetContext(effects.SetContext)
	}
	if effects.ClearPending {
		sess.SetPending(nil)
	}
	if effects.SetPending != nil {
		sess.SetPending(effects.SetPending)
	}
	if effects.LastKnownLocation != "" {
		sess.SetLastKnownLocation(effects.LastKnownLocation)
	}
}

// handleIdle implements the 30-second idle re-prompt and the
// 2-consecutive-reprompt -> Ending transition of spec.md §4.8.
func (e *Engine) handleIdle(sess *session.CallSession, now time.Time) Outcome {
	sess.Lock()
	defer sess.Unlock()
	sess.Touch(now)
	if sess.IncrementReprompts() > e.maxReprompts {
		sess.State = session.StateEnding
		return Outcome{Text: "I haven't heard from you, so I'll let you go now. Take care.", NextState: session.StateEnding, Hangup: true}
	}
	sess.State = session.StateAwaitingUtterance
	return Outcome{Text: reentryLine, NextState: session.StateAwaitingUtterance}
}

// HandleConsent implements AwaitingConsent -> Ending of spec.md §4.8 for
// POST /consent: a yes/no reply to the SMS-summary offer.
func (e *Engine) HandleConsent(ctx context.Context, sess *session.CallSession, utterance string, now time.Time) Outcome {
	sess.LockTurn()
	defer sess.UnlockTurn()

	switch {
	case yesNoAffirmative(utterance):
		sess.Lock()
		sess.HasSMSConsent = session.ConsentGranted
		sess.State = session.StateEnding
		sess.Unlock()
		e.endCall(sess, now)
		return Outcome{Text: consentYes, NextState: session.StateEnding, Hangup: true}
	case yesNoNegative(utterance):
		sess.Lock()
		sess.HasSMSConsent = session.ConsentDenied
		sess.State = session.StateEnding
		sess.Unlock()
		e.endCall(sess, now)
		return Outcome{Text: consentNo, NextState: session.StateEnding, Hangup: true}
	default:
		return Outcome{Text: consentRepeat, NextState: session.StateAwaitingConsent}
	}
}

// Complete implements Ending -> Ended on the provider's
// CallStatus=completed notification. Any pending end-of-call work for a
// session that skipped /consent (e.g. the provider simply hung up) is
// triggered here instead.
func (e *Engine) Complete(ctx context.Context, sess *session.CallSession, now time.Time) {
	sess.Lock()
	alreadyEnded := sess.State == session.StateEnded
	sess.State = session.StateEnded
	sess.Unlock()
	if alreadyEnded {
		return
	}
	e.endCall(sess, now)
}

// endCall implements spec.md §4.8's "on any Ended": an optional LLM
// conversation summary for the audit row, and, if consent was granted,
// the enqueued SMS send. Both are best-effort; failures are logged, not
// surfaced to the caller, who has already heard the goodbye line.
func (e *Engine) endCall(sess *session.CallSession, now time.Time) {
	sess.Lock()
	callID := sess.ID
	caller := sess.Caller
	startedAt := sess.StartedAt
	consent := sess.HasSMSConsent
	smsBody := sess.LastSMSBody()
	history := sess.History()
	hadRetrieval := sess.Context(now) != nil || smsBody != ""
	sess.Unlock()

	// Use a fresh context with timeout since the request that triggered
	// Ended (a webhook response already written) may be gone by the
	// time these calls complete.
	bgCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	smsSent := false
	if consent == session.ConsentGranted && e.sms != nil && smsBody != "" && caller != "" {
		if err := e.sms.Enqueue(bgCtx, callID, caller, smsBody); err != nil {
			e.logger.Error("dialog: failed to enqueue end-of-call sms", "call_id", callID, "error", err)
		} else {
			smsSent = true
		}
	}

	summary := ""
	if e.summary != nil && len(history) > 0 {
		text, err := e.summary.Complete(bgCtx, history)
		if err != nil {
			e.logger.Warn("dialog: conversation summary failed", "call_id", callID, "error", err)
		} else {
			summary = text
		}
	}

	if e.audit != nil {
		rec := CallRecord{
			CallID:       callID,
			Caller:       caller,
			StartedAt:    startedAt,
			EndedAt:      now,
			TurnCount:    len(history),
			HadRetrieval: hadRetrieval,
			SMSSent:      smsSent,
			Outcome:      summary,
		}
		if err := e.audit.Record(bgCtx, rec); err != nil {
			e.logger.Warn("dialog: audit record failed", "call_id", callID, "error", err)
		}
	}
}

func yesNoAffirmative(utterance string) bool {
	u := strings.ToLower(strings.TrimSpace(utterance))
	for _, word := range []string{"yes", "yeah", "yep", "sure", "please"} {
		if strings.HasPrefix(u, word) {
			return true
		}
	}
	return false
}

func yesNoNegative(utterance string) bool {
	u := strings.ToLower(strings.TrimSpace(utterance))
	for _, word := range []string{"no", "nope", "nah", "negative"} {
		if strings.HasPrefix(u, word) {
			return true
		}
	}
	return false
}
