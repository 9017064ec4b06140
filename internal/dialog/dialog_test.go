package dialog_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelterline/relay/internal/dialog"
	"github.com/shelterline/relay/internal/router"
	"github.com/shelterline/relay/internal/session"
)

type stubRouter struct {
	answer  router.Answer
	effects router.Effects
	err     error
	delay   time.Duration
	calls   int32
}

func (r *stubRouter) Route(ctx context.Context, in router.Input) (router.Answer, router.Effects, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return router.Answer{}, router.Effects{}, ctx.Err()
		}
	}
	return r.answer, r.effects, r.err
}

type stubSummary struct {
	text string
	err  error
}

func (s *stubSummary) Complete(ctx context.Context, history []session.Turn) (string, error) {
	return s.text, s.err
}

type stubSMS struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *stubSMS) Enqueue(ctx context.Context, callID, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, body)
	return nil
}

func (s *stubSMS) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type stubAudit struct {
	mu   sync.Mutex
	recs []dialog.CallRecord
}

func (a *stubAudit) Record(ctx context.Context, rec dialog.CallRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func (a *stubAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recs)
}

func newSession(t *testing.T, now time.Time) *session.CallSession {
	reg := session.NewRegistry(20)
	t.Cleanup(reg.Close)
	return reg.GetOrCreate("call-1")
}

func TestGreetTransitionsToAwaitingUtterance(t *testing.T) {
	e := dialog.New(&stubRouter{}, nil, nil, nil, dialog.Config{})
	sess := newSession(t, time.Now())

	out := e.Greet(sess, time.Now())
	assert.Equal(t, session.StateAwaitingUtterance, out.NextState)
	assert.NotEmpty(t, out.Text)
}

func TestHandleUtteranceAppliesEffectsAndReturnsToAwaitingUtterance(t *testing.T) {
	r := &stubRouter{answer: router.Answer{Text: "here are some shelters"}}
	e := dialog.New(r, nil, nil, nil, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingUtterance
	sess.Unlock()

	out := e.HandleUtterance(context.Background(), sess, "find me a shelter", time.Now())
	assert.Equal(t, "here are some shelters", out.Text)
	assert.Equal(t, session.StateAwaitingUtterance, out.NextState)
	assert.False(t, out.Hangup)
}

func TestHandleUtteranceRecordsLastSMSBody(t *testing.T) {
	r := &stubRouter{answer: router.Answer{Text: "ok", SMSBody: "1. Austin Safe Haven\n"}}
	e := dialog.New(r, nil, nil, nil, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingUtterance
	sess.Unlock()

	e.HandleUtterance(context.Background(), sess, "find me a shelter", time.Now())

	sess.Lock()
	body := sess.LastSMSBody()
	sess.Unlock()
	assert.Equal(t, "1. Austin Safe Haven\n", body)
}

func TestHandleUtteranceHonorsStateChangedEffect(t *testing.T) {
	r := &stubRouter{
		answer:  router.Answer{Text: "would you like a text?"},
		effects: router.Effects{NewState: session.StateAwaitingConsent, StateChanged: true},
	}
	e := dialog.New(r, nil, nil, nil, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingUtterance
	sess.Unlock()

	out := e.HandleUtterance(context.Background(), sess, "goodbye", time.Now())
	assert.Equal(t, session.StateAwaitingConsent, out.NextState)
}

func TestHandleUtteranceBlankIsIdleEvent(t *testing.T) {
	r := &stubRouter{}
	e := dialog.New(r, nil, nil, nil, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingUtterance
	sess.Unlock()

	out := e.HandleUtterance(context.Background(), sess, "", time.Now())
	assert.Equal(t, session.StateAwaitingUtterance, out.NextState)
	assert.Equal(t, int32(0), atomic.LoadInt32(&r.calls), "a blank utterance must not reach the router")
}

func TestHandleUtteranceIdleEndsAfterMaxReprompts(t *testing.T) {
	e := dialog.New(&stubRouter{}, nil, nil, nil, dialog.Config{MaxReprompts: 2})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingUtterance
	sess.Unlock()

	now := time.Now()
	out1 := e.HandleUtterance(context.Background(), sess, "", now)
	assert.Equal(t, session.StateAwaitingUtterance, out1.NextState)
	assert.False(t, out1.Hangup)

	out2 := e.HandleUtterance(context.Background(), sess, "", now)
	assert.Equal(t, session.StateAwaitingUtterance, out2.NextState)
	assert.False(t, out2.Hangup)

	out3 := e.HandleUtterance(context.Background(), sess, "", now)
	assert.Equal(t, session.StateEnding, out3.NextState)
	assert.True(t, out3.Hangup)
}

func TestHandleUtteranceRealUtteranceResetsReprompts(t *testing.T) {
	r := &stubRouter{answer: router.Answer{Text: "ok"}}
	e := dialog.New(r, nil, nil, nil, dialog.Config{MaxReprompts: 1})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingUtterance
	sess.Unlock()

	now := time.Now()
	e.HandleUtterance(context.Background(), sess, "", now)
	e.HandleUtterance(context.Background(), sess, "I need help", now)

	out := e.HandleUtterance(context.Background(), sess, "", now)
	assert.Equal(t, session.StateAwaitingUtterance, out.NextState, "a real utterance should reset the reprompt counter")
	assert.False(t, out.Hangup)
}

func TestHandleUtteranceSoftBudgetReturnsTooLongReply(t *testing.T) {
	r := &stubRouter{answer: router.Answer{Text: "slow answer"}, delay: 50 * time.Millisecond}
	e := dialog.New(r, nil, nil, nil, dialog.Config{SoftBudget: 5 * time.Millisecond, HardBudget: 200 * time.Millisecond})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingUtterance
	sess.Unlock()

	out := e.HandleUtterance(context.Background(), sess, "find me a shelter", time.Now())
	assert.Equal(t, session.StateAwaitingUtterance, out.NextState)
	assert.Contains(t, out.Text, "taking longer than expected")

	time.Sleep(100 * time.Millisecond) // let the drained background call finish before the test exits
}

func TestHandleUtteranceRouterErrorReturnsTooLongReply(t *testing.T) {
	r := &stubRouter{err: errors.New("boom")}
	e := dialog.New(r, nil, nil, nil, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingUtterance
	sess.Unlock()

	out := e.HandleUtterance(context.Background(), sess, "find me a shelter", time.Now())
	assert.Equal(t, session.StateAwaitingUtterance, out.NextState)
	assert.Contains(t, out.Text, "taking longer than expected")
}

func TestHandleConsentAffirmativeGrantsConsentAndEnqueuesSMS(t *testing.T) {
	sms := &stubSMS{}
	audit := &stubAudit{}
	e := dialog.New(&stubRouter{}, nil, sms, audit, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingConsent
	sess.Caller = "+15125550100"
	sess.SetLastSMSBody("1. Austin Safe Haven\n")
	sess.Unlock()

	out := e.HandleConsent(context.Background(), sess, "yes please", time.Now())
	assert.Equal(t, session.StateEnding, out.NextState)
	assert.True(t, out.Hangup)

	sess.Lock()
	consent := sess.HasSMSConsent
	sess.Unlock()
	assert.Equal(t, session.ConsentGranted, consent)
	assert.Equal(t, 1, sms.count())
	assert.Equal(t, 1, audit.count())
}

func TestHandleConsentNegativeDeniesConsentAndSkipsSMS(t *testing.T) {
	sms := &stubSMS{}
	e := dialog.New(&stubRouter{}, nil, sms, nil, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingConsent
	sess.Caller = "+15125550100"
	sess.SetLastSMSBody("1. Austin Safe Haven\n")
	sess.Unlock()

	out := e.HandleConsent(context.Background(), sess, "no thanks", time.Now())
	assert.Equal(t, session.StateEnding, out.NextState)

	sess.Lock()
	consent := sess.HasSMSConsent
	sess.Unlock()
	assert.Equal(t, session.ConsentDenied, consent)
	assert.Equal(t, 0, sms.count())
}

func TestHandleConsentAmbiguousReasks(t *testing.T) {
	e := dialog.New(&stubRouter{}, nil, nil, nil, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingConsent
	sess.Unlock()

	out := e.HandleConsent(context.Background(), sess, "what do you mean", time.Now())
	assert.Equal(t, session.StateAwaitingConsent, out.NextState)
	assert.False(t, out.Hangup)
	assert.Contains(t, out.Text, "yes or no")
}

func TestHandleConsentGrantedWithoutSMSBodySkipsEnqueue(t *testing.T) {
	sms := &stubSMS{}
	e := dialog.New(&stubRouter{}, nil, sms, nil, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateAwaitingConsent
	sess.Caller = "+15125550100"
	sess.Unlock()

	e.HandleConsent(context.Background(), sess, "yes", time.Now())
	assert.Equal(t, 0, sms.count(), "nothing to send when no SMS body was ever promised")
}

func TestCompleteIsIdempotent(t *testing.T) {
	audit := &stubAudit{}
	e := dialog.New(&stubRouter{}, nil, nil, audit, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateEnding
	sess.Unlock()

	e.Complete(context.Background(), sess, time.Now())
	e.Complete(context.Background(), sess, time.Now())

	assert.Equal(t, 1, audit.count(), "a second CallStatus=completed notification must not double-record")
}

func TestCompleteRecordsSummaryInAuditOutcome(t *testing.T) {
	summary := &stubSummary{text: "caller asked about shelters in Austin"}
	audit := &stubAudit{}
	e := dialog.New(&stubRouter{}, summary, nil, audit, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateEnding
	sess.AppendTurn(session.Turn{Role: session.RoleUser, Text: "find me a shelter"})
	sess.Unlock()

	e.Complete(context.Background(), sess, time.Now())

	require.Equal(t, 1, audit.count())
	assert.Equal(t, "caller asked about shelters in Austin", audit.recs[0].Outcome)
}

func TestCompleteWithoutHistorySkipsSummary(t *testing.T) {
	summary := &stubSummary{text: "should not appear"}
	audit := &stubAudit{}
	e := dialog.New(&stubRouter{}, summary, nil, audit, dialog.Config{})
	sess := newSession(t, time.Now())
	sess.Lock()
	sess.State = session.StateEnding
	sess.Unlock()

	e.Complete(context.Background(), sess, time.Now())

	require.Equal(t, 1, audit.count())
	assert.Empty(t, audit.recs[0].Outcome)
}
