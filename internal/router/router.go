// Package router implements the response router of spec.md §4.6: it
// classifies an utterance and chooses among direct retrieval, LLM
// generation with retrieved context, or pure LLM generation.
package router

import (
	"context"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shelterline/relay/internal/cache"
	"github.com/shelterline/relay/internal/classifier"
	"github.com/shelterline/relay/internal/followup"
	"github.com/shelterline/relay/internal/retrieval"
	"github.com/shelterline/relay/internal/rewriter"
	"github.com/shelterline/relay/internal/session"
	"github.com/shelterline/relay/internal/stats"
	"github.com/shelterline/relay/internal/upstream"
)

// endPhrasePatterns matches utterances that explicitly ask to end the
// call, independent of the classifier's "end" category score.
var endPhrasePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bgoodbye\b`),
	regexp.MustCompile(`(?i)\bbye\b`),
	regexp.MustCompile(`(?i)\bthat'?s all\b`),
	regexp.MustCompile(`(?i)\bhang up\b`),
	regexp.MustCompile(`(?i)\bi'?m done\b`),
	regexp.MustCompile(`(?i)\bno thanks?\b`),
}

func isEndPhrase(utterance string) bool {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return false
	}
	for _, pat := range endPhrasePatterns {
		if pat.MatchString(utterance) {
			return true
		}
	}
	return false
}

var affirmativePattern = regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|sure|please|correct|right)\b`)
var negativePattern = regexp.MustCompile(`(?i)^\s*(no|nope|nah|negative)\b`)

func isAffirmative(utterance string) bool { return affirmativePattern.MatchString(strings.TrimSpace(utterance)) }
func isNegative(utterance string) bool    { return negativePattern.MatchString(strings.TrimSpace(utterance)) }

var locationSeekingIntents = map[classifier.Intent]bool{
	classifier.IntentFindShelter:        true,
	classifier.IntentLegalServices:      true,
	classifier.IntentCounselingServices: true,
	classifier.IntentOtherResources:     true,
}

const (
	offTopicReply    = "I'm here to help you find shelter, legal aid, counseling, or other support resources. What do you need help with?"
	emergencyReply   = "If you're in immediate danger, please hang up and call 911 right now. I can also help you find resources once you're safe."
	consentPrompt    = "Before we hang up, would you like a text message with the resources we discussed? Please say yes or no."
	confirmRepeat    = "Sorry, was that a yes or no?"
	locationCueReply = "What city or area are you looking for help in?"
)

// Answer is the router's output for one turn.
type Answer struct {
	Text           string
	SMSBody        string
	Intent         classifier.Intent
	Confidence     float64
	Fallback       bool
	FallbackReason string
}

// Effects describes the session mutations the caller must apply under
// the session mutex (spec.md §5: the mutex is not held across upstream
// I/O, so the router returns results to be reapplied rather than
// mutating the session itself).
type Effects struct {
	NewState          session.State
	StateChanged      bool
	SetContext        *session.QueryContext
	ClearContext      bool
	SetPending        *session.PendingConfirmation
	ClearPending      bool
	LastKnownLocation string
}

// Input is the read-only snapshot of session state the router needs.
// Callers build it while holding the session lock, then release the
// lock before calling Route.
type Input struct {
	Utterance         string
	State             session.State
	Context           *session.QueryContext
	Pending           *session.PendingConfirmation
	LastKnownLocation string
	Now               time.Time
}

// Router implements route() of spec.md §4.6.
type Router struct {
	classifier *classifier.Classifier
	rewriter   *rewriter.Rewriter
	retrieval  *retrieval.Pipeline
	followup   *followup.Engine
	chat       upstream.Chat
	model      string
	responses  *cache.Cache[Answer]
	stats      *stats.Stats
}

// New constructs a Router.
func New(c *classifier.Classifier, rw *rewriter.Rewriter, rp *retrieval.Pipeline, fe *followup.Engine, chat upstream.Chat, model string, responses *cache.Cache[Answer], st *stats.Stats) *Router {
	return &Router{classifier: c, rewriter: rw, retrieval: rp, followup: fe, chat: chat, model: model, responses: responses, stats: st}
}

// Route implements spec.md §4.6. It performs upstream I/O without
// holding any lock; the caller applies the returned Effects under the
// session mutex.
func (r *Router) Route(ctx context.Context, in Input) (Answer, Effects, error) {
	if isEndPhrase(in.Utterance) && in.State == session.StateAwaitingUtterance {
		return Answer{Text: consentPrompt, Intent: classifier.IntentEndConversation},
			Effects{NewState: session.StateAwaitingConsent, StateChanged: true},
			nil
	}

	if in.Context != nil && !in.Context.Expired(in.Now) {
		if r.followup.Detect(ctx, in.Utterance, in.Context, in.Now) {
			reply, refreshed := r.followup.Handle(in.Utterance, in.Context, in.Now)
			return Answer{Text: reply.Text, SMSBody: reply.PromiseSMSBody, Intent: in.Context.Intent},
				Effects{SetContext: refreshed},
				nil
		}
	}

	cacheKey := strings.ToLower(strings.TrimSpace(in.Utterance))

	// A pending location-confirmation branch (step 5 of a previous turn)
	// takes the reply before anything else: a yes commits to the stored
	// intent/location directly, a no clears it and falls through to a
	// normal turn, anything else re-asks rather than guessing.
	if in.Pending != nil {
		switch {
		case isAffirmative(in.Utterance):
			location, err := r.rewriter.ResolveUtteranceLocation(ctx, in.Pending.Location)
			if err != nil {
				return r.fallback(ctx, in, "pending_location_error")
			}
			result := classifier.Result{Intent: in.Pending.Intent, Confidence: 1}
			answer, effects, err := r.retrieveAndAnswer(ctx, in, result, location)
			if err != nil {
				return r.fallback(ctx, in, "branch_error")
			}
			effects.ClearPending = true
			r.cacheResponse(cacheKey, answer)
			return answer, effects, nil
		case isNegative(in.Utterance):
			in.Pending = nil
			return r.continueRoute(ctx, in, cacheKey, true)
		default:
			return Answer{Text: confirmRepeat}, Effects{}, nil
		}
	}

	return r.continueRoute(ctx, in, cacheKey, false)
}

// continueRoute implements spec.md §4.6 steps 2-8, the normal turn flow
// once the end-phrase, follow-up, and pending-confirmation branches have
// been ruled out. clearPending is folded into every returned Effects so
// a "no" reply to the confirmation prompt clears the stale branch even
// though this turn answers something else.
func (r *Router) continueRoute(ctx context.Context, in Input, cacheKey string, clearPending bool) (Answer, Effects, error) {
	finish := func(answer Answer, effects Effects, err error) (Answer, Effects, error) {
		if clearPending {
			effects.ClearPending = true
		}
		return answer, effects, err
	}

	if r.responses != nil {
		if cached, ok := r.responses.Get(cacheKey); ok {
			if r.stats != nil {
				r.stats.ObserveCache("response", true)
			}
			return finish(cached, Effects{}, nil)
		}
		if r.stats != nil {
			r.stats.ObserveCache("response", false)
		}
	}

	// Classification and raw location detection are independent upstream
	// calls (classifier cache/LLM tie-break vs. geocode), so they fire
	// concurrently. The raw (utterance-only) location lets the
	// location-seeking check below distinguish "no location mentioned"
	// from "resolved via session memory" before committing to retrieval.
	var result classifier.Result
	var rawLocation upstream.GeocodeResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		result, err = r.classifier.Classify(gctx, in.Utterance)
		return err
	})
	g.Go(func() error {
		var err error
		rawLocation, err = r.rewriter.ResolveUtteranceLocation(gctx, in.Utterance)
		return err
	})
	if err := g.Wait(); err != nil {
		return finish(r.fallback(ctx, in, "classify_error"))
	}

	switch result.Intent {
	case classifier.IntentOffTopic:
		answer := Answer{Text: offTopicReply, Intent: result.Intent, Confidence: result.Confidence}
		r.cacheResponse(cacheKey, answer)
		return finish(answer, Effects{}, nil)
	case classifier.IntentEmergencyHelp:
		answer := Answer{Text: emergencyReply, Intent: result.Intent, Confidence: result.Confidence}
		r.cacheResponse(cacheKey, answer)
		return finish(answer, Effects{}, nil)
	}

	if locationSeekingIntents[result.Intent] && rawLocation.Location == "" {
		if in.LastKnownLocation != "" {
			prompt := "I found a previous search for " + in.LastKnownLocation + ". Search there again?"
			return finish(Answer{Text: prompt, Intent: result.Intent, Confidence: result.Confidence},
				Effects{SetPending: &session.PendingConfirmation{Intent: result.Intent, Location: in.LastKnownLocation}},
				nil)
		}
		// No location in the utterance and no session memory to fall back
		// on (fresh call, or follow-up context expired per spec.md §8
		// scenario 3) — ask for a city instead of retrieving unscoped.
		answer := Answer{Text: locationCueReply, Intent: result.Intent, Confidence: result.Confidence}
		return finish(answer, Effects{}, nil)
	}

	answer, effects, err := r.retrieveAndAnswer(ctx, in, result, rawLocation)
	if err != nil {
		return finish(r.fallback(ctx, in, "branch_error"))
	}
	r.cacheResponse(cacheKey, answer)
	return finish(answer, effects, nil)
}

// retrieveAndAnswer implements spec.md §4.6 step 6's banding: the
// confidence band decides whether retrieval output is used directly,
// blended with an LLM completion, or skipped in favor of pure LLM
// generation. rawLocation falls back to session memory here (the
// location-seeking confirmation branch, if any, has already cleared).
func (r *Router) retrieveAndAnswer(ctx context.Context, in Input, result classifier.Result, rawLocation upstream.GeocodeResult) (Answer, Effects, error) {
	location := rawLocation
	if location.Location == "" && in.LastKnownLocation != "" {
		fallback, err := r.rewriter.ResolveUtteranceLocation(ctx, in.LastKnownLocation)
		if err == nil {
			location = fallback
		}
	}

	query := rewriter.Compose(in.Utterance, result.Intent, location)

	retrieved, err := r.retrieval.Retrieve(ctx, query, retrieval.Options{Location: location.Location})
	if err != nil {
		return Answer{}, Effects{}, err
	}

	band := classifier.Band(result.Confidence)

	var answer Answer
	switch band {
	case "high":
		answer = Answer{Text: retrieved.VoiceResponse, SMSBody: retrieved.SMSResponse, Intent: result.Intent, Confidence: result.Confidence}
	case "medium", "low":
		text, err := r.completeWithContext(ctx, in.Utterance, retrieved)
		if err != nil {
			return Answer{}, Effects{}, err
		}
		answer = Answer{Text: text, SMSBody: retrieved.SMSResponse, Intent: result.Intent, Confidence: result.Confidence}
	default:
		text, err := r.completeWithoutContext(ctx, in.Utterance)
		if err != nil {
			return Answer{}, Effects{}, err
		}
		answer = Answer{Text: text, Intent: result.Intent, Confidence: result.Confidence}
	}

	effects := Effects{}
	if len(retrieved.Results) > 0 {
		effects.SetContext = &session.QueryContext{
			Intent:    result.Intent,
			Query:     query,
			Location:  location.Location,
			Results:   retrieved.Results,
			Timestamp: in.Now,
		}
	}
	if location.Location != "" {
		effects.LastKnownLocation = location.Location
	}
	return answer, effects, nil
}

func (r *Router) completeWithContext(ctx context.Context, utterance string, retrieved retrieval.PresentableAnswer) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := r.chat.Complete(ctx, upstream.ChatRequest{
		Model: r.model,
		System: []string{
			"You are a calm, trauma-informed crisis-line assistant. Use the retrieved information below to answer the caller's question in one or two short spoken sentences.",
			"Retrieved answer: " + retrieved.VoiceResponse,
		},
		Messages:  []upstream.ChatMessage{{Role: upstream.ChatRoleUser, Content: utterance}},
		MaxTokens: 200,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (r *Router) completeWithoutContext(ctx context.Context, utterance string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := r.chat.Complete(ctx, upstream.ChatRequest{
		Model:     r.model,
		System:    []string{"You are a calm, trauma-informed crisis-line assistant. Respond in one or two short spoken sentences."},
		Messages:  []upstream.ChatMessage{{Role: upstream.ChatRoleUser, Content: utterance}},
		MaxTokens: 200,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// fallback implements spec.md §4.6 step 7: any branch failure falls
// back to LLM generation without retrieved context.
func (r *Router) fallback(ctx context.Context, in Input, reason string) (Answer, Effects, error) {
	if r.stats != nil {
		r.stats.ObserveFallback(reason)
	}
	text, err := r.completeWithoutContext(ctx, in.Utterance)
	if err != nil {
		return Answer{}, Effects{}, err
	}
	return Answer{Text: text, Fallback: true, FallbackReason: reason}, Effects{}, nil
}

func (r *Router) cacheResponse(key string, answer Answer) {
	if r.responses == nil {
		return
	}
	r.responses.Put(key, answer)
}
