// Package followup recognizes and answers follow-up utterances against
// the caller's most recent QueryContext, per spec.md §4.7.
package followup

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/shelterline/relay/internal/retrieval"
	"github.com/shelterline/relay/internal/session"
	"github.com/shelterline/relay/internal/upstream"
)

// ReplyKind enumerates the typed follow-up replies of spec.md §4.7 step 3.
type ReplyKind string

const (
	ReplySendDetails     ReplyKind = "send_details"
	ReplyLocationInfo    ReplyKind = "location_info"
	ReplyPhoneInfo       ReplyKind = "phone_info"
	ReplySpecificResult  ReplyKind = "specific_result"
	ReplyDetailedInfo    ReplyKind = "detailed_info"
	ReplyGeneralFollowUp ReplyKind = "general_follow_up"
)

// Reply is the engine's answer to a recognized follow-up.
type Reply struct {
	Kind           ReplyKind
	Text           string
	MatchedTitle   string
	PromiseSMSBody string
}

var cueWords = []string{
	"more", "details", "information", "about",
	"first", "second", "third",
	"that", "this", "the one", "it", "them",
}

// cueWordRe matches any cue word as a whole word, so "it" does not fire
// inside "capital".
var cueWordRe = regexp.MustCompile(`\b(` + strings.Join(cueWords, "|") + `)\b`)

var sendCues = []string{"send", "text", "email"}
var locationCues = []string{"address", "located", "location", "where"}
var phoneCues = []string{"phone", "number", "call"}

const followUpYesNoPrompt = `Does this utterance ask a follow-up question about something already discussed? Reply with JSON only: {"followUp": true} or {"followUp": false}.

Utterance: %s`

// Engine implements the follow-up recognition and reply algorithm.
type Engine struct {
	chat upstream.Chat
}

// New constructs an Engine. chat may be nil, in which case recognition
// relies solely on the cue-word set.
func New(chat upstream.Chat) *Engine {
	return &Engine{chat: chat}
}

// Detect implements spec.md §4.7's recognition test: a non-expired
// QueryContext must exist, and either a cue word is present or the LLM
// yes/no path asserts follow-up.
func (e *Engine) Detect(ctx context.Context, utterance string, qc *session.QueryContext, now time.Time) bool {
	if qc.Expired(now) {
		return false
	}
	normalized := strings.ToLower(utterance)
	if cueWordRe.MatchString(normalized) {
		return true
	}
	if e.chat == nil {
		return false
	}
	return e.askLLMFollowUp(ctx, utterance)
}

// Handle runs steps 1-4 of spec.md §4.7 against a recognized follow-up,
// returning the typed reply and the refreshed QueryContext.
func (e *Engine) Handle(utterance string, qc *session.QueryContext, now time.Time) (Reply, *session.QueryContext) {
	normalized := strings.ToLower(utterance)
	target := extractFocusTarget(utterance)
	matched, matchedTitle := fuzzyMatch(target, qc.Results)

	reply := buildReply(normalized, matched, matchedTitle, qc)

	refreshed := *qc
	refreshed.Timestamp = now
	if matchedTitle != "" {
		refreshed.FocusResultTitle = matchedTitle
	}
	return reply, &refreshed
}

func buildReply(normalized string, matched bool, matchedTitle string, qc *session.QueryContext) Reply {
	switch {
	case containsAny(normalized, sendCues):
		return Reply{Kind: ReplySendDetails, Text: "I'll text you those details now.", PromiseSMSBody: buildAggregateSMSBody(qc)}
	case containsAny(normalized, locationCues):
		return Reply{Kind: ReplyLocationInfo, Text: locationInfoText(matched, matchedTitle, qc), MatchedTitle: matchedTitle}
	case containsAny(normalized, phoneCues):
		return Reply{Kind: ReplyPhoneInfo, Text: phoneInfoText(matched, matchedTitle, qc), MatchedTitle: matchedTitle}
	case matched:
		reply := Reply{Kind: ReplySpecificResult, Text: specificResultText(matchedTitle, qc), MatchedTitle: matchedTitle}
		if r, ok := findResult(matchedTitle, qc); ok {
			reply.PromiseSMSBody = buildResultSMSBody(r)
		}
		return reply
	case containsAny(normalized, []string{"more", "details", "information"}):
		return Reply{Kind: ReplyDetailedInfo, Text: detailedInfoText(qc)}
	default:
		return Reply{Kind: ReplyGeneralFollowUp, Text: generalFollowUpText(qc)}
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

var capitalizedPhraseRe = regexp.MustCompile(`\b([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*)\b`)
var ordinalRe = regexp.MustCompile(`(?i)\b(first|second|third)\b`)

// extractFocusTarget implements spec.md §4.7 step 1.
func extractFocusTarget(utterance string) string {
	if m := ordinalRe.FindString(utterance); m != "" {
		return m
	}
	if m := capitalizedPhraseRe.FindString(utterance); m != "" {
		return m
	}
	lower := strings.ToLower(utterance)
	for _, demonstrative := range []string{"that", "this", "the one", "it"} {
		if strings.Contains(lower, demonstrative) {
			return demonstrative
		}
	}
	return utterance
}

var ordinalIndex = map[string]int{"first": 0, "second": 1, "third": 2}

// fuzzyMatch implements spec.md §4.7 step 2.
func fuzzyMatch(target string, results []retrieval.Result) (bool, string) {
	if idx, ok := ordinalIndex[strings.ToLower(target)]; ok && idx < len(results) {
		return true, results[idx].Title
	}

	best := 0.0
	bestTitle := ""
	for _, r := range results {
		score := similarity(target, r.Title)*0.6 + similarity(target, r.Content)*0.3 + similarity(target, r.URL)*0.1
		if score > best {
			best = score
			bestTitle = r.Title
		}
	}
	if best >= 0.3 {
		return true, bestTitle
	}
	return false, ""
}

func similarity(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.9
	}
	return wordOverlapRatio(a, b)
}

func wordOverlapRatio(a, b string) float64 {
	aWords := strings.Fields(a)
	bWords := map[string]bool{}
	for _, w := range strings.Fields(b) {
		bWords[w] = true
	}
	if len(aWords) == 0 {
		return 0
	}
	matches := 0
	for _, w := range aWords {
		if bWords[w] {
			matches++
		}
	}
	ratio := float64(matches) / float64(len(aWords))
	if ratio > 0.8 {
		ratio = 0.8
	}
	return ratio
}

func (e *Engine) askLLMFollowUp(ctx context.Context, utterance string) bool {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	resp, err := e.chat.Complete(ctx, upstream.ChatRequest{
		Messages:  []upstream.ChatMessage{{Role: upstream.ChatRoleUser, Content: strings.Replace(followUpYesNoPrompt, "%s", utterance, 1)}},
		MaxTokens: 20,
	})
	if err != nil {
		return false
	}

	var parsed struct {
		FollowUp bool `json:"followUp"`
	}
	content := strings.TrimSpace(resp.Text)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return false
	}
	return parsed.FollowUp
}
