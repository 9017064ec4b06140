package classifier

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shelterline/relay/internal/cache"
	"github.com/shelterline/relay/internal/stats"
	"github.com/shelterline/relay/internal/upstream"
)

const classificationPrompt = `Classify this utterance into exactly one of these intents. Respond with JSON only.

Intents:
- find_shelter: looking for a domestic violence shelter or safe house
- legal_services: looking for a lawyer, attorney, or protective/restraining order help
- counseling_services: looking for counseling, therapy, or a support group
- emergency_help: in immediate danger or asking for emergency services
- general_information: asking general questions about available help
- other_resources: food, financial, job, or other non-shelter resources
- end_conversation: trying to end the call
- off_topic: unrelated to domestic violence support

Utterance: %s

Respond with: {"intent": "<intent_name>"}`

// Classifier maps utterances to intents per spec.md §4.3.
type Classifier struct {
	cache *cache.Cache[Result]
	chat  upstream.Chat
	model string
	stats *stats.Stats
}

// New constructs a Classifier. chat may be nil, in which case the
// ambiguous-utterance LLM tie-break (step 5) is skipped.
func New(c *cache.Cache[Result], chat upstream.Chat, model string, st *stats.Stats) *Classifier {
	return &Classifier{cache: c, chat: chat, model: model, stats: st}
}

// Classify runs the full algorithm of spec.md §4.3: normalize, cache
// lookup, weighted-table scoring, optional LLM tie-break, cache write.
func (c *Classifier) Classify(ctx context.Context, utterance string) (Result, error) {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if normalized == "" {
		return Result{Intent: IntentOffTopic, Confidence: 0}, nil
	}

	_, hit := c.cache.Get(normalized)
	result, err := c.cache.GetOrCompute(ctx, normalized, func(ctx context.Context) (Result, error) {
		return c.classifyUncached(ctx, normalized)
	})
	if c.stats != nil {
		c.stats.ObserveCache("classifier", hit)
	}
	return result, err
}

func (c *Classifier) classifyUncached(ctx context.Context, normalized string) (Result, error) {
	result := scoreTable(normalized)

	ambiguous := result.Confidence < BandLow || containsDeictic(normalized)
	if ambiguous && c.chat != nil {
		if tieBroken, ok := c.tieBreak(ctx, normalized); ok {
			result.Intent = tieBroken
		}
	}

	return result, nil
}

func scoreTable(normalized string) Result {
	scores := map[string]float64{}
	var matches []Match
	for _, p := range weightedPatterns {
		if p.pattern.MatchString(normalized) {
			scores[p.category] += p.weight
			matches = append(matches, Match{Category: p.category, Pattern: p.pattern.String(), Weight: p.weight})
		}
	}

	if len(scores) == 0 {
		return Result{Intent: IntentOffTopic, Confidence: 0, Matches: nil}
	}

	dominantCategory := ""
	dominantScore := -1.0
	largestSingleWeight := map[string]float64{}
	for _, m := range matches {
		if m.Weight > largestSingleWeight[m.Category] {
			largestSingleWeight[m.Category] = m.Weight
		}
	}
	for category, score := range scores {
		if score > dominantScore {
			dominantScore = score
			dominantCategory = category
		} else if score == dominantScore && largestSingleWeight[category] > largestSingleWeight[dominantCategory] {
			dominantCategory = category
		}
	}

	intent, ok := categoryIntent[dominantCategory]
	if !ok {
		intent = IntentOffTopic
	}

	confidence := dominantScore / 20
	if confidence > 1.0 {
		confidence = 1.0
	}

	return Result{Intent: intent, Confidence: confidence, Matches: matches}
}

func containsDeictic(normalized string) bool {
	for _, word := range deicticWords {
		if strings.Contains(normalized, word) {
			return true
		}
	}
	return false
}

func (c *Classifier) tieBreak(ctx context.Context, normalized string) (Intent, bool) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	resp, err := c.chat.Complete(ctx, upstream.ChatRequest{
		Model:     c.model,
		Messages:  []upstream.ChatMessage{{Role: upstream.ChatRoleUser, Content: classificationPromptFor(normalized)}},
		MaxTokens: 40,
	})
	if err != nil {
		return "", false
	}

	var parsed struct {
		Intent string `json:"intent"`
	}
	content := extractJSONObject(resp.Text)
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", false
	}

	intent := Intent(parsed.Intent)
	if !isKnownIntent(intent) {
		return "", false
	}
	return intent, true
}

func classificationPromptFor(utterance string) string {
	return strings.Replace(classificationPrompt, "%s", utterance, 1)
}

func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func isKnownIntent(i Intent) bool {
	switch i {
	case IntentFindShelter, IntentLegalServices, IntentCounselingServices, IntentEmergencyHelp,
		IntentGeneralInformation, IntentOtherResources, IntentEndConversation, IntentOffTopic:
		return true
	default:
		return false
	}
}
