// Package summary generates the short end-of-call conversation summary
// written to the audit log as the call's outcome, per spec.md §4.8's
// "on any Ended" step. The end-of-call SMS does not carry it; that SMS
// carries the last SMS text offered during the call.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/shelterline/relay/internal/session"
	"github.com/shelterline/relay/internal/upstream"
)

const prompt = `Summarize this crisis-line call in two sentences or fewer, suitable for a caller's own records: what they asked for and what was offered. Do not include phone numbers or addresses verbatim; refer to resources by name only.

Transcript:
%s`

// Generator produces a short conversation summary via an LLM. It
// implements dialog.SummaryGenerator.
type Generator struct {
	chat  upstream.Chat
	model string
}

// New constructs a Generator. chat must not be nil; callers that want
// to skip summarization entirely should pass an untyped nil
// SummaryGenerator to dialog.New instead of constructing one (a nil
// *Generator in the interface is non-nil and would be called).
func New(chat upstream.Chat, model string) *Generator {
	return &Generator{chat: chat, model: model}
}

// Complete renders history as a transcript and asks the model for a
// short summary.
func (g *Generator) Complete(ctx context.Context, history []session.Turn) (string, error) {
	resp, err := g.chat.Complete(ctx, upstream.ChatRequest{
		Messages:  []upstream.ChatMessage{{Role: upstream.ChatRoleUser, Content: fmt.Sprintf(prompt, renderTranscript(history))}},
		Model:     g.model,
		MaxTokens: 120,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func renderTranscript(history []session.Turn) string {
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
	}
	return b.String()
}
