// Package rewriter turns a classified utterance into a plain search
// string per spec.md §4.4.
package rewriter

import (
	"context"
	"fmt"
	"strings"

	"github.com/shelterline/relay/internal/classifier"
	"github.com/shelterline/relay/internal/upstream"
)

// SessionContext carries the subset of session state the rewriter reads.
type SessionContext struct {
	LastLocation string
}

// Rewriter resolves a location and shapes a search string for the
// retrieval pipeline.
type Rewriter struct {
	geocode upstream.Geocode
}

// New constructs a Rewriter.
func New(geocode upstream.Geocode) *Rewriter {
	return &Rewriter{geocode: geocode}
}

// Rewrite implements spec.md §4.4 steps 1-4. It returns the rewritten
// query string and the resolved GeocodeResult (zero value if none
// resolved), so callers can update session.lastLocation.
func (r *Rewriter) Rewrite(ctx context.Context, utterance string, intent classifier.Intent, session SessionContext) (string, upstream.GeocodeResult, error) {
	location, err := r.ResolveLocation(ctx, utterance, session)
	if err != nil {
		return "", upstream.GeocodeResult{}, err
	}
	return Compose(utterance, intent, location), location, nil
}

// Compose implements spec.md §4.4 steps 2-4 as a pure function of the
// utterance, intent, and an already-resolved location. Callers that
// resolve location concurrently with classification (spec.md §4.6 step
// 6) use this directly instead of Rewrite.
func Compose(utterance string, intent classifier.Intent, location upstream.GeocodeResult) string {
	// Step 4 takes priority: a resolved non-US location is returned
	// verbatim with no other enrichment, regardless of intent.
	if location.Location != "" && !location.IsUS {
		return location.Location
	}

	query := strings.TrimSpace(utterance)

	switch intent {
	case classifier.IntentFindShelter:
		query = "domestic violence shelter"
		if location.Location != "" {
			query += " near " + location.Location
			query += " site:org OR site:gov -site:wikipedia.org -filetype:pdf"
		}
	case classifier.IntentGeneralInformation:
		query = appendClause(query, "information resources guide")
	case classifier.IntentOtherResources:
		query = appendClause(query, "support resources assistance")
	case classifier.IntentEmergencyHelp:
		query = appendClause(query, "24/7 hotline immediate assistance")
	}

	return query
}

// ResolveLocation implements spec.md §4.4 step 1 alone, so callers can
// fire it concurrently with classification.
func (r *Rewriter) ResolveLocation(ctx context.Context, utterance string, session SessionContext) (upstream.GeocodeResult, error) {
	result, err := r.ResolveUtteranceLocation(ctx, utterance)
	if err != nil {
		return upstream.GeocodeResult{}, err
	}
	if result.Location != "" {
		return result, nil
	}

	if session.LastLocation == "" {
		return upstream.GeocodeResult{}, nil
	}
	return r.ResolveUtteranceLocation(ctx, session.LastLocation)
}

// ResolveUtteranceLocation resolves a location from the utterance text
// alone, with no session fallback. Callers that must distinguish "no
// location mentioned" from "resolved via session memory" (spec.md §4.6
// step 5's confirmation branch) use this instead of ResolveLocation.
func (r *Rewriter) ResolveUtteranceLocation(ctx context.Context, utterance string) (upstream.GeocodeResult, error) {
	if r.geocode == nil {
		return upstream.GeocodeResult{}, nil
	}
	return r.geocode.Resolve(ctx, utterance)
}

func appendClause(query, clause string) string {
	return fmt.Sprintf("%s %s", strings.TrimSpace(query), clause)
}
