package followup

import (
	"fmt"
	"strings"

	"github.com/shelterline/relay/internal/retrieval"
	"github.com/shelterline/relay/internal/session"
)

func findResult(title string, qc *session.QueryContext) (retrieval.Result, bool) {
	for _, r := range qc.Results {
		if r.Title == title {
			return r, true
		}
	}
	return retrieval.Result{}, false
}

func locationInfoText(matched bool, title string, qc *session.QueryContext) string {
	if matched {
		if r, ok := findResult(title, qc); ok && len(r.ExtractedAddrs) > 0 {
			return fmt.Sprintf("%s is located at %s.", r.Title, r.ExtractedAddrs[0])
		}
	}
	return aggregateAddresses(qc)
}

func phoneInfoText(matched bool, title string, qc *session.QueryContext) string {
	if matched {
		if r, ok := findResult(title, qc); ok && len(r.ExtractedPhones) > 0 {
			return fmt.Sprintf("The phone number for %s is %s.", r.Title, r.ExtractedPhones[0])
		}
	}
	return aggregatePhones(qc)
}

func specificResultText(title string, qc *session.QueryContext) string {
	r, ok := findResult(title, qc)
	if !ok {
		return generalFollowUpText(qc)
	}
	return fmt.Sprintf("Here's what I found about %s: %s Would you like me to send you the complete details?", r.Title, capabilitySummary(r))
}

func capabilitySummary(r retrieval.Result) string {
	content := strings.ToLower(r.Content)
	switch {
	case strings.Contains(content, "24/7") || strings.Contains(content, "24-hour"):
		return "offers 24/7 support."
	case strings.Contains(content, "children") || strings.Contains(content, "kids"):
		return "accommodates families with children."
	case strings.Contains(content, "confidential") || strings.Contains(content, "anonymous"):
		return "offers confidential services."
	default:
		return "provides shelter and support services."
	}
}

func detailedInfoText(qc *session.QueryContext) string {
	n := len(qc.Results)
	if n > 3 {
		n = 3
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		r := qc.Results[i]
		b.WriteString(fmt.Sprintf("%s: %s. ", r.Title, capabilitySummary(r)))
	}
	return strings.TrimSpace(b.String())
}

func generalFollowUpText(qc *session.QueryContext) string {
	n := len(qc.Results)
	if n > 3 {
		n = 3
	}
	titles := make([]string, 0, n)
	for i := 0; i < n; i++ {
		titles = append(titles, qc.Results[i].Title)
	}
	return strings.Join(titles, ", ")
}

func aggregateAddresses(qc *session.QueryContext) string {
	for _, r := range qc.Results {
		if len(r.ExtractedAddrs) > 0 {
			return fmt.Sprintf("%s is located at %s.", r.Title, r.ExtractedAddrs[0])
		}
	}
	return "I don't have an address on file for that one."
}

func aggregatePhones(qc *session.QueryContext) string {
	for _, r := range qc.Results {
		if len(r.ExtractedPhones) > 0 {
			return fmt.Sprintf("The phone number for %s is %s.", r.Title, r.ExtractedPhones[0])
		}
	}
	return "I don't have a phone number on file for that one."
}

func buildAggregateSMSBody(qc *session.QueryContext) string {
	var b strings.Builder
	for i, r := range qc.Results {
		b.WriteString(fmt.Sprintf("%d. %s - %s\n", i+1, r.Title, r.URL))
	}
	return strings.TrimSpace(b.String())
}

func buildResultSMSBody(r retrieval.Result) string {
	return fmt.Sprintf("%s - %s", r.Title, r.URL)
}
