package retrieval

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shelterline/relay/internal/upstream"
)

// shelterKeywords is the fixed keyword set of spec.md §4.5 step 3: a
// result survives filtering only if one of these appears in its title,
// url, or content.
var shelterKeywords = []string{
	"shelter", "domestic violence", "safe house", "dv ", "abuse",
	"crisis center", "women's center", "family violence",
}

// genericGuideRe matches generic "city guide" / listicle pages that are
// not actual shelter listings.
var genericGuideRe = regexp.MustCompile(`(?i)(things to do|best restaurants|visitor'?s? guide|city guide|travel guide)`)

func filterResults(raw []upstream.SearchResult, blocked []string) []upstream.SearchResult {
	out := make([]upstream.SearchResult, 0, len(raw))
	for _, r := range raw {
		if r.Score < 0.5 {
			continue
		}
		if isBlockedDomain(r.URL, blocked) {
			continue
		}
		if matchesGenericGuide(r.Title, r.URL) {
			continue
		}
		if !containsShelterKeyword(r.Title, r.URL, r.Content) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func isBlockedDomain(rawURL string, blocked []string) bool {
	lower := strings.ToLower(rawURL)
	for _, domain := range blocked {
		if domain != "" && strings.Contains(lower, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

func matchesGenericGuide(title, url string) bool {
	return genericGuideRe.MatchString(title + " " + url)
}

func containsShelterKeyword(title, url, content string) bool {
	haystack := strings.ToLower(title + " " + url + " " + content)
	for _, kw := range shelterKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

func extract(raw []upstream.SearchResult) []Result {
	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		phones := extractPhones(r.Content)
		addrs := extractAddresses(r.Content)
		out = append(out, Result{
			Title:           cleanTitle(r.Title),
			URL:             r.URL,
			Content:         r.Content,
			Score:           r.Score,
			ExtractedPhones: phones,
			ExtractedAddrs:  addrs,
			HasContactInfo:  len(phones) > 0 || len(addrs) > 0,
		})
	}
	return out
}

func rankAndTrim(results []Result, max int) []Result {
	sorted := make([]Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if max <= 0 {
		max = 3
	}
	if len(sorted) > max {
		sorted = sorted[:max]
	}
	return sorted
}
