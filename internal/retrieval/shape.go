package retrieval

import (
	"fmt"
	"regexp"
	"strings"
)

const nationalHotlineLine = "You can also call the National Domestic Violence Hotline 24/7 at 1-800-799-7233."

// phoneRe matches US phone numbers in common separator styles.
var phoneRe = regexp.MustCompile(`(\d{3})[-.\s]?(\d{3})[-.\s]?(\d{4})`)

// normalizePhone implements spec.md §4.5 phone normalization: the first
// regex match becomes NNN-NNN-NNNN, else "Not available".
func normalizePhone(text string) string {
	m := phoneRe.FindStringSubmatch(text)
	if m == nil {
		return "Not available"
	}
	return fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])
}

func extractPhones(content string) []string {
	matches := phoneRe.FindAllString(content, -1)
	phones := make([]string, 0, len(matches))
	for _, m := range matches {
		phones = append(phones, normalizePhone(m))
	}
	return phones
}

// addressRe matches a US-style street address followed by city, state, zip.
var addressRe = regexp.MustCompile(`(?i)\d+\s+[A-Za-z0-9.'\s]+(?:St|Street|Ave|Avenue|Blvd|Boulevard|Rd|Road|Dr|Drive|Ln|Lane|Way|Pl|Place),?\s+[A-Za-z.\s]+,\s*[A-Z]{2}\s*\d{5}`)

func extractAddresses(content string) []string {
	return addressRe.FindAllString(content, -1)
}

var (
	bracketTagRe = regexp.MustCompile(`^\s*\[[^\]]*\]\s*`)
	// trailingSiteRe matches a trailing " - <site>" segment only when that
	// segment itself looks like a domain (word.tld), not any " - " separated
	// text, so a title with multiple " - " separators (e.g. "Shelter - Travis
	// County - example.org") strips just the site and stays stable on reapply.
	trailingSiteRe = regexp.MustCompile(`(?i)\s*[-–]\s*(?:www\.)?[a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,}\s*$`)
)

// cleanTitle implements spec.md §4.5 title cleanup, a pure idempotent
// function: strip leading bracketed tags, strip a trailing " - <site>",
// truncate to 80 chars, fall back to "Unknown Organization" when empty.
func cleanTitle(title string) string {
	cleaned := bracketTagRe.ReplaceAllString(title, "")
	cleaned = trailingSiteRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > 80 {
		cleaned = strings.TrimSpace(cleaned[:80])
	}
	if cleaned == "" {
		return "Unknown Organization"
	}
	return cleaned
}

func buildVoiceResponse(location string, titles []string) string {
	if len(titles) == 0 {
		return fmt.Sprintf("I couldn't find any shelters in %s. Would you like to try a different location?", locationOrDefault(location))
	}
	switch len(titles) {
	case 1:
		return fmt.Sprintf("I found a shelter in %s: %s. How else can I help you today?", locationOrDefault(location), titles[0])
	case 2:
		return fmt.Sprintf("I found 2 shelters in %s: %s and %s. How else can I help you today?", locationOrDefault(location), titles[0], titles[1])
	case 3:
		return fmt.Sprintf("I found 3 shelters in %s: %s, %s, and %s. How else can I help you today?", locationOrDefault(location), titles[0], titles[1], titles[2])
	default:
		return fmt.Sprintf("I found %d shelters in %s including %s and %s. How else can I help you today?", len(titles), locationOrDefault(location), titles[0], titles[1])
	}
}

func locationOrDefault(location string) string {
	if strings.TrimSpace(location) == "" {
		return "your area"
	}
	return location
}

func buildSMSResponse(results []Result) string {
	if len(results) == 0 {
		return emptySMSResponse()
	}
	var b strings.Builder
	for i, r := range results {
		phone := "Not available"
		if len(r.ExtractedPhones) > 0 {
			phone = r.ExtractedPhones[0]
		}
		addr := ""
		if len(r.ExtractedAddrs) > 0 {
			addr = r.ExtractedAddrs[0]
		}
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, r.Title))
		if addr != "" {
			b.WriteString(fmt.Sprintf("   Address: %s\n", addr))
		}
		b.WriteString(fmt.Sprintf("   Phone: %s\n", phone))
		b.WriteString(fmt.Sprintf("   %s\n\n", r.URL))
	}
	b.WriteString(nationalHotlineLine)
	return b.String()
}

func emptySMSResponse() string {
	return nationalHotlineLine
}

func buildWebResponse(results []Result) string {
	if len(results) == 0 {
		return "No shelters found."
	}
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Title)
	}
	return fmt.Sprintf("Found %d shelters: %s", len(results), strings.Join(names, ", "))
}
