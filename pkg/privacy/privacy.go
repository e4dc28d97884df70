// Package privacy implements the personal-data probe used by the policy
// engine's data-protection rule: detection of emails, phone numbers,
// government identifiers and postal addresses in free text, plus redaction.
package privacy

import (
	"regexp"
)

// FindingKind classifies a detected personal-data token.
type FindingKind string

const (
	FindingEmail        FindingKind = "email"
	FindingPhone        FindingKind = "phone"
	FindingGovernmentID FindingKind = "government_id"
	FindingAddress      FindingKind = "address"
)

// Finding is one detected personal-data token.
type Finding struct {
	Kind  FindingKind `json:"kind"`
	Match string      `json:"match"`
}

// Probe detects personal-data tokens in free text.
type Probe struct {
	emailRegex   *regexp.Regexp
	phoneRegex   *regexp.Regexp
	govIDRegex   *regexp.Regexp
	addressRegex *regexp.Regexp
}

// NewProbe returns a probe with the standard detection patterns compiled.
func NewProbe() *Probe {
	return &Probe{
		emailRegex: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		// NANP and international shapes with separators, 7+ digits total.
		phoneRegex: regexp.MustCompile(`(?:\+\d{1,3}[ .-]?)?(?:\(\d{2,4}\)[ .-]?)?\d{3}[ .-]\d{3,4}(?:[ .-]\d{2,4})?`),
		// SSN-style triples plus two-letter national id prefixes.
		govIDRegex:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b[A-Z]{2}\d{6,9}\b`),
		addressRegex: regexp.MustCompile(`(?i)\b\d{1,5} [A-Za-z0-9. ]{2,40} (?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|place|pl)\b`),
	}
}

// Scan returns every personal-data token found in text. Government ids are
// matched before phone numbers so an SSN is not double-reported.
func (p *Probe) Scan(text string) []Finding {
	var findings []Finding
	add := func(kind FindingKind, matches []string) {
		for _, m := range matches {
			findings = append(findings, Finding{Kind: kind, Match: m})
		}
	}

	add(FindingGovernmentID, p.govIDRegex.FindAllString(text, -1))
	add(FindingEmail, p.emailRegex.FindAllString(text, -1))

	remainder := p.govIDRegex.ReplaceAllString(text, "")
	remainder = p.emailRegex.ReplaceAllString(remainder, "")
	add(FindingPhone, p.phoneRegex.FindAllString(remainder, -1))

	add(FindingAddress, p.addressRegex.FindAllString(text, -1))
	return findings
}

// Contains reports whether text holds any personal-data token.
func (p *Probe) Contains(text string) bool {
	return len(p.Scan(text)) > 0
}

// Scrub redacts every detected token, replacing it with a kind marker.
func (p *Probe) Scrub(text string) string {
	text = p.emailRegex.ReplaceAllString(text, "[REDACTED_EMAIL]")
	text = p.govIDRegex.ReplaceAllString(text, "[REDACTED_GOV_ID]")
	text = p.phoneRegex.ReplaceAllString(text, "[REDACTED_PHONE]")
	text = p.addressRegex.ReplaceAllString(text, "[REDACTED_ADDRESS]")
	return text
}
