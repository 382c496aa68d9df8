// Package org derives organization names from email addresses and profile headlines.
package org

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/codeGROOVE-dev/visitorid/pkg/lists"
	"github.com/codeGROOVE-dev/visitorid/pkg/textmatch"
)

// minNotableLen guards substring matching so short names like "IT" do not match everything.
const minNotableLen = 3

var (
	// "Software Engineer at Google | Mountain View" -> "Google".
	atPattern = regexp.MustCompile(`(?i)\s+at\s+(.+?)(?:\s*[|·\-–]|$)`)
	// "Senior PM - Microsoft" or "Senior PM – Microsoft" -> "Microsoft".
	dashPattern = regexp.MustCompile(`\s+[-–]\s+(.+?)$`)
)

// Extractor derives organizations using the personal-domain matcher and the notable allow-list.
type Extractor struct {
	matcher *textmatch.Matcher
	notable []string
}

// New creates an Extractor.
func New(matcher *textmatch.Matcher, t lists.Tables) *Extractor {
	e := &Extractor{matcher: matcher}
	for _, n := range t.NotableOrganizations {
		if n = strings.TrimSpace(n); n != "" {
			e.notable = append(e.notable, n)
		}
	}
	return e
}

// FromEmail returns the organization implied by an email's domain
// ("john@acme.com" -> "Acme"), or "" for personal providers and malformed input.
func (e *Extractor) FromEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	domain := strings.ToLower(email[at+1:])
	if domain == "" || e.matcher.IsPersonalDomain(domain) {
		return ""
	}
	label, _, _ := strings.Cut(domain, ".")
	return titleCase(label)
}

// FromHeadline extracts the organization from a LinkedIn-style headline, or "".
func FromHeadline(headline string) string {
	headline = strings.TrimSpace(headline)
	if headline == "" {
		return ""
	}
	if m := atPattern.FindStringSubmatch(headline); m != nil {
		if org := strings.TrimSpace(m[1]); org != "" {
			return org
		}
	}
	if m := dashPattern.FindStringSubmatch(headline); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// IsNotable reports whether name is on the notable allow-list.
func (e *Extractor) IsNotable(name string) bool {
	return e.match(name) != ""
}

// NotableName returns the allow-list entry for the headline's organization,
// falling back to emailOrg. Returns "" when neither is notable.
func (e *Extractor) NotableName(headline, emailOrg string) string {
	if n := e.match(FromHeadline(headline)); n != "" {
		return n
	}
	return e.match(emailOrg)
}

func (e *Extractor) match(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	for _, n := range e.notable {
		if strings.ToLower(n) == name {
			return n
		}
	}
	if len(name) < minNotableLen {
		return ""
	}
	for _, n := range e.notable {
		ln := strings.ToLower(n)
		if len(ln) < minNotableLen {
			continue
		}
		if textmatch.ContainsWord(name, ln) || textmatch.ContainsWord(ln, name) {
			return n
		}
	}
	return ""
}

func titleCase(s string) string {
	prev := '-'
	return strings.Map(func(r rune) rune {
		out := r
		if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			out = unicode.ToUpper(r)
		}
		prev = r
		return out
	}, s)
}
