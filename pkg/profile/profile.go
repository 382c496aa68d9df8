// Package profile defines the common types for visitor identity resolution.
package profile

import (
	"errors"
	"strings"
)

// Common errors shared across packages.
var (
	ErrInvalidName     = errors.New("first or last name required")
	ErrProfileNotFound = errors.New("profile not found")
	ErrRateLimited     = errors.New("rate limited")
)

// Resolution sources that are not backend names.
const (
	SourceUserProvided = "user_provided"
	SourceExhausted    = "all_exhausted"
	SourceNone         = "none"
)

// PersonName is a visitor's name split into parts. Middle is optional.
type PersonName struct {
	First  string `json:"first_name"`
	Middle string `json:"middle_name,omitempty"`
	Last   string `json:"last_name"`
}

// Normalize returns a copy with surrounding whitespace trimmed from every part.
func (n PersonName) Normalize() PersonName {
	return PersonName{
		First:  strings.TrimSpace(n.First),
		Middle: strings.TrimSpace(n.Middle),
		Last:   strings.TrimSpace(n.Last),
	}
}

// Valid reports whether there is enough of a name to search for.
func (n PersonName) Valid() bool {
	n = n.Normalize()
	return n.First != "" || n.Last != ""
}

// Short returns "First Last", skipping empty parts.
func (n PersonName) Short() string {
	return join(n.First, n.Last)
}

// Full returns "First Middle Last", skipping empty parts.
func (n PersonName) Full() string {
	return join(n.First, n.Middle, n.Last)
}

func join(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// LocationHint is an optional geographic signal, usually from IP geolocation.
type LocationHint struct {
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}

// Empty reports whether the hint carries no information.
func (l LocationHint) Empty() bool {
	return l.City == "" && l.Region == "" && l.Country == ""
}

// Candidate is a raw profile reference returned by a search backend.
// Candidates are never persisted.
type Candidate struct {
	ProfileURL  string // Profile URL as returned by the backend
	Title       string // Result title, used to derive the headline
	DisplayText string // Title and snippet concatenated, used for scoring
	Backend     string // Name of the backend that produced it
}

// Scored is a Candidate annotated with its match score.
type Scored struct {
	Candidate

	Score int
}

// Resolved is the outcome of a profile resolution attempt.
// The zero value is a valid not-found result with no source.
type Resolved struct {
	URL                      string `json:"url,omitempty"`
	Headline                 string `json:"headline,omitempty"`
	OrganizationFromHeadline string `json:"organization_from_headline,omitempty"`
	Source                   string `json:"source"`
	MatchScore               int    `json:"match_score,omitempty"`
	Found                    bool   `json:"found"`
}

// NotFound returns a negative result attributed to source.
func NotFound(source string) Resolved {
	return Resolved{Source: source}
}
