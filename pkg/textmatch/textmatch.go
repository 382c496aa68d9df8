// Package textmatch provides edit distance and personal email domain detection.
package textmatch

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/codeGROOVE-dev/visitorid/pkg/lists"
)

// DefaultMaxTypoDistance is how far a domain label may be from a provider name
// and still count as a misspelling of it.
const DefaultMaxTypoDistance = 2

// minFuzzyLen keeps short provider names such as "aol" out of fuzzy matching,
// where a distance of 2 would cover most three and four letter labels.
const minFuzzyLen = 5

// EditDistance returns the Levenshtein distance between a and b.
// Insertions, deletions and substitutions each cost 1. Comparison is exact;
// callers lower-case when they want case-insensitive results.
func EditDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// ContainsWord reports whether needle occurs in s on word boundaries,
// so "mit" matches "MIT CSAIL" but not "Smith & Co". Comparison is exact.
func ContainsWord(s, needle string) bool {
	if needle == "" {
		return false
	}
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], needle)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(needle)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		i = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(s string, i int) bool {
	if i <= 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

// Matcher recognizes personal (non-organizational) email domains.
type Matcher struct {
	personal      map[string]bool
	typos         map[string]bool
	institutional []string
	providers     []string
	maxDistance   int
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithMaxTypoDistance sets the edit distance at which a label is treated as a provider typo.
func WithMaxTypoDistance(d int) Option {
	return func(m *Matcher) { m.maxDistance = d }
}

// NewMatcher builds a Matcher from lookup tables.
func NewMatcher(t lists.Tables, opts ...Option) *Matcher {
	m := &Matcher{
		personal:    lists.Set(t.PersonalDomains),
		typos:       lists.Set(t.TypoDomains),
		maxDistance: DefaultMaxTypoDistance,
	}
	for _, s := range t.InstitutionalSuffixes {
		if s = strings.Trim(strings.ToLower(strings.TrimSpace(s)), "."); s != "" {
			m.institutional = append(m.institutional, s)
		}
	}
	for p := range lists.Set(t.PersonalProviders) {
		if len(p) >= minFuzzyLen {
			m.providers = append(m.providers, p)
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsPersonalDomain reports whether domain belongs to a personal email provider,
// including common misspellings of one. Institutional domains are never personal.
func (m *Matcher) IsPersonalDomain(domain string) bool {
	domain = strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return false
	}

	if m.personal[domain] || m.typos[domain] {
		return true
	}

	if m.IsInstitutional(domain) {
		return false
	}

	label, _, _ := strings.Cut(domain, ".")
	for _, p := range m.providers {
		if EditDistance(label, p) <= m.maxDistance {
			return true
		}
	}

	return false
}

// IsInstitutional reports whether domain is, or is under, an institutional suffix.
func (m *Matcher) IsInstitutional(domain string) bool {
	domain = strings.ToLower(domain)
	for _, s := range m.institutional {
		if domain == s || strings.HasSuffix(domain, "."+s) {
			return true
		}
	}
	return false
}
