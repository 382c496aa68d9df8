// Package score decides whether a search result is the profile of the person being looked up.
//
// Each signal contributes independently: a missing organization or location
// never cancels out a name match. A candidate is accepted only when its total
// reaches MinScore, and the weights are validated so that no combination of
// non-name signals can reach it on its own.
package score

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/codeGROOVE-dev/visitorid/pkg/linkedin"
	"github.com/codeGROOVE-dev/visitorid/pkg/lists"
	"github.com/codeGROOVE-dev/visitorid/pkg/profile"
	"github.com/codeGROOVE-dev/visitorid/pkg/textmatch"
)

// ErrUnsafeWeights is returned when weights would accept a candidate with no first or last name match.
var ErrUnsafeWeights = errors.New("unsafe scoring weights")

// Weights holds the per-signal contributions and the acceptance threshold.
type Weights struct {
	First       int `koanf:"first" yaml:"first"`
	Last        int `koanf:"last" yaml:"last"`
	Middle      int `koanf:"middle" yaml:"middle"`
	SlugBonus   int `koanf:"slug_bonus" yaml:"slug_bonus"`
	Org         int `koanf:"org" yaml:"org"`
	City        int `koanf:"city" yaml:"city"`
	Region      int `koanf:"region" yaml:"region"`
	Country     int `koanf:"country" yaml:"country"`
	LocationCap int `koanf:"location_cap" yaml:"location_cap"`
	MinScore    int `koanf:"min_score" yaml:"min_score"`
	MinTokenLen int `koanf:"min_token_len" yaml:"min_token_len"`
}

// DefaultWeights returns the calibrated defaults. The maximum total is 120.
func DefaultWeights() Weights {
	return Weights{
		First:       30,
		Last:        30,
		Middle:      15,
		SlugBonus:   5,
		Org:         20,
		City:        10,
		Region:      5,
		Country:     5,
		LocationCap: 20,
		MinScore:    70,
		MinTokenLen: 3,
	}
}

// maxWithoutName is the best score a candidate can reach with neither first nor last name.
// The slug bonus needs both, so it never contributes here.
func (w Weights) maxWithoutName() int {
	return w.Middle + w.Org + min(w.City+w.Region+w.Country, w.LocationCap)
}

// Validate checks that the weights are usable and keep name matches mandatory.
func (w Weights) Validate() error {
	for name, v := range map[string]int{
		"first": w.First, "last": w.Last, "middle": w.Middle, "slug_bonus": w.SlugBonus,
		"org": w.Org, "city": w.City, "region": w.Region, "country": w.Country,
		"location_cap": w.LocationCap, "min_token_len": w.MinTokenLen,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s is negative", ErrUnsafeWeights, name)
		}
	}
	if w.MinScore <= 0 {
		return fmt.Errorf("%w: min_score must be positive", ErrUnsafeWeights)
	}
	if m := w.maxWithoutName(); m >= w.MinScore {
		return fmt.Errorf("%w: non-name signals reach %d, min_score is %d", ErrUnsafeWeights, m, w.MinScore)
	}
	return nil
}

// Scorer scores candidates with a fixed set of weights.
type Scorer struct {
	generic map[string]bool
	w       Weights
}

// NewScorer creates a Scorer. Countries in t.GenericCountries earn no location bonus.
func NewScorer(w Weights, t lists.Tables) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{w: w, generic: lists.Set(t.GenericCountries)}, nil
}

// Default returns a Scorer with DefaultWeights and the built-in tables.
func Default() *Scorer {
	s, err := NewScorer(DefaultWeights(), lists.Default())
	if err != nil {
		panic("default weights are invalid: " + err.Error())
	}
	return s
}

// Weights returns the scorer's weights.
func (s *Scorer) Weights() Weights { return s.w }

// haystack is the lower-cased text a candidate can be matched against.
type haystack struct {
	text        string
	slug        string
	slugCompact string
	minLen      int
}

func newHaystack(c profile.Candidate, minLen int) haystack {
	slug := strings.ToLower(linkedin.Slug(c.ProfileURL))
	return haystack{
		text:        strings.ToLower(c.DisplayText),
		slug:        slug,
		slugCompact: compact(slug),
		minLen:      minLen,
	}
}

// short tokens such as initials only count as whole words.
func (h haystack) short(token string) bool {
	return utf8.RuneCountInString(token) < h.minLen
}

func (h haystack) inText(token string) bool {
	switch {
	case token == "":
		return false
	case h.short(token):
		return textmatch.ContainsWord(h.text, token)
	default:
		return strings.Contains(h.text, token)
	}
}

func (h haystack) inSlug(token string) bool {
	if token == "" || h.slug == "" {
		return false
	}
	if h.short(token) {
		return textmatch.ContainsWord(h.slug, token)
	}
	if strings.Contains(h.slug, token) {
		return true
	}
	ct := compact(token)
	return ct != "" && strings.Contains(h.slugCompact, ct)
}

// Score computes the match score of c against the target person.
// Name and org tokens shorter than MinTokenLen match only on word boundaries.
func (s *Scorer) Score(c profile.Candidate, name profile.PersonName, org string, loc profile.LocationHint) int {
	h := newHaystack(c, s.w.MinTokenLen)
	name = name.Normalize()
	first := strings.ToLower(name.First)
	last := strings.ToLower(name.Last)
	middle := strings.ToLower(name.Middle)

	total := 0
	if h.inText(first) || h.inSlug(first) {
		total += s.w.First
	}
	if h.inText(last) || h.inSlug(last) {
		total += s.w.Last
	}
	if h.inText(middle) || h.inSlug(middle) {
		total += s.w.Middle
	}
	if h.inSlug(first) && h.inSlug(last) {
		total += s.w.SlugBonus
	}

	if h.inText(strings.ToLower(strings.TrimSpace(org))) {
		total += s.w.Org
	}

	return total + s.location(h, loc)
}

func (s *Scorer) location(h haystack, loc profile.LocationHint) int {
	bonus := 0
	if s.usable(loc.City) && h.inText(strings.ToLower(strings.TrimSpace(loc.City))) {
		bonus += s.w.City
	}
	if s.usable(loc.Region) && h.inText(strings.ToLower(strings.TrimSpace(loc.Region))) {
		bonus += s.w.Region
	}
	country := strings.TrimSpace(loc.Country)
	if s.usable(country) && !s.generic[strings.ToLower(country)] && h.inText(strings.ToLower(country)) {
		bonus += s.w.Country
	}
	return min(bonus, s.w.LocationCap)
}

func (s *Scorer) usable(token string) bool {
	return len([]rune(strings.TrimSpace(token))) >= s.w.MinTokenLen
}

// PickBest returns the highest scoring candidate if it reaches the acceptance threshold.
// Ties keep the earlier candidate.
func (s *Scorer) PickBest(
	candidates []profile.Candidate, name profile.PersonName, org string, loc profile.LocationHint,
) (profile.Scored, bool) {
	var best profile.Scored
	found := false
	for _, c := range candidates {
		sc := s.Score(c, name, org, loc)
		if !found || sc > best.Score {
			best = profile.Scored{Candidate: c, Score: sc}
			found = true
		}
	}
	if !found || best.Score < s.w.MinScore {
		return profile.Scored{}, false
	}
	return best, true
}

func compact(s string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "", ".", "").Replace(s)
}
