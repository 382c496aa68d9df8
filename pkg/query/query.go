// Package query plans the ordered web searches used to find a person's profile.
package query

import (
	"strings"

	"github.com/codeGROOVE-dev/visitorid/pkg/linkedin"
	"github.com/codeGROOVE-dev/visitorid/pkg/profile"
)

// Query is a search string with its specificity rank.
// Higher ranks carry more constraints and are tried first.
type Query struct {
	Text string
	Rank int
}

// Ranks, from most to least specific.
const (
	RankFullNameOrg = 4
	RankNameOrg     = 3
	RankFullName    = 2
	RankName        = 1
)

// Build returns the queries for name and an optional organization hint,
// most specific first. It returns nil when the name is not searchable.
func Build(name profile.PersonName, org string) []Query {
	name = name.Normalize()
	if !name.Valid() {
		return nil
	}
	org = strings.TrimSpace(org)
	short := name.Short()
	full := name.Full()
	hasMiddle := name.Middle != ""

	var qs []Query
	if hasMiddle && org != "" {
		qs = append(qs, Query{Text: format(full, org), Rank: RankFullNameOrg})
	}
	if org != "" {
		qs = append(qs, Query{Text: format(short, org), Rank: RankNameOrg})
	}
	if hasMiddle {
		qs = append(qs, Query{Text: format(full, ""), Rank: RankFullName})
	}
	qs = append(qs, Query{Text: format(short, ""), Rank: RankName})
	return qs
}

// Top returns at most n of the most specific queries.
func Top(qs []Query, n int) []Query {
	if n <= 0 {
		return nil
	}
	if len(qs) <= n {
		return qs
	}
	return qs[:n]
}

func format(phrase, org string) string {
	var b strings.Builder
	b.WriteByte('"')
	b.WriteString(phrase)
	b.WriteByte('"')
	if org != "" {
		b.WriteByte(' ')
		b.WriteString(org)
	}
	b.WriteByte(' ')
	b.WriteString(linkedin.SiteRestriction)
	return b.String()
}
