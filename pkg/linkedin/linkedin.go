// Package linkedin recognizes and normalizes LinkedIn public profile URLs.
package linkedin

import (
	"net/url"
	"regexp"
	"strings"
)

// BaseURL is the canonical host used for normalized profile URLs.
const BaseURL = "https://www.linkedin.com"

// SiteRestriction limits web search results to public profiles.
const SiteRestriction = "site:linkedin.com/in"

var (
	// slugPattern extracts the public identifier from a profile path.
	slugPattern = regexp.MustCompile(`(?i)/in/([^/?#]+)`)

	// titleSuffix matches the " | LinkedIn" tail that search engines append to result titles.
	titleSuffix = regexp.MustCompile(`(?i)\s*[|\-–·]\s*linkedin\s*$`)
)

// Match returns true if the URL is a LinkedIn profile URL.
func Match(urlStr string) bool {
	return Slug(urlStr) != ""
}

// Slug returns the profile's public identifier, or "" if urlStr is not a profile URL.
func Slug(urlStr string) string {
	u, ok := parse(urlStr)
	if !ok {
		return ""
	}
	m := slugPattern.FindStringSubmatch(u.EscapedPath())
	if len(m) < 2 {
		return ""
	}
	slug := m[1]
	if strings.Contains(slug, "%") {
		if decoded, err := url.PathUnescape(slug); err == nil {
			slug = decoded
		}
	}
	return slug
}

// Normalize validates a user-supplied profile URL and returns its canonical form,
// https://www.linkedin.com/in/<slug>. Only a bare /in/<slug> path with an
// optional trailing slash is accepted; query strings and fragments are dropped.
func Normalize(urlStr string) (string, bool) {
	u, ok := parse(urlStr)
	if !ok {
		return "", false
	}
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	rest, found := strings.CutPrefix(strings.ToLower(path), "/in/")
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	slug := path[len("/in/"):]
	return BaseURL + "/in/" + slug, true
}

// URLForSlug returns the canonical profile URL for a slug.
func URLForSlug(slug string) string {
	return BaseURL + "/in/" + url.PathEscape(slug)
}

// HeadlineFromTitle turns a search result title such as
// "John Smith - Senior Engineer at Acme | LinkedIn" into "Senior Engineer at Acme".
// The leading name segment is only removed when it matches displayName.
func HeadlineFromTitle(title, displayName string) string {
	h := strings.TrimSpace(titleSuffix.ReplaceAllString(strings.TrimSpace(title), ""))
	if displayName == "" {
		return h
	}
	for _, sep := range []string{" - ", " – ", " | "} {
		name, rest, found := strings.Cut(h, sep)
		if found && strings.EqualFold(strings.TrimSpace(name), displayName) {
			return strings.TrimSpace(rest)
		}
	}
	return h
}

func parse(urlStr string) (*url.URL, bool) {
	s := strings.TrimSpace(urlStr)
	if s == "" {
		return nil, false
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	host := strings.ToLower(u.Hostname())
	if host != "linkedin.com" && !strings.HasSuffix(host, ".linkedin.com") {
		return nil, false
	}
	return u, true
}
