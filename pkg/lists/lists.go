// Package lists holds the heuristic tables used for domain and organization matching.
//
// The tables are data, not logic: Default returns the built-in set, and the
// config package may replace any of them from YAML or the environment.
package lists

import (
	"maps"
	"slices"
	"strings"
)

// Tables is the full set of lookup tables.
type Tables struct {
	// PersonalDomains are free email providers. No organization is inferred from them.
	PersonalDomains []string `koanf:"personal_domains" yaml:"personal_domains"`
	// TypoDomains are common misspellings of personal providers seen in the wild.
	TypoDomains []string `koanf:"typo_domains" yaml:"typo_domains"`
	// PersonalProviders are bare provider labels used for fuzzy typo detection.
	PersonalProviders []string `koanf:"personal_providers" yaml:"personal_providers"`
	// InstitutionalSuffixes always win: a domain ending in one is never personal.
	InstitutionalSuffixes []string `koanf:"institutional_suffixes" yaml:"institutional_suffixes"`
	// NotableOrganizations is the allow-list of well-known employers and universities.
	NotableOrganizations []string `koanf:"notable_organizations" yaml:"notable_organizations"`
	// GenericCountries are too common among visitors to be a discriminating signal.
	GenericCountries []string `koanf:"generic_countries" yaml:"generic_countries"`
	// CountryNames maps ISO 3166 alpha-2 codes to display names.
	CountryNames map[string]string `koanf:"country_names" yaml:"country_names"`
}

// Default returns a fresh copy of the built-in tables.
func Default() Tables {
	return Tables{
		PersonalDomains:       slices.Clone(personalDomains),
		TypoDomains:           slices.Clone(typoDomains),
		PersonalProviders:     slices.Clone(personalProviders),
		InstitutionalSuffixes: slices.Clone(institutionalSuffixes),
		NotableOrganizations:  slices.Clone(notableOrganizations),
		GenericCountries:      slices.Clone(genericCountries),
		CountryNames:          maps.Clone(countryNames),
	}
}

// Merge fills every empty table in t from d and returns the result.
func (t Tables) Merge(d Tables) Tables {
	if len(t.PersonalDomains) == 0 {
		t.PersonalDomains = d.PersonalDomains
	}
	if len(t.TypoDomains) == 0 {
		t.TypoDomains = d.TypoDomains
	}
	if len(t.PersonalProviders) == 0 {
		t.PersonalProviders = d.PersonalProviders
	}
	if len(t.InstitutionalSuffixes) == 0 {
		t.InstitutionalSuffixes = d.InstitutionalSuffixes
	}
	if len(t.NotableOrganizations) == 0 {
		t.NotableOrganizations = d.NotableOrganizations
	}
	if len(t.GenericCountries) == 0 {
		t.GenericCountries = d.GenericCountries
	}
	if len(t.CountryNames) == 0 {
		t.CountryNames = d.CountryNames
	}
	return t
}

// Set builds a lower-cased membership set from a table.
func Set(entries []string) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			set[e] = true
		}
	}
	return set
}

// CountryName returns the display name for an ISO code, or the code itself if unknown.
func (t Tables) CountryName(code string) string {
	if name, ok := t.CountryNames[strings.ToUpper(code)]; ok {
		return name
	}
	return code
}

var personalDomains = []string{
	"gmail.com", "googlemail.com",
	"yahoo.com", "ymail.com", "rocketmail.com", "yahoo.co.uk", "yahoo.co.in",
	"hotmail.com", "outlook.com", "live.com", "msn.com", "hotmail.co.uk",
	"icloud.com", "me.com", "mac.com",
	"aol.com",
	"protonmail.com", "proton.me", "pm.me",
	"mail.com", "gmx.com", "gmx.net",
	"zoho.com", "zohomail.com",
	"fastmail.com", "fastmail.fm",
	"tutanota.com", "tuta.io",
	"yandex.com", "yandex.ru", "mail.ru",
	"qq.com", "163.com", "126.com",
	"rediffmail.com",
}

var typoDomains = []string{
	"gmial.com", "gmai.com", "gmal.com", "gamil.com", "gnail.com", "gmail.co", "gmail.con",
	"yaho.com", "yahooo.com", "yahoo.co",
	"hotmal.com", "hotmial.com", "hotmail.co",
	"outlok.com", "outloo.com",
	"iclod.com", "icloud.co",
}

// personalProviders feed fuzzy typo matching. Names that sit one or two edits
// from ordinary words ("proton", "icloud") are matched exactly via personalDomains instead.
var personalProviders = []string{
	"gmail", "googlemail", "yahoo", "hotmail", "outlook",
	"protonmail", "fastmail", "tutanota",
	"yandex", "rediffmail",
}

var institutionalSuffixes = []string{
	"edu", "gov", "mil", "org", "int",
	"ac.uk", "gov.uk", "nhs.uk", "edu.au", "gov.au", "edu.in", "ac.in", "gov.in",
	"ac.jp", "edu.cn", "ac.nz", "edu.sg", "gc.ca",
}

var notableOrganizations = []string{
	"Google", "Alphabet", "Microsoft", "Apple", "Amazon", "Amazon Web Services", "Meta", "Facebook",
	"Netflix", "NVIDIA", "Intel", "AMD", "IBM", "Oracle", "Salesforce", "Adobe", "Cisco",
	"Uber", "Airbnb", "Stripe", "OpenAI", "Anthropic", "LinkedIn", "Tesla", "SpaceX",
	"Goldman Sachs", "JPMorgan", "Morgan Stanley", "McKinsey", "Deloitte", "Accenture",
	"Infosys", "TCS", "Wipro", "Cognizant", "Capgemini",
	"MIT", "Stanford", "Harvard", "Carnegie Mellon", "UC Berkeley", "Caltech", "Princeton",
	"Oxford", "Cambridge", "Arizona State University", "Georgia Tech", "IIT",
}

var genericCountries = []string{
	"United States", "United States of America", "USA", "US",
}

var countryNames = map[string]string{
	"US": "United States", "GB": "United Kingdom", "CA": "Canada",
	"AU": "Australia", "DE": "Germany", "FR": "France", "IN": "India",
	"JP": "Japan", "CN": "China", "BR": "Brazil", "MX": "Mexico",
	"NL": "Netherlands", "SE": "Sweden", "NO": "Norway", "DK": "Denmark",
	"FI": "Finland", "IE": "Ireland", "NZ": "New Zealand", "SG": "Singapore",
	"HK": "Hong Kong", "KR": "South Korea", "IT": "Italy", "ES": "Spain",
	"CH": "Switzerland", "AT": "Austria", "BE": "Belgium", "PL": "Poland",
	"PT": "Portugal", "RU": "Russia", "ZA": "South Africa", "AE": "UAE",
	"IL": "Israel", "TH": "Thailand", "MY": "Malaysia", "PH": "Philippines",
	"ID": "Indonesia", "VN": "Vietnam", "TR": "Turkey", "EG": "Egypt",
	"AR": "Argentina", "CL": "Chile", "CO": "Colombia", "PE": "Peru",
}
