package visitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/visitorid/pkg/org"
	"github.com/codeGROOVE-dev/visitorid/pkg/profile"
	"github.com/codeGROOVE-dev/visitorid/pkg/resolver"
	"github.com/codeGROOVE-dev/visitorid/pkg/store"
)

// ProfileResolver finds a visitor's public profile.
type ProfileResolver interface {
	Resolve(ctx context.Context, req resolver.Request) profile.Resolved
}

// Identification is a visit accompanied by the visitor's own details.
type Identification struct {
	Name       profile.PersonName
	Email      string
	ProfileURL string
	Visit
}

// Identity is the outcome of Identify.
type Identity struct {
	Status              string           `json:"status"`
	VisitorID           string           `json:"visitor_id"`
	Organization        string           `json:"organization,omitempty"`
	NotableOrganization string           `json:"notable_organization,omitempty"`
	LinkedIn            profile.Resolved `json:"linkedin"`
}

// Identifier attaches a name, organization and profile to a visitor record.
type Identifier struct {
	dedup    *Deduplicator
	resolver ProfileResolver
	orgs     *org.Extractor
	logger   *slog.Logger
	now      func() time.Time
}

// NewIdentifier creates an Identifier.
func NewIdentifier(dedup *Deduplicator, r ProfileResolver, orgs *org.Extractor, opts ...Option) *Identifier {
	o := buildOptions(opts)
	return &Identifier{dedup: dedup, resolver: r, orgs: orgs, logger: o.logger, now: o.now}
}

// Identify tracks the visit, resolves the visitor's profile and stores the
// result on the visitor record. A record that already carries a profile
// result keeps it unless the visitor supplies a profile URL.
func (i *Identifier) Identify(ctx context.Context, in Identification) (Identity, error) {
	name := in.Name.Normalize()
	if !name.Valid() {
		return Identity{}, profile.ErrInvalidName
	}

	tr, err := i.dedup.Track(ctx, in.Visit)
	if err != nil {
		return Identity{}, err
	}
	rec, err := i.dedup.Find(ctx, tr.VisitorID)
	if err != nil {
		return Identity{}, err
	}

	emailOrg := i.orgs.FromEmail(in.Email)

	var res profile.Resolved
	if rec.LinkedIn != nil && in.ProfileURL == "" {
		i.logger.DebugContext(ctx, "reusing stored profile result", "visitor", rec.ID, "found", rec.LinkedIn.Found)
		res = *rec.LinkedIn
	} else {
		var loc profile.LocationHint
		if rec.Geo != nil {
			loc = rec.Geo.Hint()
		}
		res = i.resolver.Resolve(ctx, resolver.Request{
			Name:       name,
			OrgHint:    emailOrg,
			ProfileURL: in.ProfileURL,
			Location:   loc,
		})
	}

	id := Identity{
		Status:              tr.Status,
		VisitorID:           tr.VisitorID,
		Organization:        emailOrg,
		NotableOrganization: i.orgs.NotableName(res.Headline, emailOrg),
		LinkedIn:            res,
	}
	if id.Organization == "" {
		id.Organization = res.OrganizationFromHeadline
	}

	err = i.dedup.store.UpdateOne(ctx, VisitorsCollection, store.Filter{store.IDField: tr.VisitorID}, store.Update{
		Set: map[string]any{
			"first_name":           name.First,
			"middle_name":          name.Middle,
			"last_name":            name.Last,
			"email":                in.Email,
			"organization":         id.Organization,
			"notable_organization": id.NotableOrganization,
			"linkedin":             res,
			"identified_at":        i.now(),
		},
	})
	if err != nil {
		return Identity{}, fmt.Errorf("store identity: %w", err)
	}
	i.logger.InfoContext(ctx, "visitor identified",
		"visitor", tr.VisitorID, "organization", id.Organization, "profile_found", res.Found, "source", res.Source)
	return id, nil
}
