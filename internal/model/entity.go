package model

import "strings"

// EntityKind distinguishes the two enrichment targets.
type EntityKind string

const (
	KindCompany EntityKind = "company"
	KindPerson  EntityKind = "person"
)

// Identifiers holds the source identifiers a caller may supply for an
// entity. Any subset is valid; none are individually required.
type Identifiers struct {
	Name        string `json:"name,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Email       string `json:"email,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	Company     string `json:"company,omitempty"` // employer name, person entities only
	Title       string `json:"title,omitempty"`
	Department  string `json:"department,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Empty reports whether no identifier is set.
func (i Identifiers) Empty() bool {
	return i.Name == "" && i.Domain == "" && i.Email == "" && i.LinkedInURL == ""
}

// TargetEntity is one company or person submitted for enrichment. It is
// read-only once a batch starts; stages accumulate results on the
// EnrichmentRecord instead of mutating the target.
type TargetEntity struct {
	Kind        EntityKind  `json:"kind"`
	Identifiers Identifiers `json:"identifiers"`

	// OwnerKey scopes the entity to a workspace. Identity matching never
	// crosses owner boundaries.
	OwnerKey string `json:"owner_key"`
}

// Ref returns a short human-readable reference for logs and error records.
func (t TargetEntity) Ref() string {
	id := t.Identifiers
	for _, s := range []string{id.Email, id.Domain, id.LinkedInURL, id.Name} {
		if s != "" {
			return string(t.Kind) + ":" + strings.ToLower(s)
		}
	}
	return string(t.Kind) + ":unknown"
}
