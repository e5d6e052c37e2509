package model

// MatchTier is the confidence level at which an incoming entity is linked
// to an existing stored record.
type MatchTier string

const (
	MatchExactKey    MatchTier = "exact-key"
	MatchStrongFuzzy MatchTier = "strong-fuzzy"
	MatchWeakFuzzy   MatchTier = "weak-fuzzy"
	MatchNone        MatchTier = "none"
)

// Mergeable reports whether the tier is strong enough to update an
// existing record in place. Weak-fuzzy matches are surfaced as possible
// duplicates but never auto-merged.
func (t MatchTier) Mergeable() bool {
	return t == MatchExactKey || t == MatchStrongFuzzy
}

// MatchCandidate is the identity resolver's verdict: zero or one stored
// entity this incoming entity refers to. Ephemeral: consumed by the
// persist stage, not stored itself.
type MatchCandidate struct {
	StoredID   string    `json:"stored_id,omitempty"`
	Tier       MatchTier `json:"tier"`
	Similarity float64   `json:"similarity"`
	MatchedOn  string    `json:"matched_on,omitempty"` // "email", "profile_url", "name+employer", "name"
}
