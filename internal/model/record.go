package model

import "time"

// FieldValue is one merged field on an EnrichmentRecord: the winning value
// plus where it came from and how much we trust it.
type FieldValue struct {
	FieldKey   string    `json:"field_key"`
	Value      any       `json:"value"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	ObservedAt time.Time `json:"observed_at"`
}

// ProvenanceEntry records a single provider contribution for a field,
// including values that lost a merge conflict. Rejected values are kept
// for audit; nothing is silently overwritten.
type ProvenanceEntry struct {
	FieldKey   string    `json:"field_key"`
	Source     string    `json:"source"`
	Value      any       `json:"value"`
	Confidence float64   `json:"confidence"`
	Accepted   bool      `json:"accepted"`
	Rejected   bool      `json:"rejected,omitempty"` // lost a conflict to a higher-priority source
	Outcome    string    `json:"outcome"`            // "accepted", "rejected", "no-data", "error"
	Error      string    `json:"error,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// PersonRecord is a person discovered (or submitted) under a company,
// carrying its own field set and eventual role assignment.
type PersonRecord struct {
	Identifiers Identifiers           `json:"identifiers"`
	Fields      map[string]FieldValue `json:"fields"`
	Provenance  []ProvenanceEntry     `json:"provenance"`
	Role        *RoleAssignment       `json:"role,omitempty"`
	Match       *MatchCandidate       `json:"match,omitempty"`
	StoredID    string                `json:"stored_id,omitempty"`
}

// EnrichmentRecord accumulates the result for one TargetEntity as it moves
// through the stage pipeline. Each stage returns a new record value; the
// target entity itself is never mutated.
type EnrichmentRecord struct {
	Entity     TargetEntity          `json:"entity"`
	Fields     map[string]FieldValue `json:"fields"`
	Provenance []ProvenanceEntry     `json:"provenance"`

	// People holds discovered employees for company entities. For person
	// entities the record's own Fields/Role apply and People stays empty.
	People []PersonRecord `json:"people,omitempty"`

	Role       *RoleAssignment `json:"role,omitempty"`
	Match      *MatchCandidate `json:"match,omitempty"`
	BuyerGroup *BuyerGroup     `json:"buyer_group,omitempty"`
	StoredID   string          `json:"stored_id,omitempty"`
}

// NewEnrichmentRecord creates an empty record for the given target.
func NewEnrichmentRecord(entity TargetEntity) EnrichmentRecord {
	return EnrichmentRecord{
		Entity: entity,
		Fields: make(map[string]FieldValue),
	}
}

// Clone returns a deep-enough copy for stage handoff: the field map and
// provenance slice are copied so a stage can build on the previous result
// without aliasing it.
func (r EnrichmentRecord) Clone() EnrichmentRecord {
	out := r
	out.Fields = make(map[string]FieldValue, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	out.Provenance = append([]ProvenanceEntry(nil), r.Provenance...)
	out.People = append([]PersonRecord(nil), r.People...)
	return out
}

// Field returns the merged value for a key, if present.
func (r EnrichmentRecord) Field(key string) (FieldValue, bool) {
	fv, ok := r.Fields[key]
	return fv, ok
}
