// Package provider defines the uniform interface for external data
// sources and the registry that orders them into a waterfall.
package provider

import (
	"context"
	"time"

	"github.com/sells-group/enrich-cli/internal/model"
)

// Health is a provider's operational state. Disabled providers are
// skipped by the waterfall without counting as failures.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
	Disabled Health = "disabled"
)

// Field is a single normalized field value returned by a provider.
type Field struct {
	FieldKey   string     `json:"field_key"`
	Value      any        `json:"value"`
	Confidence float64    `json:"confidence"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

// Person is one person discovered by a people lookup.
type Person struct {
	Identifiers model.Identifiers `json:"identifiers"`
	Fields      []Field           `json:"fields,omitempty"`
	Confidence  float64           `json:"confidence"`

	// Source is the provider that discovered this person. Adapters leave
	// it empty; the waterfall fills it in during the merge.
	Source string `json:"source,omitempty"`
}

// LookupResult is a provider's normalized response for one entity.
type LookupResult struct {
	Provider   string   `json:"provider"`
	Fields     []Field  `json:"fields,omitempty"`
	People     []Person `json:"people,omitempty"`
	Confidence float64  `json:"confidence"`
	Raw        []byte   `json:"raw,omitempty"` // raw provenance payload, adapter-specific
}

// Usable reports whether the result carries at least one non-empty field
// or discovered person. A provider only "succeeds" in the waterfall if
// its result is usable.
func (r *LookupResult) Usable() bool {
	if r == nil {
		return false
	}
	if len(r.People) > 0 {
		return true
	}
	for _, f := range r.Fields {
		if f.Value != nil && f.Value != "" {
			return true
		}
	}
	return false
}

// Provider wraps one external data source for one or more enrichment
// kinds. Adapters own auth and response normalization; rate limiting and
// health live in the registry so they are shared across executions.
type Provider interface {
	// Name returns the provider identifier used in config and provenance.
	Name() string
	// Version identifies the adapter/wire-format revision for audit.
	Version() string
	// Kinds returns the entity kinds this provider can look up.
	Kinds() []model.EntityKind
	// Lookup fetches and normalizes data for the given identifiers.
	Lookup(ctx context.Context, kind model.EntityKind, ids model.Identifiers) (*LookupResult, error)
}

// Supports reports whether p handles the given kind.
func Supports(p Provider, kind model.EntityKind) bool {
	for _, k := range p.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
