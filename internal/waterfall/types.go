// Package waterfall tries configured providers in priority order until
// one returns usable data or all are exhausted, merging field-level
// results with full provenance.
package waterfall

import (
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/provider"
)

// Outcome is the overall result of one waterfall pass.
type Outcome string

const (
	// OutcomeResolved means at least one provider returned usable data.
	OutcomeResolved Outcome = "resolved"
	// OutcomeNoData means every provider failed or was skipped. Not an
	// error; the stage advances with an unchanged record.
	OutcomeNoData Outcome = "no-data"
)

// Request describes one waterfall pass for one entity.
type Request struct {
	Kind        model.EntityKind
	Identifiers model.Identifiers
	Depth       model.Depth
	ProviderSet []string // empty = all configured

	// Unusable is the entity-scoped set of providers that failed
	// permanently earlier in this entity's processing. The resolver skips
	// them and adds any new permanent failures. Caller-owned.
	Unusable map[string]bool
}

// Result is the outcome of a waterfall pass.
type Result struct {
	Fields     map[string]model.FieldValue
	People     []provider.Person
	Provenance []model.ProvenanceEntry
	Outcome    Outcome
}
