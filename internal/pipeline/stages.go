package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/classify"
	"github.com/sells-group/enrich-cli/internal/identity"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/provider"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/store"
	"github.com/sells-group/enrich-cli/internal/waterfall"
)

// Deps holds the collaborators the stages share.
type Deps struct {
	Waterfall *waterfall.Resolver
	Identity  *identity.Resolver
	Store     store.Store

	// Priority resolves a provider name to its waterfall priority, for
	// cross-stage field merges. Usually Registry.Priority.
	Priority func(source string) int
}

// DefaultStages returns the pipeline in its canonical order.
func DefaultStages(deps Deps) []Stage {
	return []Stage{
		&companyResolveStage{deps},
		&companyEnrichStage{deps},
		&peopleDiscoverStage{deps},
		&peopleEnrichStage{deps},
		&roleClassifyStage{},
		&persistStage{deps},
	}
}

// --- company-resolve ---

// companyResolveStage pins down a company's canonical identity (domain
// first) so later stages query providers with stable keys. Person
// entities pass through untouched.
type companyResolveStage struct{ deps Deps }

func (s *companyResolveStage) Name() string { return "company-resolve" }

func (s *companyResolveStage) Run(ctx context.Context, st *State) (Outcome, error) {
	if st.Entity.Identifiers.Empty() {
		return AbortEntity, resilience.NewPermanentError(eris.New("no usable identifiers"), 0)
	}
	if st.Entity.Kind != model.KindCompany {
		return Advance, nil
	}
	if st.Record.Entity.Identifiers.Domain != "" {
		return Advance, nil
	}

	res, err := s.deps.Waterfall.Resolve(ctx, waterfall.Request{
		Kind:        model.KindCompany,
		Identifiers: st.Record.Entity.Identifiers,
		Depth:       st.Options.Depth,
		ProviderSet: st.Options.ProviderSet,
		Unusable:    st.Unusable,
	})
	st.Record.Provenance = append(st.Record.Provenance, res.Provenance...)
	if err != nil {
		return RetryLater, err
	}
	if res.Outcome == waterfall.OutcomeNoData {
		return Advance, nil
	}

	conflicts := waterfall.MergeInto(st.Record.Fields, res.Fields, s.deps.Priority)
	st.Record.Provenance = append(st.Record.Provenance, conflicts...)

	// Adopt canonical identifiers the lookup surfaced; downstream stages
	// and identity matching key off them.
	ids := &st.Record.Entity.Identifiers
	if ids.Domain == "" {
		ids.Domain = fieldString(st.Record, "domain")
	}
	if ids.LinkedInURL == "" {
		ids.LinkedInURL = fieldString(st.Record, "linkedin_url")
	}
	if ids.Name == "" {
		ids.Name = fieldString(st.Record, "name")
	}
	return Advance, nil
}

// --- company-enrich ---

type companyEnrichStage struct{ deps Deps }

func (s *companyEnrichStage) Name() string { return "company-enrich" }

func (s *companyEnrichStage) Run(ctx context.Context, st *State) (Outcome, error) {
	if st.Entity.Kind != model.KindCompany {
		return Advance, nil
	}

	res, err := s.deps.Waterfall.Resolve(ctx, waterfall.Request{
		Kind:        model.KindCompany,
		Identifiers: st.Record.Entity.Identifiers,
		Depth:       st.Options.Depth,
		ProviderSet: st.Options.ProviderSet,
		Unusable:    st.Unusable,
	})
	st.Record.Provenance = append(st.Record.Provenance, res.Provenance...)
	if err != nil {
		return RetryLater, err
	}

	conflicts := waterfall.MergeInto(st.Record.Fields, res.Fields, s.deps.Priority)
	st.Record.Provenance = append(st.Record.Provenance, conflicts...)
	return Advance, nil
}

// --- people-discover ---

type peopleDiscoverStage struct{ deps Deps }

func (s *peopleDiscoverStage) Name() string { return "people-discover" }

func (s *peopleDiscoverStage) Run(ctx context.Context, st *State) (Outcome, error) {
	if st.Entity.Kind != model.KindCompany {
		return Advance, nil
	}

	ids := st.Record.Entity.Identifiers
	res, err := s.deps.Waterfall.Resolve(ctx, waterfall.Request{
		Kind: model.KindPerson,
		Identifiers: model.Identifiers{
			Company: ids.Name,
			Domain:  ids.Domain,
		},
		Depth:       st.Options.Depth,
		ProviderSet: st.Options.ProviderSet,
		Unusable:    st.Unusable,
	})
	st.Record.Provenance = append(st.Record.Provenance, res.Provenance...)
	if err != nil {
		return RetryLater, err
	}

	for _, person := range res.People {
		st.Record.People = append(st.Record.People, personRecord(person))
	}
	if len(st.Record.People) == 0 {
		// No employees found: the company record is still worth keeping,
		// so jump straight to persistence.
		return SkipRemaining, nil
	}
	return Advance, nil
}

// personRecord converts a discovered person into a record, folding the
// provider's per-person fields in with their source attached.
func personRecord(p provider.Person) model.PersonRecord {
	rec := model.PersonRecord{
		Identifiers: p.Identifiers,
		Fields:      make(map[string]model.FieldValue, len(p.Fields)),
	}
	now := time.Now().UTC()
	for _, f := range p.Fields {
		if f.Value == nil || f.Value == "" {
			continue
		}
		observed := now
		if f.ObservedAt != nil {
			observed = *f.ObservedAt
		}
		rec.Fields[f.FieldKey] = model.FieldValue{
			FieldKey:   f.FieldKey,
			Value:      f.Value,
			Source:     p.Source,
			Confidence: f.Confidence,
			ObservedAt: observed,
		}
		rec.Provenance = append(rec.Provenance, model.ProvenanceEntry{
			FieldKey:   f.FieldKey,
			Source:     p.Source,
			Value:      f.Value,
			Confidence: f.Confidence,
			Accepted:   true,
			Outcome:    "accepted",
			ObservedAt: observed,
		})
	}
	return rec
}

// --- people-enrich ---

type peopleEnrichStage struct{ deps Deps }

func (s *peopleEnrichStage) Name() string { return "people-enrich" }

func (s *peopleEnrichStage) Run(ctx context.Context, st *State) (Outcome, error) {
	if st.Entity.Kind == model.KindPerson {
		res, err := s.deps.Waterfall.Resolve(ctx, waterfall.Request{
			Kind:        model.KindPerson,
			Identifiers: st.Record.Entity.Identifiers,
			Depth:       st.Options.Depth,
			ProviderSet: st.Options.ProviderSet,
			Unusable:    st.Unusable,
		})
		st.Record.Provenance = append(st.Record.Provenance, res.Provenance...)
		if err != nil {
			return RetryLater, err
		}
		conflicts := waterfall.MergeInto(st.Record.Fields, res.Fields, s.deps.Priority)
		st.Record.Provenance = append(st.Record.Provenance, conflicts...)
		return Advance, nil
	}

	for i := range st.Record.People {
		p := &st.Record.People[i]
		res, err := s.deps.Waterfall.Resolve(ctx, waterfall.Request{
			Kind:        model.KindPerson,
			Identifiers: p.Identifiers,
			Depth:       st.Options.Depth,
			ProviderSet: st.Options.ProviderSet,
			Unusable:    st.Unusable,
		})
		p.Provenance = append(p.Provenance, res.Provenance...)
		if err != nil {
			return RetryLater, err
		}
		conflicts := waterfall.MergeInto(p.Fields, res.Fields, s.deps.Priority)
		p.Provenance = append(p.Provenance, conflicts...)
	}
	return Advance, nil
}

// --- role-classify ---

// roleClassifyStage is pure computation: no providers, no store, no
// failure modes.
type roleClassifyStage struct{}

func (s *roleClassifyStage) Name() string { return "role-classify" }

func (s *roleClassifyStage) Run(_ context.Context, st *State) (Outcome, error) {
	if st.Entity.Kind == model.KindPerson {
		assignment := classify.Classify(classifySignals(st.Record.Entity.Identifiers, st.Record.Fields))
		st.Record.Role = &assignment
		return Advance, nil
	}

	for i := range st.Record.People {
		p := &st.Record.People[i]
		assignment := classify.Classify(classifySignals(p.Identifiers, p.Fields))
		p.Role = &assignment
	}
	st.Record.BuyerGroup = classify.BuildBuyerGroup(st.Record.People)
	return Advance, nil
}

// classifySignals prefers caller-supplied title/department but falls back
// to enriched field values.
func classifySignals(ids model.Identifiers, fields map[string]model.FieldValue) model.Identifiers {
	if ids.Title == "" {
		if v, ok := fields["title"]; ok {
			ids.Title, _ = v.Value.(string)
		}
	}
	if ids.Department == "" {
		if v, ok := fields["department"]; ok {
			ids.Department, _ = v.Value.(string)
		}
	}
	return ids
}

// --- persist ---

type persistStage struct{ deps Deps }

func (s *persistStage) Name() string { return "persist" }

func (s *persistStage) Run(ctx context.Context, st *State) (Outcome, error) {
	match, err := s.deps.Identity.FindMatch(ctx, st.Record.Entity)
	if err != nil {
		return AbortEntity, resilience.NewSystemicError(eris.Wrap(err, "persist: find match"))
	}
	st.Record.Match = &match

	storedID, err := s.deps.Store.Upsert(ctx, st.Record, match)
	if err != nil {
		return AbortEntity, resilience.NewSystemicError(eris.Wrap(err, "persist: upsert"))
	}
	st.Record.StoredID = storedID

	for i := range st.Record.People {
		p := &st.Record.People[i]
		entity := model.TargetEntity{
			Kind:        model.KindPerson,
			OwnerKey:    st.Record.Entity.OwnerKey,
			Identifiers: p.Identifiers,
		}

		pm, err := s.deps.Identity.FindMatch(ctx, entity)
		if err != nil {
			return AbortEntity, resilience.NewSystemicError(eris.Wrap(err, "persist: find person match"))
		}
		p.Match = &pm

		personRec := model.EnrichmentRecord{
			Entity:     entity,
			Fields:     p.Fields,
			Provenance: p.Provenance,
			Role:       p.Role,
		}
		id, err := s.deps.Store.Upsert(ctx, personRec, pm)
		if err != nil {
			return AbortEntity, resilience.NewSystemicError(eris.Wrap(err, "persist: upsert person"))
		}
		p.StoredID = id
	}
	return Advance, nil
}

func fieldString(rec model.EnrichmentRecord, key string) string {
	if fv, ok := rec.Fields[key]; ok {
		if s, ok := fv.Value.(string); ok {
			return s
		}
	}
	return ""
}
