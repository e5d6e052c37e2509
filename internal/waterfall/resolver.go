package waterfall

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/provider"
	"github.com/sells-group/enrich-cli/internal/resilience"
)

// Resolver runs the provider waterfall for one enrichment lookup.
type Resolver struct {
	registry *provider.Registry
	retry    resilience.RetryConfig
	now      func() time.Time
}

// NewResolver creates a waterfall resolver. The retry config governs the
// single in-stage retry of transient provider failures.
func NewResolver(registry *provider.Registry, retry resilience.RetryConfig) *Resolver {
	return &Resolver{
		registry: registry,
		retry:    retry,
		now:      time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (r *Resolver) WithNow(fn func() time.Time) *Resolver {
	r.now = fn
	return r
}

// Resolve tries providers for the requested kind in priority order.
//
// A provider is attempted only if it is healthy and has rate-limit
// budget; otherwise it is skipped without counting as a failure. The
// waterfall stops at the first usable result unless depth is
// comprehensive, in which case later providers fill fields the first
// responder left empty (conflicts resolve to the higher-priority
// provider, with the loser kept in provenance).
//
// A transient failure that survives the in-stage retry is returned as an
// error so the stage pipeline can requeue the entity. Permanent failures
// mark the provider unusable for this entity and the waterfall moves on.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	if req.Unusable == nil {
		req.Unusable = make(map[string]bool)
	}

	res := &Result{
		Fields:  make(map[string]model.FieldValue),
		Outcome: OutcomeNoData,
	}

	providers := r.registry.ForKind(req.Kind, req.ProviderSet)
	log := zap.L().With(
		zap.String("kind", string(req.Kind)),
		zap.Int("providers", len(providers)),
	)

	for _, p := range providers {
		name := p.Name()

		if req.Unusable[name] {
			res.note(name, "skipped-unusable", "")
			continue
		}
		if health := r.registry.Health(name); health != provider.Healthy {
			res.note(name, "skipped-"+string(health), "")
			continue
		}
		if !r.registry.Limits().Allow(name) {
			res.note(name, "skipped-rate-limit", "")
			continue
		}

		retryCfg := r.retry
		retryCfg.OnRetry = resilience.RetryLogger(name, string(req.Kind))

		lr, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*provider.LookupResult, error) {
			return resilience.ExecuteVal(ctx, r.registry.Breaker(name), func(ctx context.Context) (*provider.LookupResult, error) {
				return p.Lookup(ctx, req.Kind, req.Identifiers)
			})
		})

		if err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				res.note(name, "skipped-disabled", "")
				continue
			}
			switch resilience.Classify(err) {
			case model.ErrorTransient:
				// Retry budget inside the stage is spent; hand the entity
				// back to the pipeline for a later attempt.
				return res, eris.Wrapf(err, "waterfall: %s lookup", name)
			default:
				req.Unusable[name] = true
				res.note(name, "error", err.Error())
				log.Warn("waterfall: provider failed permanently",
					zap.String("provider", name),
					zap.Error(err),
				)
				continue
			}
		}

		if !lr.Usable() {
			res.note(name, "no-data", "")
			continue
		}

		first := res.Outcome == OutcomeNoData
		res.Outcome = OutcomeResolved
		r.merge(res, lr, name)

		if req.Depth != model.DepthComprehensive {
			return res, nil
		}
		if first {
			log.Debug("waterfall: comprehensive depth, continuing past first success",
				zap.String("provider", name),
			)
		}
	}

	return res, nil
}

func (r *Resolver) merge(res *Result, lr *provider.LookupResult, source string) {
	inputs := make([]fieldInput, 0, len(lr.Fields))
	for _, f := range lr.Fields {
		inputs = append(inputs, fieldInput{
			FieldKey:   f.FieldKey,
			Value:      f.Value,
			Confidence: f.Confidence,
			ObservedAt: f.ObservedAt,
		})
	}

	entries := mergeFields(res.Fields, inputs, source, r.registry.Priority(source), r.registry.Priority, r.now())
	res.Provenance = append(res.Provenance, entries...)

	for _, person := range lr.People {
		person.Source = source
		if !res.hasPerson(person) {
			res.People = append(res.People, person)
		}
	}
	if len(lr.People) > 0 {
		res.note(source, "accepted", "")
	}
}

// note appends a call-level provenance entry (skip, error, no-data, or a
// people-batch acceptance) so every provider touch is auditable.
func (res *Result) note(source, outcome, errMsg string) {
	res.Provenance = append(res.Provenance, model.ProvenanceEntry{
		Source:     source,
		Outcome:    outcome,
		Error:      errMsg,
		ObservedAt: time.Now().UTC(),
	})
}

// hasPerson dedupes discovered people across providers by email, profile
// URL, or lowercased name, in that order of preference.
func (res *Result) hasPerson(p provider.Person) bool {
	for _, existing := range res.People {
		a, b := existing.Identifiers, p.Identifiers
		if a.Email != "" && strings.EqualFold(a.Email, b.Email) {
			return true
		}
		if a.LinkedInURL != "" && strings.EqualFold(a.LinkedInURL, b.LinkedInURL) {
			return true
		}
		if a.Name != "" && strings.EqualFold(a.Name, b.Name) {
			return true
		}
	}
	return false
}
