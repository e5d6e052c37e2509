package identity

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

// CandidateSource supplies stored rows to match against. Implemented by
// the store; abstracted here so the resolver stays schema-free.
type CandidateSource interface {
	FindCandidates(ctx context.Context, entity model.TargetEntity) ([]model.StoredEntity, error)
}

// Config holds the tunable fuzzy-match thresholds. The numeric cutoffs
// are deliberately configuration, not business rules.
type Config struct {
	StrongThreshold float64 `yaml:"strong_threshold" mapstructure:"strong_threshold"`
	WeakThreshold   float64 `yaml:"weak_threshold" mapstructure:"weak_threshold"`
}

// DefaultConfig returns the default match thresholds.
func DefaultConfig() Config {
	return Config{
		StrongThreshold: 0.85,
		WeakThreshold:   0.60,
	}
}

// Resolver performs tiered identity matching within one owner scope.
type Resolver struct {
	source CandidateSource
	cfg    Config
}

// NewResolver creates an identity resolver over the given candidate source.
func NewResolver(source CandidateSource, cfg Config) *Resolver {
	if cfg.StrongThreshold <= 0 {
		cfg.StrongThreshold = 0.85
	}
	if cfg.WeakThreshold <= 0 {
		cfg.WeakThreshold = 0.60
	}
	return &Resolver{source: source, cfg: cfg}
}

// FindMatch resolves an incoming entity against the store. Tiers are
// tried in order and each only if the previous found nothing:
//
//  1. exact-key: normalized email, canonical profile URL, or (for
//     companies) normalized domain.
//  2. strong-fuzzy: high name similarity AND the same employer key.
//  3. weak-fuzzy: name similarity alone; reported as a possible
//     duplicate, never auto-merged.
//
// Matching never crosses owner scopes: candidates with a different
// OwnerKey are ignored even if the source returns them.
func (r *Resolver) FindMatch(ctx context.Context, entity model.TargetEntity) (model.MatchCandidate, error) {
	none := model.MatchCandidate{Tier: model.MatchNone}

	candidates, err := r.source.FindCandidates(ctx, entity)
	if err != nil {
		return none, eris.Wrap(err, "identity: find candidates")
	}

	scoped := candidates[:0]
	for _, c := range candidates {
		if c.OwnerKey == entity.OwnerKey && c.Kind == entity.Kind {
			scoped = append(scoped, c)
		}
	}
	if len(scoped) == 0 {
		return none, nil
	}

	if m, ok := r.exactKey(entity, scoped); ok {
		return m, nil
	}
	if m, ok := r.strongFuzzy(entity, scoped); ok {
		return m, nil
	}
	if m, ok := r.weakFuzzy(entity, scoped); ok {
		zap.L().Debug("identity: weak-fuzzy match flagged as possible duplicate",
			zap.String("entity", entity.Ref()),
			zap.String("stored_id", m.StoredID),
			zap.Float64("similarity", m.Similarity),
		)
		return m, nil
	}
	return none, nil
}

func (r *Resolver) exactKey(entity model.TargetEntity, candidates []model.StoredEntity) (model.MatchCandidate, bool) {
	ids := entity.Identifiers
	email := NormalizeEmail(ids.Email)
	profile := CanonicalProfileURL(ids.LinkedInURL)
	domain := ""
	if entity.Kind == model.KindCompany {
		domain = NormalizeDomain(ids.Domain)
	}

	for _, c := range candidates {
		if email != "" && NormalizeEmail(c.Identifiers.Email) == email {
			return model.MatchCandidate{StoredID: c.ID, Tier: model.MatchExactKey, Similarity: 1.0, MatchedOn: "email"}, true
		}
		if profile != "" && CanonicalProfileURL(c.Identifiers.LinkedInURL) == profile {
			return model.MatchCandidate{StoredID: c.ID, Tier: model.MatchExactKey, Similarity: 1.0, MatchedOn: "profile_url"}, true
		}
		if domain != "" && NormalizeDomain(c.Identifiers.Domain) == domain {
			return model.MatchCandidate{StoredID: c.ID, Tier: model.MatchExactKey, Similarity: 1.0, MatchedOn: "domain"}, true
		}
	}
	return model.MatchCandidate{}, false
}

func (r *Resolver) strongFuzzy(entity model.TargetEntity, candidates []model.StoredEntity) (model.MatchCandidate, bool) {
	ids := entity.Identifiers
	if ids.Name == "" {
		return model.MatchCandidate{}, false
	}
	employer := entityEmployerKey(entity.Kind, ids)
	if employer == "" {
		return model.MatchCandidate{}, false
	}

	best := model.MatchCandidate{}
	for _, c := range candidates {
		if entityEmployerKey(c.Kind, c.Identifiers) != employer {
			continue
		}
		score := bestNameScore(ids.Name, c.Identifiers.Name)
		if score >= r.cfg.StrongThreshold && score > best.Similarity {
			best = model.MatchCandidate{
				StoredID:   c.ID,
				Tier:       model.MatchStrongFuzzy,
				Similarity: score,
				MatchedOn:  "name+employer",
			}
		}
	}
	return best, best.StoredID != ""
}

func (r *Resolver) weakFuzzy(entity model.TargetEntity, candidates []model.StoredEntity) (model.MatchCandidate, bool) {
	ids := entity.Identifiers
	if ids.Name == "" {
		return model.MatchCandidate{}, false
	}

	best := model.MatchCandidate{}
	for _, c := range candidates {
		score := bestNameScore(ids.Name, c.Identifiers.Name)
		if score >= r.cfg.WeakThreshold && score > best.Similarity {
			best = model.MatchCandidate{
				StoredID:   c.ID,
				Tier:       model.MatchWeakFuzzy,
				Similarity: score,
				MatchedOn:  "name",
			}
		}
	}
	return best, best.StoredID != ""
}

// entityEmployerKey picks the employer signal for the strong-fuzzy tier:
// a person's employer domain/name, or the company's own key for company
// entities.
func entityEmployerKey(kind model.EntityKind, ids model.Identifiers) string {
	if kind == model.KindPerson {
		if ids.Company != "" || EmailDomain(ids.Email) != "" {
			return EmployerKey(EmailDomain(ids.Email), ids.Company)
		}
		return ""
	}
	return EmployerKey(ids.Domain, ids.Name)
}
