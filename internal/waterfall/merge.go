package waterfall

import (
	"time"

	"github.com/sells-group/enrich-cli/internal/model"
)

// mergeFields folds a provider's fields into the accumulated field set.
// Policy on conflict: the value from the higher-priority provider wins
// and the loser is recorded in provenance as rejected. Values are never
// averaged or guessed.
//
// priority is the incoming provider's waterfall priority; priorities of
// already-merged values are looked up via prioFor.
func mergeFields(
	fields map[string]model.FieldValue,
	incoming []fieldInput,
	source string,
	priority int,
	prioFor func(source string) int,
	now time.Time,
) []model.ProvenanceEntry {
	var entries []model.ProvenanceEntry

	for _, in := range incoming {
		if in.Value == nil || in.Value == "" {
			continue
		}

		observed := now
		if in.ObservedAt != nil {
			observed = *in.ObservedAt
		}

		existing, exists := fields[in.FieldKey]
		accepted := true
		if exists {
			if existing.Value == in.Value && existing.Source == source {
				continue // exact repeat, nothing to record
			}
			// Conflict: higher-priority source keeps the field.
			if prioFor(existing.Source) <= priority {
				accepted = false
			}
		}

		entry := model.ProvenanceEntry{
			FieldKey:   in.FieldKey,
			Source:     source,
			Value:      in.Value,
			Confidence: in.Confidence,
			ObservedAt: observed,
		}

		if accepted {
			if exists {
				// The previous winner loses the conflict; keep its value
				// in provenance so the overwrite is auditable.
				entries = append(entries, model.ProvenanceEntry{
					FieldKey:   in.FieldKey,
					Source:     existing.Source,
					Value:      existing.Value,
					Confidence: existing.Confidence,
					Rejected:   true,
					Outcome:    "rejected",
					ObservedAt: existing.ObservedAt,
				})
			}
			fields[in.FieldKey] = model.FieldValue{
				FieldKey:   in.FieldKey,
				Value:      in.Value,
				Source:     source,
				Confidence: in.Confidence,
				ObservedAt: observed,
			}
			entry.Accepted = true
			entry.Outcome = "accepted"
		} else {
			entry.Rejected = true
			entry.Outcome = "rejected"
		}
		entries = append(entries, entry)
	}

	return entries
}

// fieldInput is the provider-agnostic shape mergeFields consumes.
type fieldInput struct {
	FieldKey   string
	Value      any
	Confidence float64
	ObservedAt *time.Time
}

// MergeInto folds a resolved field set into an accumulated one, applying
// the same conflict policy across stage boundaries that mergeFields
// applies across providers. Returns the provenance entries generated by
// conflicts; accepted-on-first-sight fields carry no new entries because
// the waterfall already recorded their acceptance.
func MergeInto(dst, src map[string]model.FieldValue, prioFor func(source string) int) []model.ProvenanceEntry {
	var entries []model.ProvenanceEntry
	for key, incoming := range src {
		existing, ok := dst[key]
		if !ok {
			dst[key] = incoming
			continue
		}
		if existing.Value == incoming.Value && existing.Source == incoming.Source {
			continue
		}
		loser := incoming
		if prioFor(existing.Source) > prioFor(incoming.Source) {
			loser = existing
			dst[key] = incoming
		}
		entries = append(entries, model.ProvenanceEntry{
			FieldKey:   loser.FieldKey,
			Source:     loser.Source,
			Value:      loser.Value,
			Confidence: loser.Confidence,
			Rejected:   true,
			Outcome:    "rejected",
			ObservedAt: loser.ObservedAt,
		})
	}
	return entries
}
