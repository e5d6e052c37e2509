// Package pipeline runs one entity through the ordered enrichment
// stages. Stages for a single entity are strictly sequential; the worker
// pool provides parallelism across entities.
package pipeline

import (
	"context"

	"github.com/sells-group/enrich-cli/internal/model"
)

// Outcome directs the runner after a stage completes.
type Outcome string

const (
	// Advance moves the entity to the next stage.
	Advance Outcome = "advance"
	// SkipRemaining jumps straight to persistence, recording the entity
	// as completed with partial data.
	SkipRemaining Outcome = "skip-remaining"
	// RetryLater hands the entity back to the worker pool for a delayed
	// reattempt of the same stage.
	RetryLater Outcome = "retry-later"
	// AbortEntity fails this entity and records the error; the execution
	// continues with the next entity.
	AbortEntity Outcome = "abort-entity"
)

// Stage is one step of the enrichment pipeline. Run mutates the state's
// record and reports how the runner should proceed.
type Stage interface {
	Name() string
	Run(ctx context.Context, st *State) (Outcome, error)
}

// State carries one entity through the pipeline, across retry-later
// requeues. The worker pool owns it; exactly one worker touches it at a
// time.
type State struct {
	ExecutionID string
	Entity      model.TargetEntity
	Options     model.ExecutionOptions
	Record      model.EnrichmentRecord

	// Unusable accumulates providers that failed permanently for this
	// entity. Entity-scoped: never shared across entities or executions.
	Unusable map[string]bool

	// Attempts counts retry-later requeues, capped at Options.MaxAttempts.
	Attempts int

	next int // index of the next stage to run, preserved across requeues
}

// NewState prepares pipeline state for one entity.
func NewState(executionID string, entity model.TargetEntity, opts model.ExecutionOptions) *State {
	return &State{
		ExecutionID: executionID,
		Entity:      entity,
		Options:     opts,
		Record:      model.NewEnrichmentRecord(entity),
		Unusable:    make(map[string]bool),
	}
}

// CurrentStage returns the name of the stage the entity will run next,
// for progress display.
func (st *State) CurrentStage(stages []Stage) string {
	if st.next >= 0 && st.next < len(stages) {
		return stages[st.next].Name()
	}
	return ""
}
