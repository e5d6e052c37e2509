package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/store"
)

// Status is the per-entity result of one pass through the pipeline.
type Status string

const (
	// StatusCompleted means every stage ran (or was legitimately skipped)
	// and the record is persisted.
	StatusCompleted Status = "completed"
	// StatusRetry means a stage hit a transient failure; the worker pool
	// should requeue the entity with backoff.
	StatusRetry Status = "retry"
	// StatusAborted means the entity failed permanently or systemically.
	StatusAborted Status = "aborted"
	// StatusCancelled means the execution was cancelled at a stage
	// boundary; partial results already persisted are preserved.
	StatusCancelled Status = "cancelled"
)

// EntityResult is what the worker pool receives for one pipeline pass.
type EntityResult struct {
	Status Status
	Err    *model.EntityError
}

// Pipeline drives one entity through the ordered stages, recording a
// StageResult row per stage run.
type Pipeline struct {
	stages   []Stage
	store    store.Store
	observer func(st *State, stage string)
}

// New builds the canonical pipeline from shared dependencies.
func New(deps Deps) *Pipeline {
	return &Pipeline{
		stages: DefaultStages(deps),
		store:  deps.Store,
	}
}

// NewWithStages builds a pipeline from an explicit stage list, for tests
// and partial reruns.
func NewWithStages(stages []Stage, st store.Store) *Pipeline {
	return &Pipeline{stages: stages, store: st}
}

// Stages returns the ordered stage list.
func (p *Pipeline) Stages() []Stage { return p.stages }

// SetStageObserver registers a callback invoked before each stage run.
// The execution manager uses it for its progress display.
func (p *Pipeline) SetStageObserver(fn func(st *State, stage string)) {
	p.observer = fn
}

// Process runs the entity from its current stage to a terminal outcome
// for this pass. Requeued entities resume at the stage that returned
// retry-later, keeping their accumulated record and unusable-provider
// set.
//
// Cancellation is cooperative: the context is checked at stage
// boundaries only, so an in-flight provider call finishes before the
// entity stops.
func (p *Pipeline) Process(ctx context.Context, st *State) EntityResult {
	log := zap.L().With(
		zap.String("execution_id", st.ExecutionID),
		zap.String("entity", st.Entity.Ref()),
	)

	for st.next < len(p.stages) {
		if ctx.Err() != nil {
			log.Info("pipeline: cancelled at stage boundary",
				zap.String("next_stage", p.stages[st.next].Name()),
			)
			return EntityResult{Status: StatusCancelled}
		}

		stage := p.stages[st.next]
		if p.observer != nil {
			p.observer(st, stage.Name())
		}
		outcome, err := p.trackStage(ctx, st, stage)

		switch outcome {
		case Advance:
			st.next++
		case SkipRemaining:
			// Jump to persistence so partial data is still recorded.
			if st.next < len(p.stages)-1 {
				st.next = len(p.stages) - 1
			} else {
				st.next++
			}
		case RetryLater:
			return EntityResult{
				Status: StatusRetry,
				Err:    entityError(st, stage.Name(), err, model.ErrorTransient),
			}
		case AbortEntity:
			class := resilience.Classify(err)
			if class == "" {
				class = model.ErrorPermanent
			}
			log.Warn("pipeline: entity aborted",
				zap.String("stage", stage.Name()),
				zap.String("classification", string(class)),
				zap.Error(err),
			)
			return EntityResult{
				Status: StatusAborted,
				Err:    entityError(st, stage.Name(), err, class),
			}
		}
	}

	log.Debug("pipeline: entity completed")
	return EntityResult{Status: StatusCompleted}
}

// trackStage runs one stage, times it, and persists the StageResult.
// Recording the result row is best-effort: a telemetry write failure
// never changes the entity's outcome.
func (p *Pipeline) trackStage(ctx context.Context, st *State, stage Stage) (Outcome, error) {
	start := time.Now()
	outcome, err := stage.Run(ctx, st)
	duration := time.Since(start).Milliseconds()

	result := &model.StageResult{
		ExecutionID: st.ExecutionID,
		EntityRef:   st.Entity.Ref(),
		Stage:       stage.Name(),
		Outcome:     string(outcome),
		DurationMS:  duration,
	}
	if err != nil {
		result.Error = err.Error()
	}
	if p.store != nil {
		if storeErr := p.store.CreateStageResult(ctx, result); storeErr != nil {
			zap.L().Warn("pipeline: failed to record stage result",
				zap.String("stage", stage.Name()),
				zap.Error(storeErr),
			)
		}
	}

	zap.L().Debug("pipeline: stage finished",
		zap.String("execution_id", st.ExecutionID),
		zap.String("entity", st.Entity.Ref()),
		zap.String("stage", stage.Name()),
		zap.String("outcome", string(outcome)),
		zap.Int64("duration_ms", duration),
	)
	return outcome, err
}

func entityError(st *State, stage string, err error, class model.ErrorClass) *model.EntityError {
	msg := "stage failed"
	if err != nil {
		msg = err.Error()
	}
	return &model.EntityError{
		EntityRef:      st.Entity.Ref(),
		Stage:          stage,
		Message:        msg,
		Classification: class,
		OccurredAt:     time.Now().UTC(),
	}
}
