// Package execution owns the lifecycle of batch runs: IDs, progress
// accounting, cancellation, and status snapshots.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/pipeline"
	"github.com/sells-group/enrich-cli/internal/provider"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/store"
	"github.com/sells-group/enrich-cli/internal/worker"
)

// Limits are the manager-level execution constraints.
type Limits struct {
	MaxConcurrency     int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	DefaultConcurrency int `yaml:"default_concurrency" mapstructure:"default_concurrency"`
	DefaultMaxAttempts int `yaml:"default_max_attempts" mapstructure:"default_max_attempts"`
}

// DefaultLimits returns the standard execution constraints.
func DefaultLimits() Limits {
	return Limits{
		MaxConcurrency:     16,
		DefaultConcurrency: 4,
		DefaultMaxAttempts: 3,
	}
}

// run is the in-memory side of one active execution: the single-writer
// progress state plus the cooperative cancel handle.
type run struct {
	mu       sync.Mutex
	exec     *model.Execution
	stages   map[string]string // entityRef -> last-entered stage
	cancel   context.CancelFunc
	systemic error
}

// Manager starts, tracks, and cancels executions. All mutation of an
// Execution funnels through its run's mutex; pollers read persisted
// snapshots and never block on the worker pool.
type Manager struct {
	store    store.Store
	pipeline *pipeline.Pipeline
	registry *provider.Registry
	retry    resilience.RetryConfig
	limits   Limits

	stageOrder []string

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// New creates an execution manager and hooks the pipeline's stage
// observer for progress display.
func New(st store.Store, p *pipeline.Pipeline, registry *provider.Registry, retry resilience.RetryConfig, limits Limits) *Manager {
	if limits.MaxConcurrency <= 0 {
		limits.MaxConcurrency = DefaultLimits().MaxConcurrency
	}
	if limits.DefaultConcurrency <= 0 {
		limits.DefaultConcurrency = DefaultLimits().DefaultConcurrency
	}
	if limits.DefaultMaxAttempts <= 0 {
		limits.DefaultMaxAttempts = DefaultLimits().DefaultMaxAttempts
	}

	order := make([]string, 0, len(p.Stages()))
	for _, s := range p.Stages() {
		order = append(order, s.Name())
	}

	m := &Manager{
		store:      st,
		pipeline:   p,
		registry:   registry,
		retry:      retry,
		limits:     limits,
		stageOrder: order,
		runs:       make(map[string]*run),
	}
	p.SetStageObserver(m.onStageStart)
	return m
}

// StartExecution validates the batch, persists a new execution, and
// starts enrichment asynchronously. The returned ID is available
// immediately for polling.
//
// A systemic precondition failure (no providers configured) still
// creates the execution, already in status failed with a single
// top-level error, so callers observe it through the normal poll path.
func (m *Manager) StartExecution(ctx context.Context, entities []model.TargetEntity, opts model.ExecutionOptions) (string, error) {
	if len(entities) == 0 {
		return "", eris.New("execution: batch contains no entities")
	}
	if opts.Concurrency > m.limits.MaxConcurrency {
		return "", eris.Errorf("execution: concurrency %d exceeds maximum %d", opts.Concurrency, m.limits.MaxConcurrency)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = m.limits.DefaultConcurrency
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = m.limits.DefaultMaxAttempts
	}
	if opts.Depth == "" {
		opts.Depth = model.DepthStandard
	}

	now := time.Now().UTC()
	exec := &model.Execution{
		ID:            ulid.Make().String(),
		Status:        model.ExecutionPending,
		Options:       opts,
		TotalEntities: len(entities),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if m.registry.Len() == 0 {
		exec.Status = model.ExecutionFailed
		exec.Errors = []model.EntityError{{
			Message:        "no providers configured",
			Classification: model.ErrorSystemic,
			OccurredAt:     now,
		}}
		if err := m.store.CreateExecution(ctx, exec); err != nil {
			return "", eris.Wrap(err, "execution: create")
		}
		return exec.ID, nil
	}

	if err := m.store.CreateExecution(ctx, exec); err != nil {
		return "", eris.Wrap(err, "execution: create")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		exec:   exec,
		stages: make(map[string]string, len(entities)),
		cancel: cancel,
	}
	m.mu.Lock()
	m.runs[exec.ID] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go m.process(runCtx, r, entities)

	zap.L().Info("execution: started",
		zap.String("execution_id", exec.ID),
		zap.Int("entities", len(entities)),
		zap.String("depth", string(opts.Depth)),
		zap.Int("concurrency", opts.Concurrency),
	)
	return exec.ID, nil
}

// GetStatus returns the latest persisted snapshot. Safe for concurrent
// use; never blocks on the worker pool.
func (m *Manager) GetStatus(ctx context.Context, executionID string) (*model.Execution, error) {
	return m.store.GetExecution(ctx, executionID)
}

// ListExecutions proxies the store's execution listing.
func (m *Manager) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]model.Execution, error) {
	return m.store.ListExecutions(ctx, filter)
}

// Cancel marks the execution cancelled and signals in-flight entities to
// stop at their next stage boundary. Partial results already persisted
// are preserved. Cancelling an already-cancelled execution is a no-op;
// cancelling a completed or failed one is an error.
func (m *Manager) Cancel(ctx context.Context, executionID string) error {
	m.mu.Lock()
	r, ok := m.runs[executionID]
	m.mu.Unlock()

	if !ok {
		exec, err := m.store.GetExecution(ctx, executionID)
		if err != nil {
			return err
		}
		if exec.Status == model.ExecutionCancelled {
			return nil
		}
		if exec.Status.Terminal() {
			return eris.Errorf("execution: %s is already %s", executionID, exec.Status)
		}
		// Not in memory and not terminal: a stale row from a previous
		// process. Mark it cancelled directly.
		exec.Status = model.ExecutionCancelled
		return m.store.UpdateExecution(ctx, exec)
	}

	r.mu.Lock()
	if r.exec.Status.Terminal() {
		status := r.exec.Status
		r.mu.Unlock()
		if status == model.ExecutionCancelled {
			return nil
		}
		return eris.Errorf("execution: %s is already %s", executionID, status)
	}
	r.exec.Status = model.ExecutionCancelled
	r.exec.UpdatedAt = time.Now().UTC()
	m.persistLocked(ctx, r)
	r.mu.Unlock()

	r.cancel()
	zap.L().Info("execution: cancelled", zap.String("execution_id", executionID))
	return nil
}

// Wait blocks until all in-flight executions finish. Used on shutdown.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) process(ctx context.Context, r *run, entities []model.TargetEntity) {
	defer m.wg.Done()
	defer r.cancel()

	r.mu.Lock()
	r.exec.Status = model.ExecutionRunning
	r.exec.UpdatedAt = time.Now().UTC()
	m.persistLocked(ctx, r)
	opts := r.exec.Options
	executionID := r.exec.ID
	r.mu.Unlock()

	states := make([]*pipeline.State, len(entities))
	for i, entity := range entities {
		states[i] = pipeline.NewState(executionID, entity, opts)
	}

	pool := worker.New(m.pipeline, m.retry)
	pool.Run(ctx, states, opts.Concurrency, func(st *pipeline.State, res pipeline.EntityResult) {
		m.onResult(r, st, res)
	})

	r.mu.Lock()
	switch {
	case r.systemic != nil:
		r.exec.Status = model.ExecutionFailed
	case r.exec.Status == model.ExecutionCancelled:
		// keep
	default:
		r.exec.Status = model.ExecutionCompleted
	}
	r.exec.CurrentStageName = ""
	r.exec.UpdatedAt = time.Now().UTC()
	// Persist the terminal snapshot even though ctx is done.
	m.persistLocked(context.Background(), r)
	status := r.exec.Status
	completed := r.exec.CompletedEntities
	failed := r.exec.FailedEntities
	r.mu.Unlock()

	m.mu.Lock()
	delete(m.runs, executionID)
	m.mu.Unlock()

	zap.L().Info("execution: finished",
		zap.String("execution_id", executionID),
		zap.String("status", string(status)),
		zap.Int("completed", completed),
		zap.Int("failed", failed),
	)
}

// onResult folds one entity's terminal result into the execution.
// Progress is monotonic: counters only ever increase.
func (m *Manager) onResult(r *run, st *pipeline.State, res pipeline.EntityResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.stages, st.Entity.Ref())

	switch res.Status {
	case pipeline.StatusCompleted:
		r.exec.CompletedEntities++
	case pipeline.StatusAborted:
		r.exec.FailedEntities++
		if res.Err != nil {
			r.exec.Errors = append(r.exec.Errors, *res.Err)
			if res.Err.Classification == model.ErrorSystemic && r.systemic == nil {
				r.systemic = eris.New(res.Err.Message)
				zap.L().Error("execution: systemic failure, aborting",
					zap.String("execution_id", r.exec.ID),
					zap.String("message", res.Err.Message),
				)
				r.cancel()
			}
		}
	case pipeline.StatusCancelled:
		// Neither completed nor failed; the entity never reached a
		// terminal per-entity state.
	}

	r.exec.CurrentStageName = m.majorityStage(r.stages)
	r.exec.UpdatedAt = time.Now().UTC()
	m.persistLocked(context.Background(), r)
}

// onStageStart is the pipeline's stage observer. It feeds the
// majority-vote currentStageName, which is display-only.
func (m *Manager) onStageStart(st *pipeline.State, stage string) {
	m.mu.Lock()
	r, ok := m.runs[st.ExecutionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	r.stages[st.Entity.Ref()] = stage
	r.exec.CurrentStageName = m.majorityStage(r.stages)
	r.mu.Unlock()
}

// majorityStage returns the stage most in-flight entities last entered.
// Ties resolve to the earliest stage in pipeline order.
func (m *Manager) majorityStage(stages map[string]string) string {
	if len(stages) == 0 {
		return ""
	}
	counts := make(map[string]int, len(stages))
	for _, s := range stages {
		counts[s]++
	}
	best, bestCount := "", 0
	for _, name := range m.stageOrder {
		if counts[name] > bestCount {
			best, bestCount = name, counts[name]
		}
	}
	return best
}

// persistLocked writes the execution snapshot. Callers hold r.mu. A
// failed write is logged, not surfaced: progress lives in memory and the
// next update retries.
func (m *Manager) persistLocked(ctx context.Context, r *run) {
	if err := m.store.UpdateExecution(ctx, r.exec); err != nil {
		zap.L().Warn("execution: failed to persist snapshot",
			zap.String("execution_id", r.exec.ID),
			zap.Error(err),
		)
	}
}
