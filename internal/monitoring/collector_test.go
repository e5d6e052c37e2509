package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/provider"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedExecution(t *testing.T, st *store.SQLiteStore, id string, status model.ExecutionStatus, age time.Duration, errs ...model.EntityError) {
	t.Helper()
	now := time.Now().UTC()
	exec := &model.Execution{
		ID:                id,
		Status:            status,
		TotalEntities:     4,
		CompletedEntities: 3,
		FailedEntities:    1,
		Errors:            errs,
		CreatedAt:         now.Add(-age),
		UpdatedAt:         now.Add(-age),
	}
	require.NoError(t, st.CreateExecution(context.Background(), exec))
}

func TestCollect_StatusCountsAndFailRate(t *testing.T) {
	st := newTestStore(t)
	seedExecution(t, st, "ex-1", model.ExecutionCompleted, time.Hour)
	seedExecution(t, st, "ex-2", model.ExecutionCompleted, 2*time.Hour)
	seedExecution(t, st, "ex-3", model.ExecutionCompleted, 3*time.Hour)
	seedExecution(t, st, "ex-4", model.ExecutionFailed, time.Hour)
	seedExecution(t, st, "ex-5", model.ExecutionRunning, time.Minute)
	seedExecution(t, st, "ex-6", model.ExecutionCancelled, time.Hour)

	c := NewCollector(st, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 6, snap.ExecutionsTotal)
	assert.Equal(t, 3, snap.ExecutionsCompleted)
	assert.Equal(t, 1, snap.ExecutionsFailed)
	assert.Equal(t, 1, snap.ExecutionsRunning)
	assert.Equal(t, 1, snap.ExecutionsCancelled)
	assert.InDelta(t, 0.25, snap.ExecutionFailRate, 1e-9)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollect_LookbackWindowExcludesOldExecutions(t *testing.T) {
	st := newTestStore(t)
	seedExecution(t, st, "ex-recent", model.ExecutionCompleted, time.Hour)
	seedExecution(t, st, "ex-stale", model.ExecutionFailed, 48*time.Hour)

	c := NewCollector(st, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.ExecutionsTotal)
	assert.Equal(t, 0, snap.ExecutionsFailed)
	assert.Zero(t, snap.ExecutionFailRate)
}

func TestCollect_ErrorClassBreakdown(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	seedExecution(t, st, "ex-1", model.ExecutionFailed, time.Hour,
		model.EntityError{EntityRef: "a", Classification: model.ErrorTransient, OccurredAt: now},
		model.EntityError{EntityRef: "b", Classification: model.ErrorPermanent, OccurredAt: now},
		model.EntityError{EntityRef: "c", Classification: model.ErrorPermanent, OccurredAt: now},
	)
	seedExecution(t, st, "ex-2", model.ExecutionFailed, time.Hour,
		model.EntityError{EntityRef: "d", Classification: model.ErrorSystemic, OccurredAt: now},
	)

	c := NewCollector(st, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.ErrorsTransient)
	assert.Equal(t, 2, snap.ErrorsPermanent)
	assert.Equal(t, 1, snap.ErrorsSystemic)
}

func TestCollect_ProviderHealth(t *testing.T) {
	st := newTestStore(t)

	registry := provider.NewRegistry(resilience.DefaultCircuitBreakerConfig())
	registry.Register(&staticMonProvider{name: "alpha"}, 1, 10, 10)
	registry.Register(&staticMonProvider{name: "beta"}, 2, 10, 10)
	registry.Disable("beta")

	c := NewCollector(st, registry)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.ProvidersHealthy)
	assert.Equal(t, []string{"beta"}, snap.ProvidersDisabled)
}

func TestCollect_EntityTotals(t *testing.T) {
	st := newTestStore(t)
	seedExecution(t, st, "ex-1", model.ExecutionCompleted, time.Hour)
	seedExecution(t, st, "ex-2", model.ExecutionCompleted, time.Hour)

	c := NewCollector(st, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 8, snap.EntitiesTotal)
	assert.Equal(t, 6, snap.EntitiesCompleted)
	assert.Equal(t, 2, snap.EntitiesFailed)
}

type staticMonProvider struct{ name string }

func (p *staticMonProvider) Name() string    { return p.name }
func (p *staticMonProvider) Version() string { return "test" }
func (p *staticMonProvider) Kinds() []model.EntityKind {
	return []model.EntityKind{model.KindCompany}
}

func (p *staticMonProvider) Lookup(context.Context, model.EntityKind, model.Identifiers) (*provider.LookupResult, error) {
	return &provider.LookupResult{Provider: p.name}, nil
}
