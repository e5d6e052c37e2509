package execution

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/identity"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/pipeline"
	"github.com/sells-group/enrich-cli/internal/provider"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/store"
	"github.com/sells-group/enrich-cli/internal/waterfall"
)

type stubProvider struct {
	name  string
	kinds []model.EntityKind

	mu     sync.Mutex
	lookup func(kind model.EntityKind, ids model.Identifiers) (*provider.LookupResult, error)
}

func (s *stubProvider) Name() string              { return s.name }
func (s *stubProvider) Version() string           { return "test" }
func (s *stubProvider) Kinds() []model.EntityKind { return s.kinds }

func (s *stubProvider) Lookup(_ context.Context, kind model.EntityKind, ids model.Identifiers) (*provider.LookupResult, error) {
	s.mu.Lock()
	fn := s.lookup
	s.mu.Unlock()
	if fn == nil {
		return &provider.LookupResult{
			Fields:     []provider.Field{{FieldKey: "domain", Value: ids.Domain, Confidence: 0.9}},
			Confidence: 0.9,
		}, nil
	}
	return fn(kind, ids)
}

func newTestManager(t *testing.T, providers ...*stubProvider) (*Manager, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	registry := provider.NewRegistry(resilience.DefaultCircuitBreakerConfig())
	for i, p := range providers {
		registry.Register(p, i+1, 1000, 1000)
	}

	pipe := pipeline.New(pipeline.Deps{
		Waterfall: waterfall.NewResolver(registry, resilience.RetryConfig{MaxAttempts: 1}),
		Identity:  identity.NewResolver(st, identity.DefaultConfig()),
		Store:     st,
		Priority:  registry.Priority,
	})
	retry := resilience.RetryConfig{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
	m := New(st, pipe, registry, retry, DefaultLimits())
	t.Cleanup(m.Wait)
	return m, st
}

func companyEntity(domain string) model.TargetEntity {
	return model.TargetEntity{
		Kind:        model.KindCompany,
		OwnerKey:    "ws-1",
		Identifiers: model.Identifiers{Domain: domain},
	}
}

func waitTerminal(t *testing.T, m *Manager, id string) *model.Execution {
	t.Helper()
	var exec *model.Execution
	require.Eventually(t, func() bool {
		var err error
		exec, err = m.GetStatus(context.Background(), id)
		return err == nil && exec.Status.Terminal()
	}, 10*time.Second, 5*time.Millisecond)
	return exec
}

func TestStartExecution_Validation(t *testing.T) {
	m, _ := newTestManager(t, &stubProvider{name: "coresignal", kinds: []model.EntityKind{model.KindCompany}})

	_, err := m.StartExecution(context.Background(), nil, model.ExecutionOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entities")

	_, err = m.StartExecution(context.Background(),
		[]model.TargetEntity{companyEntity("acme.com")},
		model.ExecutionOptions{Concurrency: 999})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestStartExecution_NoProvidersIsSystemicFailure(t *testing.T) {
	m, _ := newTestManager(t) // empty registry

	id, err := m.StartExecution(context.Background(),
		[]model.TargetEntity{companyEntity("acme.com")},
		model.ExecutionOptions{})
	require.NoError(t, err)

	exec, err := m.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionFailed, exec.Status)
	require.Len(t, exec.Errors, 1)
	assert.Equal(t, model.ErrorSystemic, exec.Errors[0].Classification)
	assert.Equal(t, 0, exec.CompletedEntities)
}

func TestExecution_CompletesBatch(t *testing.T) {
	m, _ := newTestManager(t, &stubProvider{name: "coresignal", kinds: []model.EntityKind{model.KindCompany, model.KindPerson}})

	entities := []model.TargetEntity{
		companyEntity("acme.com"),
		companyEntity("globex.com"),
		companyEntity("initech.com"),
	}
	id, err := m.StartExecution(context.Background(), entities, model.ExecutionOptions{Concurrency: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	exec := waitTerminal(t, m, id)
	assert.Equal(t, model.ExecutionCompleted, exec.Status)
	assert.Equal(t, 3, exec.TotalEntities)
	assert.Equal(t, 3, exec.CompletedEntities)
	assert.Equal(t, 0, exec.FailedEntities)
	assert.Empty(t, exec.Errors)
	assert.Empty(t, exec.CurrentStageName)
}

func TestExecution_PartialFailureAccounting(t *testing.T) {
	m, _ := newTestManager(t, &stubProvider{name: "coresignal", kinds: []model.EntityKind{model.KindCompany, model.KindPerson}})

	// Two entities carry no identifiers at all and abort permanently; the
	// rest complete. The execution itself still completes.
	entities := []model.TargetEntity{
		companyEntity("acme.com"),
		{Kind: model.KindCompany, OwnerKey: "ws-1"},
		companyEntity("globex.com"),
		{Kind: model.KindCompany, OwnerKey: "ws-1"},
		companyEntity("initech.com"),
	}
	id, err := m.StartExecution(context.Background(), entities, model.ExecutionOptions{Concurrency: 3})
	require.NoError(t, err)

	exec := waitTerminal(t, m, id)
	assert.Equal(t, model.ExecutionCompleted, exec.Status)
	assert.Equal(t, 3, exec.CompletedEntities)
	assert.Equal(t, 2, exec.FailedEntities)
	require.Len(t, exec.Errors, 2)
	for _, e := range exec.Errors {
		assert.Equal(t, model.ErrorPermanent, e.Classification)
		assert.Equal(t, "company-resolve", e.Stage)
		assert.NotEmpty(t, e.EntityRef)
		assert.NotEmpty(t, e.Message)
	}
	// Reconciliation invariant.
	assert.Equal(t, exec.TotalEntities, exec.CompletedEntities+len(exec.Errors))
}

func TestExecution_Cancel(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	entered := make(chan struct{})

	slow := &stubProvider{name: "coresignal", kinds: []model.EntityKind{model.KindCompany, model.KindPerson}}
	slow.lookup = func(_ model.EntityKind, ids model.Identifiers) (*provider.LookupResult, error) {
		once.Do(func() { close(entered) })
		<-release
		return &provider.LookupResult{
			Fields:     []provider.Field{{FieldKey: "domain", Value: ids.Domain, Confidence: 0.9}},
			Confidence: 0.9,
		}, nil
	}
	m, _ := newTestManager(t, slow)

	entities := []model.TargetEntity{
		companyEntity("acme.com"),
		companyEntity("globex.com"),
		companyEntity("initech.com"),
		companyEntity("umbrella.com"),
	}
	id, err := m.StartExecution(context.Background(), entities, model.ExecutionOptions{Concurrency: 1})
	require.NoError(t, err)

	<-entered
	require.NoError(t, m.Cancel(context.Background(), id))
	close(release)

	exec := waitTerminal(t, m, id)
	assert.Equal(t, model.ExecutionCancelled, exec.Status)

	// Cancelling again is a no-op; the snapshot never regresses.
	require.NoError(t, m.Cancel(context.Background(), id))
	after, err := m.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after.CompletedEntities, exec.CompletedEntities)
	assert.Equal(t, model.ExecutionCancelled, after.Status)
}

func TestExecution_IDsAreMonotonic(t *testing.T) {
	m, _ := newTestManager(t, &stubProvider{name: "coresignal", kinds: []model.EntityKind{model.KindCompany, model.KindPerson}})

	first, err := m.StartExecution(context.Background(),
		[]model.TargetEntity{companyEntity("acme.com")}, model.ExecutionOptions{})
	require.NoError(t, err)
	second, err := m.StartExecution(context.Background(),
		[]model.TargetEntity{companyEntity("globex.com")}, model.ExecutionOptions{})
	require.NoError(t, err)

	assert.Len(t, first, 26)
	assert.Greater(t, second, first, "execution IDs sort by creation order")

	waitTerminal(t, m, first)
	waitTerminal(t, m, second)
}

func TestExecution_ListExecutions(t *testing.T) {
	m, _ := newTestManager(t, &stubProvider{name: "coresignal", kinds: []model.EntityKind{model.KindCompany, model.KindPerson}})

	id, err := m.StartExecution(context.Background(),
		[]model.TargetEntity{companyEntity("acme.com")}, model.ExecutionOptions{})
	require.NoError(t, err)
	waitTerminal(t, m, id)

	execs, err := m.ListExecutions(context.Background(), store.ExecutionFilter{Status: model.ExecutionCompleted})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, id, execs[0].ID)
}
