package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/identity"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/provider"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/store"
	"github.com/sells-group/enrich-cli/internal/waterfall"
)

// mockProvider is a scriptable provider for pipeline tests.
type mockProvider struct {
	name  string
	kinds []model.EntityKind

	mu     sync.Mutex
	calls  int
	lookup func(kind model.EntityKind, ids model.Identifiers) (*provider.LookupResult, error)
}

func (m *mockProvider) Name() string             { return m.name }
func (m *mockProvider) Version() string          { return "test" }
func (m *mockProvider) Kinds() []model.EntityKind { return m.kinds }

func (m *mockProvider) Lookup(_ context.Context, kind model.EntityKind, ids model.Identifiers) (*provider.LookupResult, error) {
	m.mu.Lock()
	m.calls++
	fn := m.lookup
	m.mu.Unlock()
	if fn == nil {
		return &provider.LookupResult{Provider: m.name}, nil
	}
	return fn(kind, ids)
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func companyFields(fields map[string]any) func(model.EntityKind, model.Identifiers) (*provider.LookupResult, error) {
	return func(kind model.EntityKind, _ model.Identifiers) (*provider.LookupResult, error) {
		if kind != model.KindCompany {
			return &provider.LookupResult{}, nil
		}
		lr := &provider.LookupResult{Confidence: 0.9}
		for k, v := range fields {
			lr.Fields = append(lr.Fields, provider.Field{FieldKey: k, Value: v, Confidence: 0.9})
		}
		return lr, nil
	}
}

func peopleResult(people ...provider.Person) func(model.EntityKind, model.Identifiers) (*provider.LookupResult, error) {
	return func(kind model.EntityKind, _ model.Identifiers) (*provider.LookupResult, error) {
		if kind != model.KindPerson {
			return &provider.LookupResult{}, nil
		}
		return &provider.LookupResult{People: people, Confidence: 0.9}, nil
	}
}

type testHarness struct {
	registry *provider.Registry
	store    *store.SQLiteStore
	pipeline *Pipeline
}

func newHarness(t *testing.T, providers ...*mockProvider) *testHarness {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	registry := provider.NewRegistry(resilience.DefaultCircuitBreakerConfig())
	for i, p := range providers {
		registry.Register(p, i+1, 1000, 1000)
	}

	deps := Deps{
		Waterfall: waterfall.NewResolver(registry, resilience.RetryConfig{MaxAttempts: 1}),
		Identity:  identity.NewResolver(st, identity.DefaultConfig()),
		Store:     st,
		Priority:  registry.Priority,
	}
	return &testHarness{
		registry: registry,
		store:    st,
		pipeline: New(deps),
	}
}

func defaultOptions() model.ExecutionOptions {
	return model.ExecutionOptions{
		Depth:       model.DepthStandard,
		Concurrency: 1,
		MaxAttempts: 3,
	}
}
