package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/execution"
	"github.com/sells-group/enrich-cli/internal/identity"
	"github.com/sells-group/enrich-cli/internal/pipeline"
	"github.com/sells-group/enrich-cli/internal/provider"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/store"
	"github.com/sells-group/enrich-cli/internal/waterfall"
	"github.com/sells-group/enrich-cli/pkg/coresignal"
	"github.com/sells-group/enrich-cli/pkg/hunter"
	"github.com/sells-group/enrich-cli/pkg/lusha"
)

// appEnv holds the initialized store, provider registry, and execution
// manager shared by the enrich/serve/executions commands.
type appEnv struct {
	Store    store.Store
	Registry *provider.Registry
	Manager  *execution.Manager
}

// Close waits for in-flight executions and releases the store.
func (e *appEnv) Close() {
	if e.Manager != nil {
		e.Manager.Wait()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return store.NewSQLite(cfg.Store.SQLitePath)
	}
}

// buildRegistry registers every enabled provider from config at its
// waterfall priority and rate budget. Unknown provider names are logged
// and skipped so a stale config entry never blocks startup.
func buildRegistry() *provider.Registry {
	registry := provider.NewRegistry(resilience.DefaultCircuitBreakerConfig())

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}

		var p provider.Provider
		switch name {
		case coresignal.Name:
			p = coresignal.New(pc.Key, coresignal.WithBaseURL(pc.BaseURL))
		case lusha.Name:
			p = lusha.New(pc.Key, lusha.WithBaseURL(pc.BaseURL))
		case hunter.Name:
			p = hunter.New(pc.Key, hunter.WithBaseURL(pc.BaseURL))
		default:
			zap.L().Warn("unknown provider in config, skipping", zap.String("provider", name))
			continue
		}

		registry.Register(p, pc.Priority, pc.RatePerSecond, pc.Burst)
		zap.L().Debug("provider registered",
			zap.String("provider", name),
			zap.Int("priority", pc.Priority),
			zap.Float64("rate_per_second", pc.RatePerSecond),
		)
	}
	return registry
}

// initEnv sets up the store, registry, pipeline, and execution manager.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	registry := buildRegistry()

	stageRetry := resilience.DefaultRetryConfig()
	poolRetry := resilience.RetryConfig{
		InitialBackoff: time.Duration(cfg.Pipeline.RetryInitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Pipeline.RetryMaxBackoffMS) * time.Millisecond,
	}

	p := pipeline.New(pipeline.Deps{
		Waterfall: waterfall.NewResolver(registry, stageRetry),
		Identity:  identity.NewResolver(st, cfg.Identity),
		Store:     st,
		Priority:  registry.Priority,
	})

	limits := execution.Limits{
		MaxConcurrency:     cfg.Execution.MaxConcurrency,
		DefaultConcurrency: cfg.Execution.DefaultConcurrency,
		DefaultMaxAttempts: cfg.Execution.DefaultMaxAttempts,
	}
	m := execution.New(st, p, registry, poolRetry, limits)

	return &appEnv{Store: st, Registry: registry, Manager: m}, nil
}
