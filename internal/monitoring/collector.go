// Package monitoring collects execution and provider health metrics and
// raises webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/provider"
	"github.com/sells-group/enrich-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Execution metrics (within lookback window).
	ExecutionsTotal     int     `json:"executions_total"`
	ExecutionsCompleted int     `json:"executions_completed"`
	ExecutionsFailed    int     `json:"executions_failed"`
	ExecutionsCancelled int     `json:"executions_cancelled"`
	ExecutionsRunning   int     `json:"executions_running"`
	ExecutionFailRate   float64 `json:"execution_fail_rate"`

	// Entity-level accounting across those executions.
	EntitiesTotal     int `json:"entities_total"`
	EntitiesCompleted int `json:"entities_completed"`
	EntitiesFailed    int `json:"entities_failed"`

	// Recorded errors by classification.
	ErrorsTransient int `json:"errors_transient"`
	ErrorsPermanent int `json:"errors_permanent"`
	ErrorsSystemic  int `json:"errors_systemic"`

	// Provider health at collection time.
	ProvidersHealthy  int      `json:"providers_healthy"`
	ProvidersDisabled []string `json:"providers_disabled,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store and provider registry.
type Collector struct {
	store    store.Store
	registry *provider.Registry
}

// NewCollector creates a metrics collector. The registry may be nil when
// only execution metrics are wanted.
func NewCollector(st store.Store, registry *provider.Registry) *Collector {
	return &Collector{store: st, registry: registry}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	execs, err := c.store.ListExecutions(ctx, store.ExecutionFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list executions")
	}

	snap.ExecutionsTotal = len(execs)
	for _, e := range execs {
		switch e.Status {
		case model.ExecutionCompleted:
			snap.ExecutionsCompleted++
		case model.ExecutionFailed:
			snap.ExecutionsFailed++
		case model.ExecutionCancelled:
			snap.ExecutionsCancelled++
		case model.ExecutionRunning, model.ExecutionPending:
			snap.ExecutionsRunning++
		}

		snap.EntitiesTotal += e.TotalEntities
		snap.EntitiesCompleted += e.CompletedEntities
		snap.EntitiesFailed += e.FailedEntities

		for _, entErr := range e.Errors {
			switch entErr.Classification {
			case model.ErrorTransient:
				snap.ErrorsTransient++
			case model.ErrorPermanent:
				snap.ErrorsPermanent++
			case model.ErrorSystemic:
				snap.ErrorsSystemic++
			}
		}
	}

	finished := snap.ExecutionsCompleted + snap.ExecutionsFailed
	if finished > 0 {
		snap.ExecutionFailRate = float64(snap.ExecutionsFailed) / float64(finished)
	}

	if c.registry != nil {
		for _, s := range c.registry.Statuses() {
			if s.Health == provider.Healthy {
				snap.ProvidersHealthy++
			} else {
				snap.ProvidersDisabled = append(snap.ProvidersDisabled, s.Name)
			}
		}
	}

	return snap, nil
}
