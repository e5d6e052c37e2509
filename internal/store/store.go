// Package store persists executions, stage results, and enriched
// entities. The pipeline depends only on this interface, never on a
// specific schema or driver.
package store

import (
	"context"
	"time"

	"github.com/sells-group/enrich-cli/internal/model"
)

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	Status       model.ExecutionStatus `json:"status,omitempty"`
	CreatedAfter time.Time             `json:"created_after,omitempty"`
	Limit        int                   `json:"limit,omitempty"`
	Offset       int                   `json:"offset,omitempty"`
}

// Store is the persistence boundary for the enrichment pipeline.
type Store interface {
	// Executions
	CreateExecution(ctx context.Context, exec *model.Execution) error
	UpdateExecution(ctx context.Context, exec *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error)

	// Stage results
	CreateStageResult(ctx context.Context, result *model.StageResult) error
	ListStageResults(ctx context.Context, executionID string) ([]model.StageResult, error)

	// Entities
	Upsert(ctx context.Context, record model.EnrichmentRecord, match model.MatchCandidate) (string, error)
	FindCandidates(ctx context.Context, entity model.TargetEntity) ([]model.StoredEntity, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
