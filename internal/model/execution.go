package model

import "time"

// ExecutionStatus represents the lifecycle state of a batch run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// Depth controls how far the waterfall digs once a provider has answered.
type Depth string

const (
	// DepthStandard stops at the first provider that returns usable data.
	DepthStandard Depth = "standard"
	// DepthComprehensive keeps querying lower-priority providers to fill
	// fields the first responder left empty.
	DepthComprehensive Depth = "comprehensive"
)

// ExecutionOptions are the caller-supplied knobs for a batch run.
type ExecutionOptions struct {
	Depth       Depth    `json:"depth"`
	ProviderSet []string `json:"provider_set,omitempty"` // empty = all configured
	Concurrency int      `json:"concurrency"`
	MaxAttempts int      `json:"max_attempts"`
}

// ErrorClass categorizes a recorded failure.
type ErrorClass string

const (
	ErrorTransient ErrorClass = "transient"
	ErrorPermanent ErrorClass = "permanent"
	ErrorSystemic  ErrorClass = "systemic"
)

// EntityError is one entity's recorded failure: which entity, at which
// stage, and how the error was classified. Never a bare stack trace.
type EntityError struct {
	EntityRef      string     `json:"entity_ref"`
	Stage          string     `json:"stage"`
	Message        string     `json:"message"`
	Classification ErrorClass `json:"classification"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// Execution is one tracked batch run. Owned by the execution manager;
// workers report progress through it, pollers read snapshots of it.
type Execution struct {
	ID                string           `json:"id"`
	Status            ExecutionStatus  `json:"status"`
	Options           ExecutionOptions `json:"options"`
	TotalEntities     int              `json:"total_entities"`
	CompletedEntities int              `json:"completed_entities"`
	FailedEntities    int              `json:"failed_entities"`
	CurrentStageName  string           `json:"current_stage_name,omitempty"`
	Errors            []EntityError    `json:"errors,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// StageResult is the persisted outcome of one stage for one entity.
type StageResult struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	EntityRef   string         `json:"entity_ref"`
	Stage       string         `json:"stage"`
	Outcome     string         `json:"outcome"`
	DurationMS  int64          `json:"duration_ms"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
