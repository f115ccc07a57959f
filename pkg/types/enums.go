// Package types defines the public domain types for the agroflow warehouse-loading engine.
package types

// BatchStatus represents the terminal-or-running state of an audited batch.
type BatchStatus string

// BatchStatus values match the etl_audit_log status column.
const (
	BatchRunning BatchStatus = "RUNNING"
	BatchSuccess BatchStatus = "SUCCESS"
	BatchFailed  BatchStatus = "FAILED"
)

// Stage represents a phase of the batch orchestrator state machine.
type Stage string

// Stage values enumerate the orchestrator phases in execution order.
const (
	StageCreated      Stage = "CREATED"
	StageExtracting   Stage = "EXTRACTING"
	StageTransforming Stage = "TRANSFORMING"
	StageMerging      Stage = "MERGING"
	StageLoading      Stage = "LOADING"
	StageSucceeded    Stage = "SUCCEEDED"
	StageFailed       Stage = "FAILED"
)

// EntityType identifies one of the three ingested data streams.
type EntityType string

const (
	EntityWeather  EntityType = "weather"
	EntitySoil     EntityType = "soil"
	EntityCrop     EntityType = "crop"
	EntityLocation EntityType = "location"
)

// MergeOutcome classifies the result of applying one candidate record.
type MergeOutcome string

const (
	OutcomeApplied       MergeOutcome = "APPLIED"
	OutcomeDuplicate     MergeOutcome = "DUPLICATE"
	OutcomeInserted      MergeOutcome = "INSERTED"
	OutcomeUpdated       MergeOutcome = "UPDATED"
	OutcomeUnchanged     MergeOutcome = "UNCHANGED"
	OutcomeRejected      MergeOutcome = "REJECTED"
	OutcomeLowConfidence MergeOutcome = "LOW_CONFIDENCE_REJECTED"
)

// FailureCategory classifies why an extraction or load step failed.
type FailureCategory string

const (
	FailureTransient  FailureCategory = "TRANSIENT"
	FailurePermanent  FailureCategory = "PERMANENT"
	FailureTimeout    FailureCategory = "TIMEOUT"
	FailureValidation FailureCategory = "VALIDATION"
)
