package types

import "errors"

// Sentinel errors forming the load-failure taxonomy. Per-record conditions
// (validation, low confidence, unresolved dimension) are counted and never
// abort a batch; infrastructure failures are retried and escalate only once
// the retry budget is exhausted. Duplicates are not errors at all, they
// surface as OutcomeDuplicate.
var (
	ErrValidationFailure   = errors.New("validation failure")
	ErrLowConfidence       = errors.New("extraction confidence below floor")
	ErrDimensionUnresolved = errors.New("dimension key unresolved")
	ErrTransientInfra      = errors.New("transient infrastructure failure")
	ErrFatalInfra          = errors.New("fatal infrastructure failure")
	ErrBatchCancelled      = errors.New("batch cancelled")
)
