// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	BatchesStarted        = expvar.NewInt("batches_started")
	BatchesSucceeded      = expvar.NewInt("batches_succeeded")
	BatchesFailed         = expvar.NewInt("batches_failed")
	RecordsProcessed      = expvar.NewInt("records_processed")
	RecordsSkipped        = expvar.NewInt("records_skipped")
	FactsInserted         = expvar.NewInt("facts_inserted")
	FactsUpdated          = expvar.NewInt("facts_updated")
	RecordsRejected       = expvar.NewInt("records_rejected")
	LowConfidenceRejected = expvar.NewInt("low_confidence_rejected")
	PartitionsCreated     = expvar.NewInt("partitions_created")
	ExtractRetries        = expvar.NewInt("extract_retries")
	StaleBatchesRecovered = expvar.NewInt("stale_batches_recovered")
)
