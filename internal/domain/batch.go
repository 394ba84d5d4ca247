package domain

import "time"

// BatchResult is what the Batch Processor returns for one batch of
// compositions within a single (template, ehr) run.
type BatchResult struct {
	Successful        int
	Failed            int
	DuplicatesSkipped int
	Errors            []error
	PIIDetections     int
	AnonymizationMs   int64
	LastTimestamp     time.Time
	LastUid           CompositionUid
	// SuccessfulUids lists every composition this batch durably wrote
	// (Inserted or Duplicate outcome), feeding the Verifier's post-export
	// sweep (spec §4.11).
	SuccessfulUids []CompositionUid
}

// HasProgress reports whether this batch advanced the watermark-eligible
// frontier at all (successful or duplicate-skipped items contribute).
func (r BatchResult) HasProgress() bool {
	return r.Successful > 0 || r.DuplicatesSkipped > 0
}

// EhrSummary aggregates BatchResults for one (template, ehr) run.
type EhrSummary struct {
	TemplateId        TemplateId
	EhrId             EhrId
	Successful        int
	Failed            int
	DuplicatesSkipped int
	Interrupted       bool
	FinalStatus       WatermarkStatus
	// SuccessfulUids lists every composition durably written across this
	// EHR's batches, feeding the Verifier's post-export sweep (spec §4.11).
	SuccessfulUids []CompositionUid
}

// RunSummary is the top-level coordinator report (spec §4.10).
type RunSummary struct {
	Total             int
	Successful        int
	Failed            int
	DuplicatesSkipped int
	Interrupted       int
	Duration          time.Duration
	PerEhr            []EhrSummary
}

// ExitCode maps the run summary to the process exit code taxonomy in
// spec §4.10.
func (s RunSummary) ExitCode() int {
	if s.Interrupted > 0 {
		return 130
	}
	if s.Failed > 0 {
		return 1
	}
	return 0
}
