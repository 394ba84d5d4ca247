package domain

import "time"

// WatermarkStatus is the status FSM described in spec §3: a watermark
// transitions not_started -> in_progress -> {completed|failed|interrupted},
// and from any terminal state the next run transitions it back to
// in_progress before any new write.
type WatermarkStatus string

const (
	StatusNotStarted WatermarkStatus = "not_started"
	StatusInProgress WatermarkStatus = "in_progress"
	StatusCompleted  WatermarkStatus = "completed"
	StatusFailed     WatermarkStatus = "failed"
	StatusInterrupted WatermarkStatus = "interrupted"
)

// Watermark is the durable progress marker for one (TemplateId, EhrId) pair.
// last_exported_timestamp and compositions_exported_count never decrease
// across the life of the record (invariant 2, spec §3).
type Watermark struct {
	TemplateId                TemplateId      `json:"template_id"`
	EhrId                     EhrId           `json:"ehr_id"`
	LastExportedTimestamp     time.Time       `json:"last_exported_timestamp"`
	LastExportedCompositionUid CompositionUid `json:"last_exported_composition_uid"`
	CompositionsExportedCount int64           `json:"compositions_exported_count"`
	LastExportStartedAt       time.Time       `json:"last_export_started_at"`
	LastExportCompletedAt     time.Time       `json:"last_export_completed_at"`
	Status                    WatermarkStatus `json:"status"`
}

// Key returns the composite key this watermark is stored under.
func (w Watermark) Key() WatermarkKey {
	return WatermarkKey{Template: w.TemplateId, Ehr: w.EhrId}
}

// NotStarted builds the zero-value watermark load(template, ehr) returns
// when no record exists yet.
func NotStarted(template TemplateId, ehr EhrId) Watermark {
	return Watermark{TemplateId: template, EhrId: ehr, Status: StatusNotStarted}
}

// Advance returns a copy of w with progress merged in according to
// invariant 2 and 3 (spec §3): timestamps/counts only move forward, and
// the advance only happens after the caller has confirmed the batch's
// sink write acknowledged.
func (w Watermark) Advance(lastTimestamp time.Time, lastUid CompositionUid, delta int64) Watermark {
	next := w
	if lastTimestamp.After(next.LastExportedTimestamp) {
		next.LastExportedTimestamp = lastTimestamp
		next.LastExportedCompositionUid = lastUid
	} else if lastTimestamp.Equal(next.LastExportedTimestamp) && lastUid > next.LastExportedCompositionUid {
		next.LastExportedCompositionUid = lastUid
	}
	if delta > 0 {
		next.CompositionsExportedCount += delta
	}
	return next
}
