// Package watermark layers the status FSM and forward-only progress
// invariants of spec §3 over a raw sink.Adapter's ReadWatermark/
// WriteWatermark pair — the Sink Adapter only durably stores whatever
// Watermark it's handed, it doesn't enforce the FSM transitions or the
// never-decreases invariant. Generalized from the teacher's
// resources.Manager, whose Checkpoint/checkpointLoop durably record
// "this unit of work finished" against a keyed store; here the keyed
// store is the sink's watermark column/bucket instead of an in-process
// append-only file, and the unit of work is one (template, ehr) batch
// run instead of one scraped URL.
package watermark

import (
	"context"
	"fmt"
	"time"

	"atlas/internal/domain"
	"atlas/internal/sink"
)

// Store wraps a sink.Adapter with the watermark lifecycle: Begin loads
// or creates a record and transitions it to in_progress, Commit/Fail
// advance it to a terminal state, and every write goes through
// Watermark.Advance so LastExportedTimestamp/CompositionsExportedCount
// only move forward (invariant 2, spec §3).
type Store struct {
	adapter sink.Adapter
}

// New builds a Store over adapter.
func New(adapter sink.Adapter) *Store {
	return &Store{adapter: adapter}
}

// Begin loads the current watermark for (template, ehr) — or
// domain.NotStarted if none exists — and transitions it to in_progress
// before any new write, per spec §3's rule that a terminal-state record
// is reopened rather than appended to blind. The returned watermark is
// durable before Begin returns: a crash between Begin and the first
// Commit leaves the record honestly in_progress, not silently stale.
func (s *Store) Begin(ctx context.Context, template domain.TemplateId, ehr domain.EhrId) (domain.Watermark, error) {
	current, err := s.adapter.ReadWatermark(ctx, template, ehr)
	if err != nil {
		return domain.Watermark{}, fmt.Errorf("watermark: read %s/%s: %w", template, ehr, err)
	}
	current.Status = domain.StatusInProgress
	current.LastExportStartedAt = time.Now().UTC()
	if err := s.adapter.WriteWatermark(ctx, current); err != nil {
		return domain.Watermark{}, fmt.Errorf("watermark: begin %s/%s: %w", template, ehr, err)
	}
	return current, nil
}

// Commit advances w with one batch's progress and writes it back still
// in_progress (spec §4.8 step 6: a batch's commit is a progress-only
// advance, not the EHR's terminal transition). The caller must only call
// Commit after the sink's BulkInsert for this batch has acknowledged
// every document (spec §3's ordering requirement: watermark advance
// follows durable write, never precedes it). An EHR with multiple
// batches calls Commit once per batch and only reaches a terminal state
// via a later Complete/Fail/Interrupt call once its batch loop ends.
func (s *Store) Commit(ctx context.Context, w domain.Watermark, lastTimestamp time.Time, lastUid domain.CompositionUid, delta int64) (domain.Watermark, error) {
	next := w.Advance(lastTimestamp, lastUid, delta)
	next.Status = domain.StatusInProgress
	if err := s.adapter.WriteWatermark(ctx, next); err != nil {
		return domain.Watermark{}, fmt.Errorf("watermark: commit %s/%s: %w", w.TemplateId, w.EhrId, err)
	}
	return next, nil
}

// Complete marks w completed once an EHR's entire batch loop has
// exited cleanly — the distinct end-of-EHR MARK_COMPLETED transition
// spec §4.10 describes, separate from Commit's per-batch progress
// advance so a multi-batch EHR only reads as completed in the durable
// store after its last batch, not its first.
func (s *Store) Complete(ctx context.Context, w domain.Watermark) (domain.Watermark, error) {
	next := w
	next.Status = domain.StatusCompleted
	next.LastExportCompletedAt = time.Now().UTC()
	if err := s.adapter.WriteWatermark(ctx, next); err != nil {
		return domain.Watermark{}, fmt.Errorf("watermark: complete %s/%s: %w", w.TemplateId, w.EhrId, err)
	}
	return next, nil
}

// Fail marks w failed without advancing its progress fields, so a
// retried run picks up from the last acknowledged point rather than
// from wherever the failed attempt happened to stop.
func (s *Store) Fail(ctx context.Context, w domain.Watermark) error {
	w.Status = domain.StatusFailed
	if err := s.adapter.WriteWatermark(ctx, w); err != nil {
		return fmt.Errorf("watermark: fail %s/%s: %w", w.TemplateId, w.EhrId, err)
	}
	return nil
}

// Interrupt marks w interrupted — used by the Shutdown Controller when
// a drain deadline expires with this (template, ehr) pair still mid-
// batch, distinct from Fail so operators can tell a graceful-shutdown
// interruption apart from a hard error.
func (s *Store) Interrupt(ctx context.Context, w domain.Watermark) error {
	w.Status = domain.StatusInterrupted
	if err := s.adapter.WriteWatermark(ctx, w); err != nil {
		return fmt.Errorf("watermark: interrupt %s/%s: %w", w.TemplateId, w.EhrId, err)
	}
	return nil
}
