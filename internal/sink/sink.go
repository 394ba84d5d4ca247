// Package sink defines the Sink Adapter contract (spec §4.2): idempotent
// persistence of pre-transformed documents and durable storage of
// watermarks, implemented over a partitioned document store
// (internal/sink/document, Badger-backed) and a relational store
// (internal/sink/relational, Postgres via lib/pq).
package sink

import (
	"context"

	"atlas/internal/domain"
)

// InsertOutcome classifies one document's fate within a BulkInsert call.
type InsertOutcome string

const (
	Inserted  InsertOutcome = "inserted"
	Duplicate InsertOutcome = "duplicate"
	Failed    InsertOutcome = "failed"
)

// InsertResult is one document's per-item result. Reason is set only
// when Outcome is Failed.
type InsertResult struct {
	CompositionUid domain.CompositionUid
	Outcome        InsertOutcome
	Reason         string
}

// Adapter is the Sink Adapter contract. Implementations must never
// partially acknowledge a document: BulkInsert reports every input
// document as inserted, duplicate, or failed, and a failed report means
// nothing was written for that document.
type Adapter interface {
	// EnsureContainer makes templateID's destination addressable.
	// Idempotent.
	EnsureContainer(ctx context.Context, templateID domain.TemplateId) error

	// BulkInsert writes documents, returning one InsertResult per input
	// in the same order.
	BulkInsert(ctx context.Context, templateID domain.TemplateId, documents []domain.ExportedDocument) ([]InsertResult, error)

	// ReadWatermark returns the stored watermark for (templateID, ehrID),
	// or domain.NotStarted if none exists.
	ReadWatermark(ctx context.Context, templateID domain.TemplateId, ehrID domain.EhrId) (domain.Watermark, error)

	// WriteWatermark unconditionally upserts w, atomically.
	WriteWatermark(ctx context.Context, w domain.Watermark) error

	// DocumentExists reports whether compositionUid is already durable
	// under templateID. Used by the Verifier.
	DocumentExists(ctx context.Context, templateID domain.TemplateId, compositionUid domain.CompositionUid) (bool, error)
}
