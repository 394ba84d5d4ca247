package sink

import (
	"context"

	"atlas/internal/domain"
)

// Composite fans a write out to every configured Adapter and presents a
// single Adapter to the rest of the engine, matching SinkConfig's "both
// may be enabled; a composite sink writes to both" rule. Watermark reads
// are served by the first (primary) adapter only — the two adapters
// always receive the same writes in the same order, so either one's
// watermark state is authoritative.
type Composite struct {
	adapters []Adapter
}

// NewComposite builds a Composite over one or more adapters. Passing a
// single adapter is valid and simply forwards every call to it.
func NewComposite(adapters ...Adapter) *Composite {
	return &Composite{adapters: adapters}
}

func (c *Composite) EnsureContainer(ctx context.Context, templateID domain.TemplateId) error {
	for _, a := range c.adapters {
		if err := a.EnsureContainer(ctx, templateID); err != nil {
			return err
		}
	}
	return nil
}

// BulkInsert writes documents to every adapter in order and merges their
// per-item results conservatively: a document counts as Inserted only if
// every adapter accepted it (as Inserted or Duplicate); any adapter
// reporting Failed makes the merged outcome Failed, carrying that
// adapter's Reason forward.
func (c *Composite) BulkInsert(ctx context.Context, templateID domain.TemplateId, documents []domain.ExportedDocument) ([]InsertResult, error) {
	if len(c.adapters) == 1 {
		return c.adapters[0].BulkInsert(ctx, templateID, documents)
	}

	merged := make([]InsertResult, len(documents))
	for i, d := range documents {
		merged[i] = InsertResult{CompositionUid: d.Envelope.CompositionUid, Outcome: Inserted}
	}

	for _, a := range c.adapters {
		results, err := a.BulkInsert(ctx, templateID, documents)
		if err != nil {
			return nil, err
		}
		for i, r := range results {
			if r.Outcome == Failed {
				merged[i].Outcome = Failed
				merged[i].Reason = r.Reason
				continue
			}
			if merged[i].Outcome != Failed && r.Outcome == Duplicate {
				merged[i].Outcome = Duplicate
			}
		}
	}
	return merged, nil
}

// ReadWatermark defers to the first adapter; watermark state is kept in
// lockstep across adapters since WriteWatermark always fans out.
func (c *Composite) ReadWatermark(ctx context.Context, templateID domain.TemplateId, ehrID domain.EhrId) (domain.Watermark, error) {
	return c.adapters[0].ReadWatermark(ctx, templateID, ehrID)
}

func (c *Composite) WriteWatermark(ctx context.Context, w domain.Watermark) error {
	for _, a := range c.adapters {
		if err := a.WriteWatermark(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// DocumentExists defers to the first adapter, consistent with
// ReadWatermark — both adapters are expected to agree since they always
// receive the same writes.
func (c *Composite) DocumentExists(ctx context.Context, templateID domain.TemplateId, compositionUid domain.CompositionUid) (bool, error) {
	return c.adapters[0].DocumentExists(ctx, templateID, compositionUid)
}
