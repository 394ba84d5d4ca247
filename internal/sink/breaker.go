package sink

import (
	"context"

	"github.com/sony/gobreaker"

	"atlas/internal/atlaserr"
	"atlas/internal/domain"
)

// BreakingAdapter wraps an Adapter with a sony/gobreaker circuit breaker
// around the two calls that actually touch the backing store on the hot
// write path: EnsureContainer and BulkInsert. ReadWatermark/
// WriteWatermark/DocumentExists pass through unwrapped — they're
// low-volume control-plane calls, not the bulk-write path a flapping
// store threatens.
type BreakingAdapter struct {
	Adapter
	breaker *gobreaker.CircuitBreaker
}

// NewBreakingAdapter wraps inner with breaker.
func NewBreakingAdapter(inner Adapter, breaker *gobreaker.CircuitBreaker) *BreakingAdapter {
	return &BreakingAdapter{Adapter: inner, breaker: breaker}
}

func (b *BreakingAdapter) EnsureContainer(ctx context.Context, templateID domain.TemplateId) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.Adapter.EnsureContainer(ctx, templateID)
	})
	return unwrapBreakerErr(err)
}

func (b *BreakingAdapter) BulkInsert(ctx context.Context, templateID domain.TemplateId, documents []domain.ExportedDocument) ([]InsertResult, error) {
	v, err := b.breaker.Execute(func() (any, error) {
		return b.Adapter.BulkInsert(ctx, templateID, documents)
	})
	if err != nil {
		return nil, unwrapBreakerErr(err)
	}
	results, _ := v.([]InsertResult)
	return results, nil
}

// unwrapBreakerErr classifies gobreaker's own open/too-many-requests
// errors as transient sink failures rather than leaking gobreaker's
// sentinel errors past this package's boundary.
func unwrapBreakerErr(err error) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return atlaserr.New(atlaserr.KindSink, "sink.breaker", "", err)
	}
	return err
}
