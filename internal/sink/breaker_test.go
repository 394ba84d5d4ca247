package sink

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlas/internal/atlaserr"
	"atlas/internal/domain"
)

func testBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "test",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})
}

func TestBreakingAdapterForwardsSuccessfulBulkInsert(t *testing.T) {
	inner := &stubAdapter{insertResults: []InsertResult{{CompositionUid: "uid-1", Outcome: Inserted}}}
	a := NewBreakingAdapter(inner, testBreaker())

	results, err := a.BulkInsert(context.Background(), "vitals.v1", []domain.ExportedDocument{doc("uid-1")})
	require.NoError(t, err)
	assert.Equal(t, Inserted, results[0].Outcome)
}

func TestBreakingAdapterTripsAfterConsecutiveFailuresAndFailsFast(t *testing.T) {
	inner := &stubAdapter{insertErr: fmt.Errorf("store unavailable")}
	breaker := testBreaker()
	a := NewBreakingAdapter(inner, breaker)

	for i := 0; i < 2; i++ {
		_, err := a.BulkInsert(context.Background(), "vitals.v1", []domain.ExportedDocument{doc("uid-1")})
		assert.Error(t, err)
	}

	_, err := a.BulkInsert(context.Background(), "vitals.v1", []domain.ExportedDocument{doc("uid-1")})
	require.Error(t, err)
	assert.Equal(t, atlaserr.KindSink, atlaserr.KindOf(err))
}

func TestBreakingAdapterWrapsEnsureContainer(t *testing.T) {
	inner := &stubAdapter{}
	a := NewBreakingAdapter(inner, testBreaker())

	require.NoError(t, a.EnsureContainer(context.Background(), "vitals.v1"))
}
