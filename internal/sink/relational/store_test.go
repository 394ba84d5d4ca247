package relational

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlas/internal/domain"
)

// These tests exercise the real Postgres wire protocol via lib/pq and need
// a live database: DBAShand-cdc-sink-redshift, the repo this store's
// upsert shape is grounded on, ships no test files of its own to mirror
// a mock-based style from, and go.mod carries no sqlmock dependency.
// Set ATLAS_TEST_POSTGRES_DSN to run them.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ATLAS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ATLAS_TEST_POSTGRES_DSN not set, skipping relational store integration test")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBulkInsertThenDuplicatePostgres(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	doc := domain.ExportedDocument{
		Envelope: domain.ExportEnvelope{
			EhrId:          "E1",
			CompositionUid: "C1",
			TemplateId:     "T1",
			TimeCommitted:  time.Unix(100, 0).UTC(),
			ExportMode:     "incremental",
			ExportedAt:     time.Unix(200, 0).UTC(),
		},
		Content: map[string]any{"k": "v"},
	}

	results, err := s.BulkInsert(ctx, "T1", []domain.ExportedDocument{doc})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "inserted", string(results[0].Outcome))

	results, err = s.BulkInsert(ctx, "T1", []domain.ExportedDocument{doc})
	require.NoError(t, err)
	assert.Equal(t, "duplicate", string(results[0].Outcome))

	exists, err := s.DocumentExists(ctx, "T1", "C1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWatermarkRoundTripPostgres(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	w, err := s.ReadWatermark(ctx, "T1", "E2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNotStarted, w.Status)

	w = w.Advance(time.Unix(100, 0), "C1", 1)
	w.Status = domain.StatusCompleted
	require.NoError(t, s.WriteWatermark(ctx, w))

	got, err := s.ReadWatermark(ctx, "T1", "E2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.EqualValues(t, 1, got.CompositionsExportedCount)
}
