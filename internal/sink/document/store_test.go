package document

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlas/internal/domain"
	"atlas/internal/sink"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDoc(template domain.TemplateId, ehr domain.EhrId, uid domain.CompositionUid) domain.ExportedDocument {
	return domain.ExportedDocument{
		Envelope: domain.ExportEnvelope{
			EhrId:          ehr,
			CompositionUid: uid,
			TemplateId:     template,
			TimeCommitted:  time.Unix(100, 0).UTC(),
			ExportMode:     "incremental",
			ExportedAt:     time.Unix(200, 0).UTC(),
		},
		Content: map[string]any{"k": "v"},
	}
}

func TestBulkInsertThenDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("T1", "E1", "C1")
	results, err := s.BulkInsert(ctx, "T1", []domain.ExportedDocument{doc})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, sink.Inserted, results[0].Outcome)

	results, err = s.BulkInsert(ctx, "T1", []domain.ExportedDocument{doc})
	require.NoError(t, err)
	assert.Equal(t, sink.Duplicate, results[0].Outcome)
}

func TestDocumentExistsAcrossEhrPartitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("T1", "E1", "C1")
	_, err := s.BulkInsert(ctx, "T1", []domain.ExportedDocument{doc})
	require.NoError(t, err)

	exists, err := s.DocumentExists(ctx, "T1", "C1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.DocumentExists(ctx, "T1", "unknown")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWatermarkRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	w, err := s.ReadWatermark(ctx, "T1", "E1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNotStarted, w.Status)

	w = w.Advance(time.Unix(100, 0), "C1", 1)
	w.Status = domain.StatusCompleted
	require.NoError(t, s.WriteWatermark(ctx, w))

	got, err := s.ReadWatermark(ctx, "T1", "E1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.EqualValues(t, 1, got.CompositionsExportedCount)
}
