package watermark

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlas/internal/domain"
	"atlas/internal/sink/document"
)

func openTestAdapter(t *testing.T) *document.Store {
	t.Helper()
	s, err := document.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBeginOnNewPairStartsFromNotStarted(t *testing.T) {
	adapter := openTestAdapter(t)
	store := New(adapter)

	w, err := store.Begin(context.Background(), domain.TemplateId("vitals.v1"), domain.EhrId("ehr-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, w.Status)
	assert.False(t, w.LastExportStartedAt.IsZero())
}

func TestCommitAdvancesProgressAndPersists(t *testing.T) {
	adapter := openTestAdapter(t)
	store := New(adapter)
	ctx := context.Background()
	template := domain.TemplateId("vitals.v1")
	ehr := domain.EhrId("ehr-1")

	w, err := store.Begin(ctx, template, ehr)
	require.NoError(t, err)

	ts := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	committed, err := store.Commit(ctx, w, ts, domain.CompositionUid("uid-1"), 3)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, committed.Status)
	assert.Equal(t, int64(3), committed.CompositionsExportedCount)
	assert.True(t, committed.LastExportedTimestamp.Equal(ts))

	reloaded, err := adapter.ReadWatermark(ctx, template, ehr)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, reloaded.Status)
	assert.Equal(t, int64(3), reloaded.CompositionsExportedCount)
}

func TestCompleteTransitionsToCompletedAfterCommits(t *testing.T) {
	adapter := openTestAdapter(t)
	store := New(adapter)
	ctx := context.Background()
	template := domain.TemplateId("vitals.v1")
	ehr := domain.EhrId("ehr-1")

	w, err := store.Begin(ctx, template, ehr)
	require.NoError(t, err)
	ts := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	committed, err := store.Commit(ctx, w, ts, domain.CompositionUid("uid-1"), 3)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, committed.Status)

	completed, err := store.Complete(ctx, committed)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	assert.False(t, completed.LastExportCompletedAt.IsZero())
	assert.Equal(t, int64(3), completed.CompositionsExportedCount)

	reloaded, err := adapter.ReadWatermark(ctx, template, ehr)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, reloaded.Status)
}

func TestBeginReopensTerminalRecordWithoutLosingProgress(t *testing.T) {
	adapter := openTestAdapter(t)
	store := New(adapter)
	ctx := context.Background()
	template := domain.TemplateId("vitals.v1")
	ehr := domain.EhrId("ehr-1")

	w, err := store.Begin(ctx, template, ehr)
	require.NoError(t, err)
	ts := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	committed, err := store.Commit(ctx, w, ts, domain.CompositionUid("uid-1"), 5)
	require.NoError(t, err)
	_, err = store.Complete(ctx, committed)
	require.NoError(t, err)

	reopened, err := store.Begin(ctx, template, ehr)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, reopened.Status)
	assert.Equal(t, int64(5), reopened.CompositionsExportedCount)
}

func TestFailLeavesProgressUnadvanced(t *testing.T) {
	adapter := openTestAdapter(t)
	store := New(adapter)
	ctx := context.Background()
	template := domain.TemplateId("vitals.v1")
	ehr := domain.EhrId("ehr-1")

	w, err := store.Begin(ctx, template, ehr)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, w))

	reloaded, err := adapter.ReadWatermark(ctx, template, ehr)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, reloaded.Status)
	assert.Equal(t, int64(0), reloaded.CompositionsExportedCount)
}

func TestInterruptMarksDistinctFromFail(t *testing.T) {
	adapter := openTestAdapter(t)
	store := New(adapter)
	ctx := context.Background()
	template := domain.TemplateId("vitals.v1")
	ehr := domain.EhrId("ehr-2")

	w, err := store.Begin(ctx, template, ehr)
	require.NoError(t, err)
	require.NoError(t, store.Interrupt(ctx, w))

	reloaded, err := adapter.ReadWatermark(ctx, template, ehr)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInterrupted, reloaded.Status)
}

func TestAdvanceNeverMovesTimestampBackward(t *testing.T) {
	adapter := openTestAdapter(t)
	store := New(adapter)
	ctx := context.Background()
	template := domain.TemplateId("vitals.v1")
	ehr := domain.EhrId("ehr-3")

	w, err := store.Begin(ctx, template, ehr)
	require.NoError(t, err)
	later := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	committed, err := store.Commit(ctx, w, later, domain.CompositionUid("uid-later"), 2)
	require.NoError(t, err)

	reopened, err := store.Begin(ctx, template, ehr)
	require.NoError(t, err)
	earlier := time.Date(2026, 7, 31, 6, 0, 0, 0, time.UTC)
	result, err := store.Commit(ctx, reopened, earlier, domain.CompositionUid("uid-earlier"), 1)
	require.NoError(t, err)

	assert.True(t, result.LastExportedTimestamp.Equal(committed.LastExportedTimestamp))
	assert.Equal(t, int64(3), result.CompositionsExportedCount)
}
