package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlas/internal/domain"
)

type stubAdapter struct {
	insertResults []InsertResult
	insertErr     error
	watermark     domain.Watermark
	writes        []domain.Watermark
	exists        bool
}

func (s *stubAdapter) EnsureContainer(ctx context.Context, templateID domain.TemplateId) error {
	return nil
}

func (s *stubAdapter) BulkInsert(ctx context.Context, templateID domain.TemplateId, documents []domain.ExportedDocument) ([]InsertResult, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	return s.insertResults, nil
}

func (s *stubAdapter) ReadWatermark(ctx context.Context, templateID domain.TemplateId, ehrID domain.EhrId) (domain.Watermark, error) {
	return s.watermark, nil
}

func (s *stubAdapter) WriteWatermark(ctx context.Context, w domain.Watermark) error {
	s.writes = append(s.writes, w)
	return nil
}

func (s *stubAdapter) DocumentExists(ctx context.Context, templateID domain.TemplateId, compositionUid domain.CompositionUid) (bool, error) {
	return s.exists, nil
}

func doc(uid string) domain.ExportedDocument {
	return domain.ExportedDocument{Envelope: domain.ExportEnvelope{CompositionUid: domain.CompositionUid(uid)}}
}

func TestCompositeBulkInsertSucceedsWhenBothAdaptersSucceed(t *testing.T) {
	a := &stubAdapter{insertResults: []InsertResult{{CompositionUid: "uid-1", Outcome: Inserted}}}
	b := &stubAdapter{insertResults: []InsertResult{{CompositionUid: "uid-1", Outcome: Inserted}}}
	c := NewComposite(a, b)

	results, err := c.BulkInsert(context.Background(), "vitals.v1", []domain.ExportedDocument{doc("uid-1")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Inserted, results[0].Outcome)
}

func TestCompositeBulkInsertFailsWhenEitherAdapterFails(t *testing.T) {
	a := &stubAdapter{insertResults: []InsertResult{{CompositionUid: "uid-1", Outcome: Inserted}}}
	b := &stubAdapter{insertResults: []InsertResult{{CompositionUid: "uid-1", Outcome: Failed, Reason: "disk full"}}}
	c := NewComposite(a, b)

	results, err := c.BulkInsert(context.Background(), "vitals.v1", []domain.ExportedDocument{doc("uid-1")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Failed, results[0].Outcome)
	assert.Equal(t, "disk full", results[0].Reason)
}

func TestCompositeBulkInsertReportsDuplicateWhenNeitherFailsButOneDuplicates(t *testing.T) {
	a := &stubAdapter{insertResults: []InsertResult{{CompositionUid: "uid-1", Outcome: Inserted}}}
	b := &stubAdapter{insertResults: []InsertResult{{CompositionUid: "uid-1", Outcome: Duplicate}}}
	c := NewComposite(a, b)

	results, err := c.BulkInsert(context.Background(), "vitals.v1", []domain.ExportedDocument{doc("uid-1")})
	require.NoError(t, err)
	assert.Equal(t, Duplicate, results[0].Outcome)
}

func TestCompositeWriteWatermarkFansOutToAllAdapters(t *testing.T) {
	a := &stubAdapter{}
	b := &stubAdapter{}
	c := NewComposite(a, b)
	w := domain.Watermark{TemplateId: "vitals.v1", EhrId: "ehr-1"}

	require.NoError(t, c.WriteWatermark(context.Background(), w))
	require.Len(t, a.writes, 1)
	require.Len(t, b.writes, 1)
}

func TestCompositeSingleAdapterForwardsDirectly(t *testing.T) {
	a := &stubAdapter{insertResults: []InsertResult{{CompositionUid: "uid-1", Outcome: Inserted}}}
	c := NewComposite(a)

	results, err := c.BulkInsert(context.Background(), "vitals.v1", []domain.ExportedDocument{doc("uid-1")})
	require.NoError(t, err)
	assert.Equal(t, Inserted, results[0].Outcome)
}
