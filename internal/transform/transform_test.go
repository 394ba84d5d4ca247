package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlas/internal/atlaserr"
	"atlas/internal/domain"
)

func sampleMeta() domain.CompositionMetadata {
	return domain.CompositionMetadata{
		Uid:           "C1",
		EhrId:         "E1",
		TemplateId:    "T1",
		TimeCommitted: time.Unix(100, 0).UTC(),
	}
}

func TestPreserveEmitsVerbatimContent(t *testing.T) {
	tr := New(domain.TransformPreserve)
	body := domain.CompositionBody{"context": map[string]any{"start_time": "2020-01-01"}}

	doc, err := tr.Transform(sampleMeta(), body, "v1", "full")
	require.NoError(t, err)

	content, ok := doc.Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, body["context"], content["context"])
	assert.Equal(t, domain.EhrId("E1"), doc.Envelope.EhrId)
}

func TestFlattenReplacesSeparatorWithUnderscore(t *testing.T) {
	tr := New(domain.TransformFlatten)
	body := domain.CompositionBody{
		"context": map[string]any{"start_time": "2020-01-01"},
	}

	doc, err := tr.Transform(sampleMeta(), body, "v1", "full")
	require.NoError(t, err)

	content, ok := doc.Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2020-01-01", content["context_start_time"])
}

func TestFlattenDetectsCollision(t *testing.T) {
	tr := New(domain.TransformFlatten)
	body := domain.CompositionBody{
		"a_b": "x",
		"a":   map[string]any{"b": "y"},
	}

	_, err := tr.Transform(sampleMeta(), body, "v1", "full")
	require.Error(t, err)
	assert.Equal(t, atlaserr.KindTransformation, atlaserr.KindOf(err))
}

func TestFlattenSerializesNonScalarLeaves(t *testing.T) {
	tr := New(domain.TransformFlatten)
	body := domain.CompositionBody{
		"tags": []any{"a", "b"},
	}

	doc, err := tr.Transform(sampleMeta(), body, "v1", "full")
	require.NoError(t, err)
	content := doc.Content.(map[string]any)
	assert.Equal(t, "[a b]", content["tags"])
}

func TestEmptyBodyIsError(t *testing.T) {
	tr := New(domain.TransformPreserve)
	_, err := tr.Transform(sampleMeta(), domain.CompositionBody{}, "v1", "full")
	require.Error(t, err)
	assert.Equal(t, atlaserr.KindTransformation, atlaserr.KindOf(err))
}

func TestInvalidUTF8FailsComposition(t *testing.T) {
	tr := New(domain.TransformPreserve)
	body := domain.CompositionBody{"name": string([]byte{0xff, 0xfe})}

	_, err := tr.Transform(sampleMeta(), body, "v1", "full")
	require.Error(t, err)
	assert.Equal(t, atlaserr.KindTransformation, atlaserr.KindOf(err))
}
