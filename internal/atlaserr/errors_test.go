package atlaserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorChaining(t *testing.T) {
	cause := errors.New("connection refused")
	inner := New(KindTransient, "source.fetch_composition", "C1", cause)
	outer := New(KindSink, "batch.bulk_insert", "T1/E1", inner)

	assert.Equal(t, KindSink, KindOf(outer))
	assert.True(t, errors.Is(outer, cause))
	assert.Contains(t, outer.Error(), "batch.bulk_insert")
	assert.Contains(t, outer.Error(), "source.fetch_composition")
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(New(KindTransient, "op", "", nil)))
	assert.False(t, IsTransient(New(KindFatal, "op", "", nil)))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestExitCodeForKind(t *testing.T) {
	assert.Equal(t, ExitConfigurationError, ExitCodeForKind(KindConfiguration))
	assert.Equal(t, ExitAuthenticationError, ExitCodeForKind(KindAuthentication))
	assert.Equal(t, ExitConnectionError, ExitCodeForKind(KindTransient))
	assert.Equal(t, ExitInterruptedSignal, ExitCodeForKind(KindCancelled))
}
