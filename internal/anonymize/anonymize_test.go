package anonymize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlas/internal/domain"
)

func entity(path string, start, end int, category string) domain.PIIEntity {
	return domain.PIIEntity{
		Category:     category,
		Position:     domain.Position{Path: path, Start: start, End: end},
		Confidence:   0.9,
		OriginalHash: "hash",
	}
}

func TestRedactStrategyReplacement(t *testing.T) {
	body := map[string]any{"email": "call a@b.com now"}
	entities := []domain.PIIEntity{entity("email", 5, 11, "email_address")}

	prng, err := NewRunPRNG()
	require.NoError(t, err)
	a := New(NewStrategy(domain.StrategyRedact), prng)

	detections, err := a.Apply(body, entities)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, "call [REDACTED_EMAIL_ADDRESS] now", body["email"])
	assert.Equal(t, "[REDACTED_EMAIL_ADDRESS]", detections[0].ReplacementValue)
}

func TestTokenStrategyProducesUniqueSuffix(t *testing.T) {
	body := map[string]any{"email": "a@b.com"}
	entities := []domain.PIIEntity{entity("email", 0, 7, "email_address")}

	prng, err := NewRunPRNG()
	require.NoError(t, err)
	a := New(NewStrategy(domain.StrategyToken), prng)

	_, err = a.Apply(body, entities)
	require.NoError(t, err)
	assert.Contains(t, body["email"], "TOKEN_EMAIL_ADDRESS_")
}

func TestReversePositionalOrderKeepsEarlierOffsetsValid(t *testing.T) {
	body := map[string]any{"notes": "ssn 123-45-6789 and email a@b.com here"}
	entities := []domain.PIIEntity{
		entity("notes", 4, 15, "ssn"),
		entity("notes", 26, 33, "email_address"),
	}

	prng, err := NewRunPRNG()
	require.NoError(t, err)
	a := New(NewStrategy(domain.StrategyRedact), prng)

	_, err = a.Apply(body, entities)
	require.NoError(t, err)
	assert.Equal(t, "ssn [REDACTED_SSN] and email [REDACTED_EMAIL_ADDRESS] here", body["notes"])
}

func TestApplyNavigatesNestedPaths(t *testing.T) {
	body := map[string]any{"context": map[string]any{"notes": []any{"plain", "ssn 123-45-6789"}}}
	entities := []domain.PIIEntity{entity("context/notes/[1]", 4, 15, "ssn")}

	prng, err := NewRunPRNG()
	require.NoError(t, err)
	a := New(NewStrategy(domain.StrategyRedact), prng)

	_, err = a.Apply(body, entities)
	require.NoError(t, err)
	notes := body["context"].(map[string]any)["notes"].([]any)
	assert.Equal(t, "ssn [REDACTED_SSN]", notes[1])
}

func TestNoReferentialConsistencyRequired(t *testing.T) {
	// Open Question 1: two occurrences of the same original value may
	// receive different tokens; this test only asserts both get *some*
	// token, not that they match.
	body := map[string]any{"a": "a@b.com", "b": "a@b.com"}
	entities := []domain.PIIEntity{
		entity("a", 0, 7, "email_address"),
		entity("b", 0, 7, "email_address"),
	}

	prng, err := NewRunPRNG()
	require.NoError(t, err)
	a := New(NewStrategy(domain.StrategyToken), prng)

	_, err = a.Apply(body, entities)
	require.NoError(t, err)
	assert.Contains(t, body["a"], "TOKEN_EMAIL_ADDRESS_")
	assert.Contains(t, body["b"], "TOKEN_EMAIL_ADDRESS_")
}
