package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"atlas/internal/domain"
	"atlas/internal/transform"
)

// freeTextFieldName matches leaf field names that trigger free-text
// scanning in addition to structured-field scanning (spec §4.4).
var freeTextFieldName = regexp.MustCompile(`(?i)comment|note|description`)

const freeTextLengthThreshold = 50

// Detector scans a composition body for PII entities under a fixed
// compliance mode and confidence threshold.
type Detector struct {
	registry           *Registry
	mode               domain.ComplianceMode
	confidenceThreshold float64
}

// New builds a Detector bound to registry, mode, and threshold.
func New(registry *Registry, mode domain.ComplianceMode, confidenceThreshold float64) *Detector {
	return &Detector{registry: registry, mode: mode, confidenceThreshold: confidenceThreshold}
}

// Detect walks body and returns every entity that survives confidence
// filtering. Detection is deterministic for a fixed body and registry:
// patterns are evaluated in registry-declaration order and matches
// within a leaf are ordered by start offset.
func (d *Detector) Detect(body any) []domain.PIIEntity {
	patterns := d.registry.ForMode(d.mode)
	var entities []domain.PIIEntity
	walk(nil, "", body, patterns, d.confidenceThreshold, &entities)
	return entities
}

// walk recursively visits node. fieldName is the key node was stored
// under in its parent map, used to decide whether free-text scanning
// applies to a string leaf.
func walk(path transform.Path, fieldName string, node any, patterns []Pattern, threshold float64, out *[]domain.PIIEntity) {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			walk(path.Child(k), k, child, patterns, threshold, out)
		}
	case []any:
		for i, child := range v {
			walk(path.Child(indexSegment(i)), fieldName, child, patterns, threshold, out)
		}
	case string:
		scanLeaf(path, v, freeTextEligible(fieldName, v), patterns, threshold, out)
	}
}

// freeTextEligible reports whether a leaf triggers free-text scanning in
// addition to structured-field scanning (spec §4.4): its field name
// contains comment/note/description, or its value exceeds the
// free-text length threshold.
func freeTextEligible(fieldName, value string) bool {
	return freeTextFieldName.MatchString(fieldName) || len(value) > freeTextLengthThreshold
}

func scanLeaf(path transform.Path, value string, freeText bool, patterns []Pattern, threshold float64, out *[]domain.PIIEntity) {
	for _, p := range patterns {
		if p.IsFreeText() && !freeText {
			continue
		}
		if p.Confidence < threshold {
			continue
		}
		m, err := p.compiled.FindStringMatch(value)
		for err == nil && m != nil {
			start, end := m.Index, m.Index+m.Length
			*out = append(*out, domain.PIIEntity{
				Category:     p.Category,
				Position:     domain.Position{Path: path.Join(), Start: start, End: end},
				Confidence:   p.Confidence,
				OriginalHash: hashOriginal(value[start:end]),
			})
			m, err = p.compiled.FindNextMatch(m)
		}
	}
}

func hashOriginal(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func indexSegment(i int) string {
	return fmt.Sprintf("[%d]", i)
}
