// Package pii implements the PII Detector (spec §4.4): a declarative
// pattern registry and a recursive document traversal that yields
// domain.PIIEntity values for every compliance-mode-applicable match.
package pii

import (
	_ "embed"
	"fmt"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"

	"atlas/internal/atlaserr"
	"atlas/internal/domain"
)

//go:embed default_patterns.yaml
var defaultRegistryYAML []byte

// Pattern is one declarative rule: a category, a regular expression
// (regexp2 rather than stdlib regexp because HIPAA/GDPR identifier
// patterns rely on lookaround stdlib's RE2 engine cannot express), a
// base confidence, and the compliance modes it applies under.
type Pattern struct {
	Category   string                  `yaml:"category"`
	Expr       string                  `yaml:"pattern"`
	Confidence float64                 `yaml:"confidence"`
	Modes      []domain.ComplianceMode `yaml:"modes"`
	// Scope is "structured" (default, evaluated on every string leaf) or
	// "freetext" (evaluated only on leaves that trigger free-text
	// scanning per spec §4.4 — natural-language categories like name or
	// marital status would false-positive too often against every short
	// structured field otherwise).
	Scope string `yaml:"scope"`

	compiled *regexp2.Regexp
}

// IsFreeText reports whether p only applies to free-text-eligible leaves.
func (p Pattern) IsFreeText() bool { return p.Scope == "freetext" }

type patternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// Registry is a loaded, compiled pattern set.
type Registry struct {
	patterns []Pattern
}

// LoadDefault returns the registry embedded in the binary.
func LoadDefault() (*Registry, error) {
	return load(defaultRegistryYAML, "default")
}

// LoadFile loads and compiles a user-supplied registry file, replacing
// the default wholesale — spec §4.4 specifies override, not merge.
func LoadFile(data []byte, source string) (*Registry, error) {
	return load(data, source)
}

func load(data []byte, source string) (*Registry, error) {
	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, atlaserr.New(atlaserr.KindConfiguration, "pii.load_registry", source, err)
	}
	for i := range pf.Patterns {
		p := &pf.Patterns[i]
		compiled, err := regexp2.Compile(p.Expr, regexp2.None)
		if err != nil {
			return nil, atlaserr.New(atlaserr.KindConfiguration, "pii.compile_pattern", p.Category,
				fmt.Errorf("pattern %q: %w", p.Expr, err))
		}
		p.compiled = compiled
	}
	return &Registry{patterns: pf.Patterns}, nil
}

// ForMode returns the subset of patterns applicable to mode.
func (r *Registry) ForMode(mode domain.ComplianceMode) []Pattern {
	out := make([]Pattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		for _, m := range p.Modes {
			if m == mode {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
