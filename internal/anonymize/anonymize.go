// Package anonymize implements the Anonymizer Strategy (spec §4.5):
// redact and token replacement of detected PII entities, applied in
// reverse positional order per leaf so earlier offsets stay valid.
package anonymize

import (
	"crypto/rand"
	"sort"
	"strings"

	"atlas/internal/domain"
)

// Strategy decides and computes a replacement for a detected entity.
// Modeled on the teacher's AssetStrategy four-phase shape (Discover /
// Decide / Execute / Rewrite): Discover is the pii.Detector's job,
// Decide is which Strategy the run selected, Execute is Replacement,
// Rewrite is Anonymizer.Apply below.
type Strategy interface {
	Name() domain.Strategy
	Replacement(category string, draw *lockedRand) string
}

// NewStrategy returns the Strategy for name.
func NewStrategy(name domain.Strategy) Strategy {
	switch name {
	case domain.StrategyToken:
		return tokenStrategy{}
	default:
		return redactStrategy{}
	}
}

type redactStrategy struct{}

func (redactStrategy) Name() domain.Strategy { return domain.StrategyRedact }

func (redactStrategy) Replacement(category string, _ *lockedRand) string {
	return "[REDACTED_" + strings.ToUpper(category) + "]"
}

type tokenStrategy struct{}

func (tokenStrategy) Name() domain.Strategy { return domain.StrategyToken }

const tokenSuffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const tokenSuffixLength = 10

func (tokenStrategy) Replacement(category string, draw *lockedRand) string {
	suffix := make([]byte, tokenSuffixLength)
	for i := range suffix {
		suffix[i] = tokenSuffixAlphabet[draw.Intn(len(tokenSuffixAlphabet))]
	}
	return "TOKEN_" + strings.ToUpper(category) + "_" + string(suffix)
}

// RunPRNG is the per-run PRNG owner: a single *mathrand.Rand behind a
// mutex, generalized from the teacher's per-Pipeline `rand *rand.Rand` +
// `randMu sync.Mutex` field (internal/pipeline/pipeline.go) from one
// pipeline-lifetime instance to one export-run-lifetime instance.
// Tokens are per-run unique but NOT referentially consistent across
// occurrences of the same original value (Open Question 1, DESIGN.md):
// each entity draws independently.
type RunPRNG struct {
	draw *lockedRand
}

// NewRunPRNG seeds a PRNG from a cryptographically random 64-bit seed —
// "cryptographically seeded" per spec §4.5, not a cryptographic PRNG
// itself, since token suffixes need volume and speed, not
// unpredictability against an adversary who already has the plaintext.
func NewRunPRNG() (*RunPRNG, error) {
	seed, err := cryptoSeed()
	if err != nil {
		return nil, err
	}
	return &RunPRNG{draw: newLockedRand(seed)}, nil
}

func cryptoSeed() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	var seed int64
	for _, b := range buf {
		seed = seed<<8 | int64(b)
	}
	return seed, nil
}

// Anonymizer applies a Strategy to a set of detected entities, producing
// the anonymized leaves and the PII-free audit detections describing
// each replacement.
type Anonymizer struct {
	strategy Strategy
	prng     *RunPRNG
}

// New builds an Anonymizer bound to strategy and the run's shared PRNG.
func New(strategy Strategy, prng *RunPRNG) *Anonymizer {
	return &Anonymizer{strategy: strategy, prng: prng}
}

// Apply rewrites body in place: for every leaf with one or more
// entities, it sorts that leaf's entities by Position.Start descending
// and splices in each replacement so earlier offsets in the same string
// remain valid, then writes each entity's Replacement field and returns
// the audit-safe projection of the change.
func (a *Anonymizer) Apply(body any, entities []domain.PIIEntity) ([]domain.AuditDetection, error) {
	byPath := map[string][]int{}
	for i, e := range entities {
		byPath[e.Position.Path] = append(byPath[e.Position.Path], i)
	}

	detections := make([]domain.AuditDetection, 0, len(entities))
	for path, idxs := range byPath {
		sort.Slice(idxs, func(i, j int) bool {
			return entities[idxs[i]].Position.Start > entities[idxs[j]].Position.Start
		})
		leaf, ok := lookup(body, path)
		if !ok {
			continue
		}
		value := leaf.get()
		for _, idx := range idxs {
			e := &entities[idx]
			replacement := a.strategy.Replacement(e.Category, a.prng.draw)
			value = value[:e.Position.Start] + replacement + value[e.Position.End:]
			e.Replacement = replacement
		}
		leaf.set(value)
		for _, idx := range idxs {
			e := entities[idx]
			detections = append(detections, domain.AuditDetection{
				Category:         e.Category,
				OriginalHash:     e.OriginalHash,
				ReplacementValue: e.Replacement,
				Position:         e.Position,
			})
		}
	}
	return detections, nil
}
