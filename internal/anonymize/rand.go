package anonymize

import (
	"math/rand"
	"sync"
)

// lockedRand wraps *rand.Rand with a mutex, the same randMu+rand pairing
// the teacher's Pipeline uses (internal/pipeline/pipeline.go) for its
// jittered backoff delays, reused here as the run-scoped token PRNG:
// one instance lives for the whole export run and is shared across
// every composition a batch processes concurrently.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

// Intn draws a single bounded random int, locked for the duration of
// the draw.
func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Intn(n)
}
