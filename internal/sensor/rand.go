package sensor

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is the only random source API generators use.
type Rand interface {
	Intn(n int) int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	x := l.r.Intn(n)
	l.mu.Unlock()
	return x
}

// RandPolicy hands out random source per producer.
// Shared policy returns one locked source for everyone,
// otherwise each call returns independent source.
type RandPolicy struct {
	shared *lockedRand
	seed   int64
	seq    int64
	mu     sync.Mutex
}

// NewRandPolicy with seed=0 seeds from clock.
func NewRandPolicy(shared bool, seed int64) *RandPolicy {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &RandPolicy{seed: seed}
	if shared {
		p.shared = &lockedRand{r: rand.New(rand.NewSource(seed))}
	}
	return p
}

func (p *RandPolicy) Shared() bool { return p.shared != nil }

func (p *RandPolicy) Source() Rand {
	if p.shared != nil {
		return p.shared
	}
	p.mu.Lock()
	p.seq++
	seed := p.seed + p.seq
	p.mu.Unlock()
	// producer may be touched by scheduler worker and own goroutine
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}
