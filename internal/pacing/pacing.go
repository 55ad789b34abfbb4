// Package pacing decides how long to wait between two sends of one job.
//
// Sends come in short bursts: a chunk of 3 to 5 messages separated by
// 5 to 17 second pauses, then a 30 to 60 second pause before the next chunk.
// All draws are whole seconds.
package pacing

import (
	"math/rand"
	"sync"
	"time"
)

const (
	ShortMin = 5 * time.Second
	ShortMax = 17 * time.Second
	LongMin  = 30 * time.Second
	LongMax  = 60 * time.Second

	ChunkMin = 3
	ChunkMax = 5

	windowThrottleStep = time.Second
	windowThrottleCap  = 5 * time.Second
)

// State is carried between NextDelay calls of a single dispatch run.
type State struct {
	SinceLongDelay int
	ChunkLimit     int
}

// Policy draws delays from an injected random source.
type Policy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Policy using rng. A nil rng is seeded from the clock.
func New(rng *rand.Rand) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Policy{rng: rng}
}

// Start returns the state for a new run with a freshly drawn chunk limit.
func (p *Policy) Start() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{ChunkLimit: p.intn(ChunkMin, ChunkMax)}
}

// NextDelay returns the pause after sending to index i of n recipients.
// The last recipient never waits.
func (p *Policy) NextDelay(i, n int, st State) (time.Duration, State) {
	if i >= n-1 {
		return 0, st
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if st.ChunkLimit < ChunkMin || st.ChunkLimit > ChunkMax {
		st.ChunkLimit = p.intn(ChunkMin, ChunkMax)
	}
	if st.SinceLongDelay < st.ChunkLimit {
		st.SinceLongDelay++
		return p.seconds(ShortMin, ShortMax), st
	}
	d := p.seconds(LongMin, LongMax)
	st.SinceLongDelay = 0
	st.ChunkLimit = p.intn(ChunkMin, ChunkMax)
	return d, st
}

// IsLong reports whether d is a between-chunk pause.
func IsLong(d time.Duration) bool { return d >= LongMin }

// WindowThrottle is the extra pause after a progress window of size n:
// one second per ten recipients, capped at five seconds.
func WindowThrottle(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := time.Duration(n) * windowThrottleStep / 10
	return min(d, windowThrottleCap)
}

func (p *Policy) intn(lo, hi int) int { return lo + p.rng.Intn(hi-lo+1) }

func (p *Policy) seconds(lo, hi time.Duration) time.Duration {
	return time.Duration(p.intn(int(lo/time.Second), int(hi/time.Second))) * time.Second
}
