package pacing

import (
	"math/rand"
	"testing"
	"time"
)

func TestLastIndexNeverWaits(t *testing.T) {
	p := New(rand.New(rand.NewSource(1)))
	for _, n := range []int{1, 2, 10} {
		d, _ := p.NextDelay(n-1, n, p.Start())
		if d != 0 {
			t.Fatalf("n=%d: last delay = %v, want 0", n, d)
		}
	}
}

func TestDelayBounds(t *testing.T) {
	p := New(rand.New(rand.NewSource(42)))
	const n = 500
	st := p.Start()
	for i := 0; i < n-1; i++ {
		var d time.Duration
		d, st = p.NextDelay(i, n, st)
		if d < ShortMin || d > LongMax {
			t.Fatalf("i=%d: delay %v outside [5s,60s]", i, d)
		}
		if d%time.Second != 0 {
			t.Fatalf("i=%d: delay %v is not whole seconds", i, d)
		}
		if d > ShortMax && d < LongMin {
			t.Fatalf("i=%d: delay %v between short and long ranges", i, d)
		}
	}
}

func TestChunkLengthsWithinRange(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		p := New(rand.New(rand.NewSource(seed)))
		const n = 300
		st := p.Start()
		run := 0
		sawLong := false
		for i := 0; i < n-1; i++ {
			var d time.Duration
			d, st = p.NextDelay(i, n, st)
			if !IsLong(d) {
				run++
				continue
			}
			sawLong = true
			if run < ChunkMin || run > ChunkMax {
				t.Fatalf("seed %d: %d short delays before long one", seed, run)
			}
			run = 0
		}
		if !sawLong {
			t.Fatalf("seed %d: no long delay in %d sends", seed, n)
		}
	}
}

func TestDistributionCoversRanges(t *testing.T) {
	p := New(rand.New(rand.NewSource(7)))
	short := map[time.Duration]bool{}
	long := map[time.Duration]bool{}
	st := p.Start()
	for i := 0; i < 5000; i++ {
		var d time.Duration
		d, st = p.NextDelay(i, 5001, st)
		if IsLong(d) {
			long[d] = true
		} else {
			short[d] = true
		}
	}
	if len(short) != 13 {
		t.Fatalf("saw %d distinct short delays, want all 13", len(short))
	}
	if len(long) != 31 {
		t.Fatalf("saw %d distinct long delays, want all 31", len(long))
	}
}

func TestWindowThrottle(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{5, 500 * time.Millisecond},
		{10, time.Second},
		{50, 5 * time.Second},
		{200, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := WindowThrottle(tc.n); got != tc.want {
			t.Errorf("WindowThrottle(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}
