package capacity

import (
	"math"
	"math/rand"
	"time"
)

// RetryAfter derives a deterministic-shape backoff from the busy rating:
// base * 2^max(0, busy-3), capped at 30s, with +-10% jitter. rng may be nil,
// in which case the package-level source is used (tests pass a seeded
// *rand.Rand for determinism).
func RetryAfter(busy int, base time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	exp := busy - 3
	if exp < 0 {
		exp = 0
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(exp)))
	const maxDelay = 30 * time.Second
	if d > maxDelay {
		d = maxDelay
	}
	jitterFrac := 0.0
	if rng != nil {
		jitterFrac = (rng.Float64()*2 - 1) * 0.10
	} else {
		jitterFrac = (rand.Float64()*2 - 1) * 0.10
	}
	jittered := float64(d) * (1 + jitterFrac)
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}
