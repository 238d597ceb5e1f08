package simulator

import (
	"hash/fnv"
	"math/rand"
)

// SeedFor derives a per-slip seed from the run seed and the slip key, so every
// candidate gets its own stream and re-evaluating a slip reproduces its numbers.
func SeedFor(base int64, key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return base ^ int64(h.Sum64()&0x7fffffffffffffff)
}

// newRand seeds one chunk's generator. The multiplier spreads neighboring chunks apart.
func newRand(seed int64, chunk int) *rand.Rand {
	return rand.New(rand.NewSource(seed + int64(chunk+1)*0x9E3779B97F4A7C))
}
