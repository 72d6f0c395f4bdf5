package monitor

import (
	"math/rand/v2"
	"time"
)

// NextDelay draws uniformly from [min, max] inclusive. int64n must return a
// value in [0, n); nil uses math/rand/v2.
func NextDelay(min, max time.Duration, int64n func(n int64) int64) time.Duration {
	if max <= min {
		return min
	}
	if int64n == nil {
		int64n = rand.Int64N
	}
	return min + time.Duration(int64n(int64(max-min)+1))
}
