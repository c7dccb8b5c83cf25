package utils

import (
	"time"

	"github.com/bytedance/gopkg/lang/fastrand"
)

// Backoff returns the delay before retry attempt n (0-based) with the given
// base, doubling each attempt and adding up to 20% random jitter.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}

	d := base << uint(attempt)
	jitter := time.Duration(fastrand.Int63n(int64(d)/5 + 1))
	return d + jitter
}
