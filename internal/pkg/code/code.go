// Package code generates numeric one-time codes.
package code

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	mrand "math/rand"
)

// Digits returns a numeric code of the given length, uniformly distributed
// over [10^(length-1), 10^length - 1] so the first digit is never zero.
// It draws from crypto/rand and degrades to math/rand with a logged warning
// rather than failing the caller.
func Digits(length int) string {
	low := pow10(length - 1)
	span := pow10(length) - low

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		slog.Warn("secure random source unavailable, degrading to pseudo-random", "err", err)
		return fmt.Sprintf("%d", low+mrand.Int63n(span))
	}
	return fmt.Sprintf("%d", low+n.Int64())
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
