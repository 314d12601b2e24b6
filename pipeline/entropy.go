package pipeline

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// EntropySource is the cryptographically secure randomness capability shared
// by nonce generation and shuffling. It is passed in explicitly rather than
// reached for as a global so tests can substitute a reproducible source
// without weakening uniformity in production. Every draw is independent;
// callers never replay a prior draw.
type EntropySource interface {
	// Read fills p with random bytes.
	Read(p []byte) error

	// IntN returns a uniformly distributed random value in [0, n).
	// Implementations must avoid modulo bias for non-power-of-two ranges.
	IntN(n int64) (int64, error)
}

// SystemEntropy returns an EntropySource backed by crypto/rand.
func SystemEntropy() EntropySource {
	return systemEntropy{}
}

type systemEntropy struct{}

func (systemEntropy) Read(p []byte) error {
	if _, err := rand.Read(p); err != nil {
		return fmt.Errorf("reading system entropy: %w", err)
	}
	return nil
}

// IntN draws via crypto/rand.Int, which rejects and retries values outside
// the largest multiple of n, so the result is unbiased for any range.
func (systemEntropy) IntN(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("entropy draw with non-positive bound %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, fmt.Errorf("reading system entropy: %w", err)
	}
	return v.Int64(), nil
}
