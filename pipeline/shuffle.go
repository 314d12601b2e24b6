package pipeline

import "fmt"

// ShuffleEngine produces an unpredictable, uniformly distributed permutation
// of a closed batch's envelopes.
type ShuffleEngine struct {
	entropy EntropySource
}

// NewShuffleEngine creates a shuffle engine drawing from the given entropy
// source.
func NewShuffleEngine(entropy EntropySource) *ShuffleEngine {
	return &ShuffleEngine{entropy: entropy}
}

// Shuffle permutes the envelopes in place with a Fisher-Yates walk: for each
// index i from n-1 down to 1, a uniform j in [0, i] is drawn and positions i
// and j are exchanged. Because every draw is unbiased (EntropySource.IntN
// rejects and retries out-of-range values), all n! orderings are equally
// likely. The draws are single-use and discarded; nothing about them is
// persisted, logged, or derivable from the batch.
//
// No envelope is added, removed, or mutated.
func (s *ShuffleEngine) Shuffle(envs []*Envelope) error {
	for i := len(envs) - 1; i >= 1; i-- {
		j, err := s.entropy.IntN(int64(i + 1))
		if err != nil {
			return fmt.Errorf("drawing shuffle index: %w", err)
		}
		envs[i], envs[j] = envs[j], envs[i]
	}
	return nil
}
