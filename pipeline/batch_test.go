package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBatch_TransitionTable(t *testing.T) {
	// The happy path, one transition at a time.
	b := newBatch(time.Now())
	require.Equal(t, BatchOpen, b.State())
	require.NoError(t, b.Transition(BatchClosed))
	require.NoError(t, b.Transition(BatchCommitted))
	require.NoError(t, b.Transition(BatchRevealed))
	require.NoError(t, b.Transition(BatchForwarded))

	// Terminal: nothing leaves FORWARDED.
	for _, next := range []BatchState{BatchOpen, BatchClosed, BatchCommitted, BatchRevealed, BatchFailed} {
		require.ErrorIs(t, b.Transition(next), ErrInvalidTransition)
	}
}

func TestBatch_NoSkippedTransitions(t *testing.T) {
	// CLOSED -> REVEALED directly is forbidden; so is every other skip.
	skips := map[BatchState][]BatchState{
		BatchOpen:   {BatchCommitted, BatchRevealed, BatchForwarded},
		BatchClosed: {BatchRevealed, BatchForwarded},
	}

	for from, targets := range skips {
		for _, to := range targets {
			b := newBatch(time.Now())
			b.state = from
			require.ErrorIs(t, b.Transition(to), ErrInvalidTransition, "%s -> %s", from, to)
		}
	}

	// A committed batch cannot skip reveal verification.
	b := newBatch(time.Now())
	b.state = BatchCommitted
	require.ErrorIs(t, b.Transition(BatchForwarded), ErrInvalidTransition)
}

func TestBatch_FailedReachableAndTerminal(t *testing.T) {
	for _, from := range []BatchState{BatchOpen, BatchClosed, BatchCommitted, BatchRevealed} {
		b := newBatch(time.Now())
		b.state = from
		require.NoError(t, b.Transition(BatchFailed), "FAILED must be reachable from %s", from)
		require.ErrorIs(t, b.Transition(BatchOpen), ErrInvalidTransition)
	}
}

func TestBatchState_String(t *testing.T) {
	require.Equal(t, "open", BatchOpen.String())
	require.Equal(t, "failed", BatchFailed.String())
	require.Contains(t, BatchState(200).String(), "unknown")
}
