package pipeline

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// BatchState is the lifecycle state of a batch. Transitions happen only
// through Batch.Transition, which rejects anything not in the transition
// table.
type BatchState uint8

const (
	// BatchOpen accepts new envelopes. Only one batch is open at a time.
	BatchOpen BatchState = iota

	// BatchClosed no longer accepts envelopes and awaits shuffling and
	// commitment.
	BatchClosed

	// BatchCommitted has its commitment durably recorded; reveal may now
	// proceed.
	BatchCommitted

	// BatchRevealed has passed reveal verification against the recorded
	// commitment.
	BatchRevealed

	// BatchForwarded was handed to the external forwarder. Terminal.
	BatchForwarded

	// BatchFailed hit an unrecoverable error or a commitment integrity
	// violation. Terminal; the batch is quarantined and never forwarded.
	BatchFailed
)

func (s BatchState) String() string {
	switch s {
	case BatchOpen:
		return "open"
	case BatchClosed:
		return "closed"
	case BatchCommitted:
		return "committed"
	case BatchRevealed:
		return "revealed"
	case BatchForwarded:
		return "forwarded"
	case BatchFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// transitions is the explicit lifecycle table. FAILED is reachable from any
// non-terminal state; no transition may be skipped.
var transitions = map[BatchState][]BatchState{
	BatchOpen:      {BatchClosed, BatchFailed},
	BatchClosed:    {BatchCommitted, BatchFailed},
	BatchCommitted: {BatchRevealed, BatchFailed},
	BatchRevealed:  {BatchForwarded, BatchFailed},
}

// CloseTrigger records which policy closed a batch.
type CloseTrigger string

const (
	// TriggerSize means the size threshold was met on submit. When size and
	// time contend, size wins the tie-break.
	TriggerSize CloseTrigger = "size"

	// TriggerTime means the batch window elapsed.
	TriggerTime CloseTrigger = "time"

	// TriggerShutdown means the open batch was force-closed at shutdown.
	TriggerShutdown CloseTrigger = "shutdown"
)

// Batch is a bounded group of envelopes processed together through the
// shuffle/commit/reveal/forward pipeline. It is owned by the accumulator
// while open and by the reveal coordinator afterwards; once it reaches a
// terminal state the envelope contents are discarded and only the commitment
// record persists.
type Batch struct {
	// ID uniquely identifies the batch across the pipeline and in the
	// commitment record store.
	ID uuid.UUID

	// Nonce is drawn fresh from the entropy source when the batch closes.
	// It is never reused and never derived from transaction content.
	Nonce [NonceSize]byte

	// Envelopes holds the batch contents in arrival order until the shuffle
	// engine permutes them.
	Envelopes []*Envelope

	// Trigger records the close policy that fired.
	Trigger CloseTrigger

	state    BatchState
	openedAt time.Time
	closedAt time.Time
}

// newBatch opens a fresh empty batch.
func newBatch(now time.Time) *Batch {
	return &Batch{
		ID:       uuid.New(),
		state:    BatchOpen,
		openedAt: now,
	}
}

// State returns the current lifecycle state.
func (b *Batch) State() BatchState {
	return b.state
}

// ClosedAt returns the instant the close trigger fired. Zero while open.
func (b *Batch) ClosedAt() time.Time {
	return b.closedAt
}

// Transition moves the batch to next if the transition table allows it.
func (b *Batch) Transition(next BatchState) error {
	for _, allowed := range transitions[b.state] {
		if next == allowed {
			b.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s for batch %s", ErrInvalidTransition, b.state, next, b.ID)
}

// TxHashes returns the transaction hashes of the envelopes in their current
// order.
func (b *Batch) TxHashes() []common.Hash {
	hashes := make([]common.Hash, len(b.Envelopes))
	for i, env := range b.Envelopes {
		hashes[i] = env.TxHash
	}
	return hashes
}
