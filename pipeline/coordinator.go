package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// RevealCoordinator drives closed batches through
// CLOSED -> COMMITTED -> REVEALED -> FORWARDED, enforcing that a batch is
// never revealed before its commitment is durably recorded. Batches are
// processed concurrently and complete in whatever order they complete;
// avoiding a strict FIFO fingerprint across batches is itself a privacy
// property.
type RevealCoordinator struct {
	shuffler  *ShuffleEngine
	ledger    *CommitmentLedger
	forwarder Forwarder
	sink      Sink
	log       *slog.Logger

	// onTerminal is invoked once per batch when it reaches FORWARDED or
	// FAILED, letting the accumulator release the batch's dedup entries.
	onTerminal func(batchID uuid.UUID)

	ctx context.Context
	wg  sync.WaitGroup

	mu          sync.Mutex
	quarantined map[uuid.UUID]string
}

// NewRevealCoordinator wires the shuffle engine, ledger, forwarder and sink
// together. onTerminal may be nil.
func NewRevealCoordinator(shuffler *ShuffleEngine, ledger *CommitmentLedger, forwarder Forwarder,
	sink Sink, log *slog.Logger, onTerminal func(uuid.UUID)) *RevealCoordinator {

	return &RevealCoordinator{
		shuffler:    shuffler,
		ledger:      ledger,
		forwarder:   forwarder,
		sink:        sink,
		log:         log,
		onTerminal:  onTerminal,
		ctx:         context.Background(),
		quarantined: make(map[uuid.UUID]string),
	}
}

// Start sets the context under which batch processing runs. Processing of a
// batch that has not yet committed stops at context cancellation; a batch
// past COMMITTED is allowed to finish its reveal.
func (c *RevealCoordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
}

func (c *RevealCoordinator) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// Enqueue accepts a closed batch for processing. It never blocks: each batch
// runs in its own goroutine so forwarding can never stall intake of new
// envelopes into the next open batch.
func (c *RevealCoordinator) Enqueue(batch *Batch) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.process(batch)
	}()
}

// Wait blocks until all enqueued batches have reached a terminal state or
// ctx expires.
func (c *RevealCoordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QuarantineReason reports why a batch was quarantined, if it was.
func (c *RevealCoordinator) QuarantineReason(batchID uuid.UUID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reason, ok := c.quarantined[batchID]
	return reason, ok
}

func (c *RevealCoordinator) process(batch *Batch) {
	ctx := c.context()

	if batch.State() != BatchClosed {
		c.fail(batch, "close", ErrInvalidTransition)
		return
	}

	// A batch that has not committed yet must never surface after a forced
	// shutdown: it is either fully committed-and-revealed or not revealed
	// at all.
	if err := ctx.Err(); err != nil {
		c.fail(batch, "shutdown", err)
		return
	}

	// Shuffle first so the reveal ordering exists before commitment; the
	// commitment itself is computed over sorted hashes and cannot observe
	// the permutation.
	if err := c.shuffler.Shuffle(batch.Envelopes); err != nil {
		c.fail(batch, "shuffle", err)
		return
	}

	rec, err := c.ledger.Commit(ctx, batch)
	if err != nil {
		// A duplicate here means a replay or coordination bug, fatal for
		// the batch.
		if errors.Is(err, ErrDuplicateCommitment) {
			c.sink.Anomaly("duplicate_commitment")
		}
		c.fail(batch, "commit", err)
		return
	}

	if err := batch.Transition(BatchCommitted); err != nil {
		c.fail(batch, "commit", err)
		return
	}

	// Verify the shuffled contents about to be handed out against the
	// recorded commitment. Commit happens-before reveal, always.
	if err := c.ledger.VerifyReveal(ctx, batch.ID, batch.TxHashes(), batch.Nonce); err != nil {
		switch {
		case errors.Is(err, ErrCommitmentMismatch):
			c.sink.Anomaly("commitment_mismatch")
		case errors.Is(err, ErrCommitmentMissing):
			c.sink.Anomaly("commitment_missing")
		}
		c.fail(batch, "reveal", err)
		return
	}

	if err := batch.Transition(BatchRevealed); err != nil {
		c.fail(batch, "reveal", err)
		return
	}

	reveal := &RevealedBatch{
		BatchID:        batch.ID,
		CommitmentHash: rec.CommitmentHash,
		Transactions:   make([]hexutil.Bytes, len(batch.Envelopes)),
	}
	for i, env := range batch.Envelopes {
		reveal.Transactions[i] = env.TxBytes
	}

	// Hand-off is fire-and-forget: the forwarder accepts the batch for
	// delivery and reports per-destination outcomes out-of-band. Delivery
	// runs on a detached context so pipeline shutdown cannot abort it; the
	// forwarder's own per-attempt timeout and retry limits bound its
	// lifetime instead.
	if err := c.forwarder.Forward(context.WithoutCancel(ctx), reveal); err != nil {
		c.fail(batch, "forward", err)
		return
	}

	if err := batch.Transition(BatchForwarded); err != nil {
		c.fail(batch, "forward", err)
		return
	}

	c.sink.BatchForwarded(len(batch.Envelopes), time.Since(batch.ClosedAt()))
	c.log.Info("Batch forwarded",
		"batchID", batch.ID,
		"size", len(batch.Envelopes),
		"commitment", rec.CommitmentHash.Hex())

	c.finish(batch)
}

// fail moves the batch to FAILED, quarantines it, and discards its contents.
// A quarantined batch is never forwarded.
func (c *RevealCoordinator) fail(batch *Batch, stage string, err error) {
	if batch.State() != BatchFailed {
		_ = batch.Transition(BatchFailed)
	}

	c.mu.Lock()
	c.quarantined[batch.ID] = stage
	c.mu.Unlock()

	c.log.Error("Batch failed and quarantined",
		"batchID", batch.ID,
		"stage", stage,
		"size", len(batch.Envelopes),
		"err", err)

	c.finish(batch)
}

// finish releases ownership: envelope contents are discarded and only the
// commitment record (if any) persists.
func (c *RevealCoordinator) finish(batch *Batch) {
	batch.Envelopes = nil
	if c.onTerminal != nil {
		c.onTerminal(batch.ID)
	}
}
