package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// dedupEntry remembers an accepted transaction hash until its deadline, or
// until the batch that owns it reaches a terminal state.
type dedupEntry struct {
	hash     common.Hash
	owner    uuid.UUID
	deadline time.Time
}

// BatchAccumulator gathers incoming envelopes into the single open batch and
// closes it under the size-or-time trigger policy, whichever fires first.
// Exactly one trigger closes each batch: the size check runs under the same
// lock that guards the timer generation, so a pending time trigger is
// atomically disarmed when size wins.
//
// All accumulation state is guarded by one mutex (single-writer discipline),
// which is what guarantees that every envelope lands in exactly one batch
// and that no batch is closed twice.
type BatchAccumulator struct {
	cfg     Config
	entropy EntropySource
	sink    Sink
	log     *slog.Logger

	// onClose receives each closed batch. It is called without the
	// accumulator lock held and must not block; the reveal coordinator's
	// Enqueue satisfies both.
	onClose func(*Batch)

	mu       sync.Mutex
	open     *Batch
	seq      uint64
	timer    *time.Timer
	timerGen uint64
	shutdown bool

	// recent is the dedup window: every hash accepted into the open batch
	// or a recently closed, not-yet-terminal batch. expiry is the same
	// entries in FIFO deadline order for cheap pruning.
	recent  map[common.Hash]uuid.UUID
	expiry  []dedupEntry
	byBatch map[uuid.UUID][]common.Hash
}

// NewBatchAccumulator validates the configuration and opens the first batch.
// The time trigger arms immediately.
func NewBatchAccumulator(cfg Config, entropy EntropySource, sink Sink, log *slog.Logger, onClose func(*Batch)) (*BatchAccumulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &BatchAccumulator{
		cfg:     cfg,
		entropy: entropy,
		sink:    sink,
		log:     log,
		onClose: onClose,
		recent:  make(map[common.Hash]uuid.UUID),
		byBatch: make(map[uuid.UUID][]common.Hash),
	}

	a.mu.Lock()
	a.openLocked()
	a.mu.Unlock()

	return a, nil
}

// Submit accepts an envelope into the open batch. It returns
// ErrRejectedDuplicate if the transaction hash was already accepted within
// the dedup window, ErrInvalidEnvelope for a nil envelope, and
// ErrShutdownInProgress once shutdown has begun. A submit that meets the
// size threshold closes the batch before returning.
func (a *BatchAccumulator) Submit(env *Envelope) error {
	if env == nil || len(env.TxBytes) == 0 {
		a.sink.EnvelopeRejected("invalid")
		return ErrInvalidEnvelope
	}

	a.mu.Lock()

	if a.shutdown {
		a.mu.Unlock()
		a.sink.EnvelopeRejected("shutdown")
		return ErrShutdownInProgress
	}

	now := time.Now()
	a.pruneDedupLocked(now)

	if _, seen := a.recent[env.TxHash]; seen {
		a.mu.Unlock()
		a.sink.EnvelopeRejected("duplicate")
		return ErrRejectedDuplicate
	}

	env.Seq = a.seq
	a.seq++

	batch := a.open
	batch.Envelopes = append(batch.Envelopes, env)
	a.rememberLocked(batch.ID, env.TxHash, now)

	var closed *Batch
	if len(batch.Envelopes) >= a.cfg.BatchSize {
		closed = a.closeLocked(TriggerSize, now)
	}
	a.mu.Unlock()

	if closed != nil {
		a.onClose(closed)
	}
	return nil
}

// Release drops the dedup entries owned by a batch that reached a terminal
// state. Entries also lapse on their own once the dedup window passes.
func (a *BatchAccumulator) Release(batchID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, h := range a.byBatch[batchID] {
		if owner, ok := a.recent[h]; ok && owner == batchID {
			delete(a.recent, h)
		}
	}
	delete(a.byBatch, batchID)
}

// Shutdown stops intake and disarms the time trigger. The open batch is
// force-closed and handed to onClose if it holds envelopes, or if
// FlushEmptyOnShutdown is set; otherwise it is discarded. Returns the
// flushed batch, or nil when the open batch was discarded.
func (a *BatchAccumulator) Shutdown() *Batch {
	a.mu.Lock()

	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	a.disarmLocked()

	var closed *Batch
	if len(a.open.Envelopes) > 0 || a.cfg.FlushEmptyOnShutdown {
		closed = a.closeLocked(TriggerShutdown, time.Now())
	} else {
		a.log.Debug("Discarding empty open batch at shutdown", "batchID", a.open.ID)
		a.open = nil
	}
	a.mu.Unlock()

	if closed != nil {
		a.onClose(closed)
	}
	return closed
}

// openLocked creates the next open batch and arms its time trigger, so
// accumulation is never interrupted by a close.
func (a *BatchAccumulator) openLocked() {
	if a.shutdown {
		return
	}

	a.open = newBatch(time.Now())

	a.timerGen++
	gen := a.timerGen
	a.timer = time.AfterFunc(a.cfg.BatchWindow, func() {
		a.onWindow(gen)
	})
}

// onWindow handles the time trigger. The generation check makes a stale
// timer that lost the race against a size close a no-op: "batch already
// closed" is detected under the same lock that closed it.
func (a *BatchAccumulator) onWindow(gen uint64) {
	a.mu.Lock()

	if a.shutdown || gen != a.timerGen {
		a.mu.Unlock()
		return
	}

	if len(a.open.Envelopes) == 0 {
		// Empty window: rearm without closing.
		a.timerGen++
		next := a.timerGen
		a.timer = time.AfterFunc(a.cfg.BatchWindow, func() {
			a.onWindow(next)
		})
		a.mu.Unlock()
		return
	}

	closed := a.closeLocked(TriggerTime, time.Now())
	a.mu.Unlock()

	a.onClose(closed)
}

// closeLocked transitions the open batch to CLOSED, draws its nonce, and
// immediately opens a successor. The caller hands the returned batch to
// onClose after releasing the lock.
func (a *BatchAccumulator) closeLocked(trigger CloseTrigger, now time.Time) *Batch {
	a.disarmLocked()

	batch := a.open
	batch.Trigger = trigger
	batch.closedAt = now

	if err := a.entropy.Read(batch.Nonce[:]); err != nil {
		// Without a nonce the batch cannot be committed. Fail it rather
		// than proceed with predictable randomness.
		a.log.Error("Entropy source failed at batch close", "batchID", batch.ID, "err", err)
		_ = batch.Transition(BatchFailed)
	} else if err := batch.Transition(BatchClosed); err != nil {
		a.log.Error("Batch close transition rejected", "batchID", batch.ID, "err", err)
	}

	a.sink.BatchClosed(len(batch.Envelopes), now.Sub(batch.openedAt), trigger)
	a.log.Info("Batch closed",
		"batchID", batch.ID,
		"size", len(batch.Envelopes),
		"trigger", string(trigger),
		"openFor", now.Sub(batch.openedAt))

	a.openLocked()
	return batch
}

func (a *BatchAccumulator) disarmLocked() {
	a.timerGen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *BatchAccumulator) rememberLocked(batchID uuid.UUID, h common.Hash, now time.Time) {
	a.recent[h] = batchID
	a.expiry = append(a.expiry, dedupEntry{hash: h, owner: batchID, deadline: now.Add(a.cfg.DedupWindow)})
	a.byBatch[batchID] = append(a.byBatch[batchID], h)
}

// pruneDedupLocked lapses dedup entries past their deadline. Deadlines are
// appended in order, so only the head of the queue needs checking.
func (a *BatchAccumulator) pruneDedupLocked(now time.Time) {
	for len(a.expiry) > 0 && !a.expiry[0].deadline.After(now) {
		head := a.expiry[0]
		// A released-and-resubmitted hash belongs to a newer batch now;
		// a stale expiry entry must not evict it.
		if owner, ok := a.recent[head.hash]; ok && owner == head.owner {
			delete(a.recent, head.hash)
		}
		a.expiry = a.expiry[1:]
	}
}
