package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// NonceSize is the length of the per-batch commitment nonce in bytes.
const NonceSize = 32

// CommitmentRecord is the durable, append-only record binding a batch to its
// commitment. Written at most once per batch id and never modified.
type CommitmentRecord struct {
	BatchID        uuid.UUID   `json:"batch_id"`
	CommitmentHash common.Hash `json:"commitment_hash"`
	TxCount        int         `json:"tx_count"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ComputeCommitment returns SHA256(concat(sorted(tx_hashes)) || nonce).
//
// Hashes are sorted by unsigned lexicographic byte order, so the result is a
// pure function of the hash set and nonce, independent of arrival or shuffle
// order: the permutation used for forwarding cannot leak through, or be
// inferred from, the commitment. The function is deterministic and
// side-effect-free, so any party holding the revealed hashes and the nonce
// can recompute it independently.
func ComputeCommitment(txHashes []common.Hash, nonce [NonceSize]byte) common.Hash {
	sorted := slices.Clone(txHashes)
	slices.SortFunc(sorted, func(a, b common.Hash) int {
		return bytes.Compare(a[:], b[:])
	})

	h := sha256.New()
	for _, txHash := range sorted {
		h.Write(txHash[:])
	}
	h.Write(nonce[:])
	return common.BytesToHash(h.Sum(nil))
}

// CommitmentLedger computes batch commitments and records them through the
// injected store before any content may be revealed.
type CommitmentLedger struct {
	store CommitmentStore
}

// NewCommitmentLedger creates a ledger over the given record store.
func NewCommitmentLedger(store CommitmentStore) *CommitmentLedger {
	return &CommitmentLedger{store: store}
}

// Commit computes the batch's commitment and appends its record. Returns
// ErrDuplicateCommitment if a record for the batch id already exists;
// write-once is enforced by the store, never by overwriting.
func (l *CommitmentLedger) Commit(ctx context.Context, batch *Batch) (*CommitmentRecord, error) {
	rec := &CommitmentRecord{
		BatchID:        batch.ID,
		CommitmentHash: ComputeCommitment(batch.TxHashes(), batch.Nonce),
		TxCount:        len(batch.Envelopes),
		CreatedAt:      time.Now().UTC(),
	}

	if err := l.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording commitment for batch %s: %w", batch.ID, err)
	}
	return rec, nil
}

// VerifyReveal recomputes the commitment from the revealed transaction
// hashes and nonce and compares it to the stored record. Returns
// ErrCommitmentMissing when no record exists, and ErrCommitmentMismatch when
// the recomputed value differs. A mismatch signals tampering, dropped
// transactions, or substitution, and callers must treat it as fatal for the
// batch.
func (l *CommitmentLedger) VerifyReveal(ctx context.Context, batchID uuid.UUID, revealed []common.Hash, nonce [NonceSize]byte) error {
	rec, err := l.store.Get(ctx, batchID)
	if err != nil {
		return fmt.Errorf("loading commitment for batch %s: %w", batchID, err)
	}

	if rec.TxCount != len(revealed) {
		return fmt.Errorf("%w: batch %s revealed %d transactions, committed %d",
			ErrCommitmentMismatch, batchID, len(revealed), rec.TxCount)
	}

	if recomputed := ComputeCommitment(revealed, nonce); recomputed != rec.CommitmentHash {
		return fmt.Errorf("%w: batch %s recomputed %s, recorded %s",
			ErrCommitmentMismatch, batchID, recomputed.Hex(), rec.CommitmentHash.Hex())
	}
	return nil
}

// Record returns the stored commitment record for a batch id, or
// ErrCommitmentMissing.
func (l *CommitmentLedger) Record(ctx context.Context, batchID uuid.UUID) (*CommitmentRecord, error) {
	return l.store.Get(ctx, batchID)
}
