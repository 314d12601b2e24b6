package pipeline

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// CommitmentStore is the append-only commitment record log, the pipeline's
// only durable state. A record is keyed uniquely by batch id: a write either
// succeeds once or is rejected as a duplicate, so no read-modify-write races
// are possible.
type CommitmentStore interface {
	// Append persists a new record. Returns ErrDuplicateCommitment if a
	// record for the same batch id already exists; the stored record is
	// left unchanged.
	Append(ctx context.Context, rec *CommitmentRecord) error

	// Get returns the record for a batch id, or ErrCommitmentMissing.
	Get(ctx context.Context, batchID uuid.UUID) (*CommitmentRecord, error)
}

// RevealedBatch is the shuffled, commitment-verified content handed to the
// external forwarder.
type RevealedBatch struct {
	// BatchID and CommitmentHash accompany the transactions for audit
	// correlation.
	BatchID        uuid.UUID   `json:"batch_id"`
	CommitmentHash common.Hash `json:"commitment_hash"`

	// Transactions holds the raw transaction bytes in shuffled order.
	Transactions []hexutil.Bytes `json:"transactions"`
}

// Forwarder is the downstream relay fan-out, treated as relay-agnostic and
// stateless. Forward must not block pipeline progress: implementations
// accept the batch for delivery and report per-destination outcomes
// out-of-band through the observability sink.
type Forwarder interface {
	Forward(ctx context.Context, reveal *RevealedBatch) error
}

// Sink receives aggregate observability events. Implementations never see
// per-transaction or per-sender identifiers. It is injected at pipeline
// start and flushed at shutdown rather than accessed as ambient state.
type Sink interface {
	// EnvelopeRejected counts an intake rejection by reason
	// ("duplicate", "invalid", "shutdown").
	EnvelopeRejected(reason string)

	// BatchClosed reports a batch close with its size, how long the batch
	// was open, and the trigger that fired.
	BatchClosed(size int, openFor time.Duration, trigger CloseTrigger)

	// BatchForwarded reports a successful hand-off to the forwarder with
	// the batch size and the time from close to forward.
	BatchForwarded(size int, sinceClose time.Duration)

	// ForwardOutcome counts a per-destination delivery outcome class
	// ("accepted", "failed", "timeout").
	ForwardOutcome(outcome string)

	// Anomaly counts a pipeline-integrity violation by kind
	// ("duplicate_commitment", "commitment_missing", "commitment_mismatch").
	Anomaly(kind string)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) EnvelopeRejected(string)                      {}
func (NopSink) BatchClosed(int, time.Duration, CloseTrigger) {}
func (NopSink) BatchForwarded(int, time.Duration)            {}
func (NopSink) ForwardOutcome(string)                        {}
func (NopSink) Anomaly(string)                               {}
