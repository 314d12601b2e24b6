package pipeline

import (
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EnvelopeVersion is the only envelope format version currently accepted.
const EnvelopeVersion = 1

// MaxTxBytes bounds the size of a single transaction payload. Matches the
// 128 KiB limit relays commonly enforce on raw transactions.
const MaxTxBytes = 128 * 1024

// Envelope wraps an opaque, fully signed transaction together with its
// digest and arrival sequence number. Envelopes are immutable once created
// and owned exclusively by the batch that accepts them; the transaction
// bytes are never inspected or mutated beyond hashing.
type Envelope struct {
	// TxHash is the SHA-256 digest of TxBytes, used for deduplication and
	// commitment computation.
	TxHash common.Hash `json:"tx_hash"`

	// TxBytes is the raw signed transaction, treated as opaque.
	TxBytes hexutil.Bytes `json:"tx_bytes"`

	// Version is the envelope format version.
	Version uint32 `json:"envelope_version"`

	// Seq is the arrival sequence number, assigned by the accumulator on
	// acceptance. Strictly increasing across all batches.
	Seq uint64 `json:"arrival_sequence"`
}

// NewEnvelope validates the upstream input and wraps it in an envelope.
// Signature, nonce, gas and calldata validation happened upstream; only the
// format/version contract is checked here. Returns ErrInvalidEnvelope on any
// violation.
func NewEnvelope(txBytes []byte, version uint32) (*Envelope, error) {
	if len(txBytes) == 0 {
		return nil, fmt.Errorf("%w: empty transaction bytes", ErrInvalidEnvelope)
	}
	if len(txBytes) > MaxTxBytes {
		return nil, fmt.Errorf("%w: transaction exceeds %d bytes", ErrInvalidEnvelope, MaxTxBytes)
	}
	if version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrInvalidEnvelope, version)
	}

	return &Envelope{
		TxHash:  common.Hash(sha256.Sum256(txBytes)),
		TxBytes: txBytes,
		Version: version,
	}, nil
}
