package ingress

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SubmitTransactionRequest is the body of POST /api/v1/transactions.
type SubmitTransactionRequest struct {
	// Tx is the raw signed transaction, hex-encoded with 0x prefix.
	Tx hexutil.Bytes `json:"tx"`

	// EnvelopeVersion is optional; zero means the current version.
	EnvelopeVersion uint32 `json:"envelope_version,omitempty"`
}

// SubmitTransactionResponse acknowledges acceptance into the current batch.
// No batch id is returned: the submitter must not be able to correlate its
// transaction with a later reveal.
type SubmitTransactionResponse struct {
	Accepted bool `json:"accepted"`
}

// CommitmentResponse is the body of GET /api/v1/commitments/{batchID}.
type CommitmentResponse struct {
	BatchID        string `json:"batch_id"`
	CommitmentHash string `json:"commitment_hash"`
	TxCount        int    `json:"tx_count"`
	CreatedAt      string `json:"created_at"`
}

// RelayBatchRequest is the body POSTed to each relay endpoint when a revealed
// batch is forwarded.
type RelayBatchRequest struct {
	BatchID        string          `json:"batch_id"`
	CommitmentHash string          `json:"commitment_hash"`
	Transactions   []hexutil.Bytes `json:"transactions"`
}
