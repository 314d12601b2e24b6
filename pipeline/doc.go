// Package pipeline implements the batching, secure-shuffle, and commit-reveal
// pipeline at the core of penum-ingress.
//
// Fully signed transactions enter the pipeline as opaque envelopes and leave
// it, batched and shuffled, towards downstream relays. The pipeline's job is
// to strip the metadata an observer could use to correlate a transaction with
// its sender: submission timing, ordering, and silent suppression.
//
// # Components
//
//  1. BatchAccumulator collects envelopes into the currently open batch and
//     closes it when either a size threshold or a time window fires,
//     whichever comes first. Duplicate transaction hashes are rejected within
//     a configurable dedup window.
//
//  2. ShuffleEngine permutes a closed batch's envelopes with an unbiased
//     Fisher-Yates shuffle driven by a cryptographically secure entropy
//     source. Every ordering of n envelopes is equally likely, and the
//     randomness is single-use and never persisted.
//
//  3. CommitmentLedger computes SHA256(concat(sorted(tx_hashes)) || nonce)
//     over the batch's transaction hashes in unsigned lexicographic order and
//     records it append-only, keyed by batch id, exactly once. Sorting makes
//     the commitment independent of both arrival and shuffle order.
//
//  4. RevealCoordinator drives each closed batch through the lifecycle
//     CLOSED -> COMMITTED -> REVEALED -> FORWARDED and enforces the strict
//     commit-before-reveal ordering. A reveal whose contents do not match the
//     recorded commitment moves the batch to FAILED and quarantines it; it is
//     never forwarded. This ordering is the censorship-detection guarantee: a
//     party can demand the commitment before the reveal is produced and catch
//     any change to the claimed contents.
//
// Batches progress through the pipeline concurrently and intentionally
// without cross-batch ordering; only the single open batch is serialized.
//
// External collaborators (relay forwarding, durable commitment storage, the
// observability sink) are injected through the Forwarder, CommitmentStore and
// Sink interfaces. HTTP implementations live in the ingress package.
package pipeline
