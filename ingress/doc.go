// Package ingress exposes the transaction pipeline over HTTP and wires it to
// durable commitment storage and downstream relay delivery.
//
// The service accepts raw transaction submissions, feeds them into the
// pipeline's batch accumulator, and serves commitment records for audit. The
// submission response deliberately carries no batch identifier: a submitter
// learning which batch its transaction landed in would undo the unlinkability
// the shuffle provides.
package ingress
