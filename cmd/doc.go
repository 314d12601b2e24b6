// Package cmd provides the CLI commands for penum-ingress.
//
// # Commands
//
// ingress: Runs the transaction ingress service with the batching,
// commitment and relay forwarding pipeline.
//
//	go run ./cmd/ingress --relays=http://relay-a:8080,http://relay-b:8080
//	go run ./cmd/ingress --relays=http://relay:8080 --postgres-dsn="host=localhost port=5432 ..."
//
// submit: Sends raw transactions to a running ingress service, from
// arguments or stdin.
//
//	go run ./cmd/submit --ingress=http://localhost:8080 0x02f87001...
package cmd
