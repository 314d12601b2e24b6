// Package common provides shared constants for penum-ingress services.
package common

// PackageName identifies this service in metrics and logs.
const PackageName = "penum-ingress"

// Version is overridden at build time via -ldflags.
var Version = "dev"
