// Command ingress runs the privacy-preserving transaction ingress service.
//
// The service accepts raw transaction submissions over HTTP, gathers them
// into batches under a size-or-time close policy, records a cryptographic
// commitment per batch, and forwards the shuffled batch contents to the
// configured relays.
//
// # Usage
//
//	go run ./cmd/ingress --relays=http://relay-a:8080,http://relay-b:8080
//
// Commitments are persisted to PostgreSQL when --postgres-dsn is set;
// otherwise an in-memory store is used and the audit log does not survive a
// restart.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/flashbots/penum-ingress/common"
	"github.com/flashbots/penum-ingress/httpserver"
	"github.com/flashbots/penum-ingress/ingress"
	"github.com/flashbots/penum-ingress/metrics"
	"github.com/flashbots/penum-ingress/pipeline"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "HTTP listen address")
		metricsAddr = flag.String("metrics-addr", ":9090", "Metrics listen address (empty disables)")
		enablePprof = flag.Bool("pprof", false, "Enable the pprof debugging API")
		enableCORS  = flag.Bool("cors", false, "Allow cross-origin requests on the public API")
		logJSON     = flag.Bool("log-json", false, "Log in JSON format")
		logDebug    = flag.Bool("log-debug", false, "Enable debug logging")

		batchSize   = flag.Int("batch-size", 64, "Number of transactions that closes a batch")
		batchWindow = flag.Duration("batch-window", 2*time.Second, "Maximum time a batch stays open")
		dedupWindow = flag.Duration("dedup-window", 5*time.Minute, "How long a seen transaction hash is rejected as duplicate")
		flushEmpty  = flag.Bool("flush-empty-on-shutdown", false, "Flush an empty open batch at shutdown")

		relays       = flag.String("relays", "", "Comma-separated relay base URLs (required)")
		relayTimeout = flag.Duration("relay-timeout", 10*time.Second, "Per-attempt relay delivery timeout")
		relayRetries = flag.Int("relay-retries", 2, "Additional delivery attempts per relay after a failure")

		postgresDSN = flag.String("postgres-dsn", "", "PostgreSQL DSN for commitment storage (empty uses in-memory)")
	)
	flag.Parse()

	log := common.SetupLogger(*logJSON, *logDebug)

	if *relays == "" {
		fmt.Println("Error: --relays is required")
		os.Exit(1)
	}
	relayURLs := strings.Split(*relays, ",")
	for i := range relayURLs {
		relayURLs[i] = strings.TrimSpace(relayURLs[i])
	}

	var store pipeline.CommitmentStore
	if *postgresDSN != "" {
		pgStore, err := ingress.NewPostgresCommitmentStoreDSN(*postgresDSN)
		if err != nil {
			log.Error("Failed to open commitment store", "err", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		store = pgStore
		log.Info("Using PostgreSQL commitment store")
	} else {
		store = pipeline.NewInMemoryCommitmentStore()
		log.Warn("Using in-memory commitment store, audit log will not survive restarts")
	}

	sink := metrics.NewPipelineCollector()

	forwarder, err := ingress.NewRelayForwarder(ingress.RelayForwarderConfig{
		Relays:         relayURLs,
		RequestTimeout: *relayTimeout,
		MaxRetries:     *relayRetries,
	}, sink, log)
	if err != nil {
		log.Error("Failed to create relay forwarder", "err", err)
		os.Exit(1)
	}

	service, err := ingress.NewService(ingress.ServiceConfig{
		Pipeline: pipeline.Config{
			BatchSize:            *batchSize,
			BatchWindow:          *batchWindow,
			DedupWindow:          *dedupWindow,
			FlushEmptyOnShutdown: *flushEmpty,
		},
		Store:     store,
		Forwarder: forwarder,
		Sink:      sink,
		Log:       log,
	})
	if err != nil {
		log.Error("Failed to create ingress service", "err", err)
		os.Exit(1)
	}

	server, err := httpserver.New(&httpserver.Config{
		ListenAddr:               *addr,
		MetricsAddr:              *metricsAddr,
		EnablePprof:              *enablePprof,
		EnableCORS:               *enableCORS,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, service)
	if err != nil {
		log.Error("Failed to create HTTP server", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.Start(ctx); err != nil {
		log.Error("Failed to start ingress service", "err", err)
		os.Exit(1)
	}
	server.RunInBackground()

	log.Info("Ingress service running",
		"listenAddress", *addr,
		"batchSize", *batchSize,
		"batchWindow", *batchWindow,
		"relays", len(relayURLs))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")

	// Stop intake first, then drain the pipeline, then let in-flight relay
	// deliveries finish.
	server.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.Error("Pipeline drain failed", "err", err)
	}
	forwarder.Wait()

	log.Info("Shutdown complete")
}
