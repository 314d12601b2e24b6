package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flashbots/penum-ingress/pipeline"
)

// ServiceConfig bundles everything the ingress service needs. Store,
// Forwarder and Sink are injected so tests and deployments can swap
// implementations freely.
type ServiceConfig struct {
	Pipeline  pipeline.Config
	Store     pipeline.CommitmentStore
	Forwarder pipeline.Forwarder
	Sink      pipeline.Sink
	Log       *slog.Logger
}

// Service ties the batch accumulator, reveal coordinator and commitment
// ledger together behind the HTTP API.
type Service struct {
	cfg         ServiceConfig
	accumulator *pipeline.BatchAccumulator
	coordinator *pipeline.RevealCoordinator
	ledger      *pipeline.CommitmentLedger
	log         *slog.Logger

	procCancel context.CancelFunc
}

// NewService wires the pipeline components together.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil || cfg.Forwarder == nil {
		return nil, errors.New("ingress service requires a commitment store and a forwarder")
	}
	if cfg.Sink == nil {
		cfg.Sink = pipeline.NopSink{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	s := &Service{
		cfg:    cfg,
		ledger: pipeline.NewCommitmentLedger(cfg.Store),
		log:    cfg.Log,
	}

	entropy := pipeline.SystemEntropy()

	s.coordinator = pipeline.NewRevealCoordinator(
		pipeline.NewShuffleEngine(entropy), s.ledger, cfg.Forwarder,
		cfg.Sink, cfg.Log, s.onBatchTerminal)

	acc, err := pipeline.NewBatchAccumulator(cfg.Pipeline, entropy, cfg.Sink, cfg.Log, s.coordinator.Enqueue)
	if err != nil {
		return nil, fmt.Errorf("creating batch accumulator: %w", err)
	}
	s.accumulator = acc

	return s, nil
}

// Start begins batch processing. The coordinator runs under its own context
// so that intake shutdown and processing shutdown stay separately ordered: a
// batch flushed at shutdown still commits and reveals before processing
// stops.
func (s *Service) Start(_ context.Context) error {
	procCtx, cancel := context.WithCancel(context.Background())
	s.procCancel = cancel
	s.coordinator.Start(procCtx)
	return nil
}

// Shutdown stops intake, flushes the open batch through the full pipeline,
// and waits for in-flight batches to reach a terminal state, bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	// Accumulator shutdown hands the flushed batch (if any) to the
	// coordinator via onClose, same as a regular close.
	s.accumulator.Shutdown()

	err := s.coordinator.Wait(ctx)
	if s.procCancel != nil {
		s.procCancel()
	}
	if err != nil {
		return fmt.Errorf("draining reveal coordinator: %w", err)
	}
	return nil
}

func (s *Service) onBatchTerminal(batchID uuid.UUID) {
	s.accumulator.Release(batchID)
}

// RegisterRoutes registers the public HTTP API.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/transactions", s.handleSubmitTransaction)
	r.Get("/api/v1/commitments/{batchID}", s.handleGetCommitment)
}

// submitBodyLimit bounds the submission body before decoding. A transaction
// at MaxTxBytes hex-encodes to twice its size; the rest is envelope fields.
const submitBodyLimit = 2*pipeline.MaxTxBytes + 1024

func (s *Service) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, submitBodyLimit)

	var req SubmitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	version := req.EnvelopeVersion
	if version == 0 {
		version = pipeline.EnvelopeVersion
	}

	env, err := pipeline.NewEnvelope(req.Tx, version)
	if err != nil {
		s.cfg.Sink.EnvelopeRejected("invalid")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.accumulator.Submit(env); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrRejectedDuplicate):
			http.Error(w, "duplicate transaction", http.StatusConflict)
		case errors.Is(err, pipeline.ErrShutdownInProgress):
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	json.NewEncoder(w).Encode(&SubmitTransactionResponse{Accepted: true}) //nolint:errcheck
}

func (s *Service) handleGetCommitment(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		http.Error(w, "invalid batch id", http.StatusBadRequest)
		return
	}

	rec, err := s.ledger.Record(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, pipeline.ErrCommitmentMissing) {
			http.Error(w, "commitment not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(&CommitmentResponse{ //nolint:errcheck
		BatchID:        rec.BatchID.String(),
		CommitmentHash: rec.CommitmentHash.Hex(),
		TxCount:        rec.TxCount,
		CreatedAt:      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}
