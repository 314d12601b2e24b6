package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flashbots/penum-ingress/pipeline"
)

// RelayForwarderConfig configures the relay fan-out.
type RelayForwarderConfig struct {
	// Relays is the list of relay base URLs. Batches are POSTed to
	// <relay>/batches.
	Relays []string

	// RequestTimeout bounds each delivery attempt.
	RequestTimeout time.Duration

	// MaxRetries is the number of additional attempts after the first
	// failure, per relay.
	MaxRetries int

	// RetryBackoff is the base delay between attempts, doubled each retry.
	RetryBackoff time.Duration
}

func (c *RelayForwarderConfig) withDefaults() RelayForwarderConfig {
	out := *c
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 10 * time.Second
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 250 * time.Millisecond
	}
	return out
}

// RelayForwarder delivers revealed batches to a set of relay endpoints. Each
// relay is handled independently: one slow or failing relay never delays
// delivery to the others, and never blocks the pipeline. Delivery is
// best-effort with bounded retries; outcomes are reported per destination
// through the observability sink, keyed by outcome class only.
type RelayForwarder struct {
	cfg    RelayForwarderConfig
	client *http.Client
	sink   pipeline.Sink
	log    *slog.Logger
	wg     sync.WaitGroup
}

// NewRelayForwarder creates a forwarder for the configured relays.
func NewRelayForwarder(cfg RelayForwarderConfig, sink pipeline.Sink, log *slog.Logger) (*RelayForwarder, error) {
	if len(cfg.Relays) == 0 {
		return nil, errors.New("no relay endpoints configured")
	}
	cfg = cfg.withDefaults()

	return &RelayForwarder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		sink:   sink,
		log:    log,
	}, nil
}

// Forward accepts a revealed batch for delivery and returns immediately. The
// pipeline considers the batch forwarded at hand-off; per-relay outcomes are
// observable only in aggregate.
func (f *RelayForwarder) Forward(ctx context.Context, reveal *pipeline.RevealedBatch) error {
	body, err := json.Marshal(&RelayBatchRequest{
		BatchID:        reveal.BatchID.String(),
		CommitmentHash: reveal.CommitmentHash.Hex(),
		Transactions:   reveal.Transactions,
	})
	if err != nil {
		return fmt.Errorf("encoding relay request: %w", err)
	}

	for _, relay := range f.cfg.Relays {
		f.wg.Add(1)
		go func(relay string) {
			defer f.wg.Done()
			f.deliver(ctx, relay, body)
		}(relay)
	}
	return nil
}

// Wait blocks until all in-flight deliveries have finished.
func (f *RelayForwarder) Wait() {
	f.wg.Wait()
}

func (f *RelayForwarder) deliver(ctx context.Context, relay string, body []byte) {
	var lastErr error

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := f.cfg.RetryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				f.sink.ForwardOutcome("timeout")
				return
			case <-time.After(backoff):
			}
		}

		err := f.post(ctx, relay, body)
		if err == nil {
			f.sink.ForwardOutcome("accepted")
			return
		}
		lastErr = err
	}

	outcome := "failed"
	if errors.Is(lastErr, context.DeadlineExceeded) {
		outcome = "timeout"
	}
	f.sink.ForwardOutcome(outcome)
	f.log.Warn("Relay delivery failed",
		"relay", relay,
		"attempts", f.cfg.MaxRetries+1,
		"err", lastErr)
}

func (f *RelayForwarder) post(ctx context.Context, relay string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relay+"/batches", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	return nil
}
