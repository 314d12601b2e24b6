package ingress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/flashbots/penum-ingress/pipeline"
)

// relayRecorder is an httptest relay that captures delivered batches,
// optionally responding with a configurable delay.
type relayRecorder struct {
	mu       sync.Mutex
	requests []RelayBatchRequest
	status   int
	delay    time.Duration
	server   *httptest.Server
}

func newRelayRecorder(t *testing.T, status int) *relayRecorder {
	t.Helper()

	r := &relayRecorder{status: status}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/batches", req.URL.Path)

		r.mu.Lock()
		delay := r.delay
		r.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}

		var batch RelayBatchRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&batch))

		r.mu.Lock()
		r.requests = append(r.requests, batch)
		r.mu.Unlock()

		w.WriteHeader(r.status)
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *relayRecorder) setDelay(d time.Duration) {
	r.mu.Lock()
	r.delay = d
	r.mu.Unlock()
}

func (r *relayRecorder) received() []RelayBatchRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RelayBatchRequest{}, r.requests...)
}

// outcomeSink tallies per-destination forward outcomes.
type outcomeSink struct {
	pipeline.NopSink
	mu       sync.Mutex
	outcomes map[string]int
}

func newOutcomeSink() *outcomeSink {
	return &outcomeSink{outcomes: make(map[string]int)}
}

func (s *outcomeSink) ForwardOutcome(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[outcome]++
}

func (s *outcomeSink) count(outcome string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[outcome]
}

func testReveal() *pipeline.RevealedBatch {
	return &pipeline.RevealedBatch{
		BatchID:        uuid.New(),
		CommitmentHash: common.Hash{0xab},
		Transactions:   []hexutil.Bytes{{0x02, 0x01}, {0x02, 0x02}},
	}
}

func TestRelayForwarder_FanOut(t *testing.T) {
	relayA := newRelayRecorder(t, http.StatusOK)
	relayB := newRelayRecorder(t, http.StatusOK)
	sink := newOutcomeSink()

	fwd, err := NewRelayForwarder(RelayForwarderConfig{
		Relays: []string{relayA.server.URL, relayB.server.URL},
	}, sink, slog.Default())
	require.NoError(t, err)

	reveal := testReveal()
	require.NoError(t, fwd.Forward(context.Background(), reveal))
	fwd.Wait()

	for _, relay := range []*relayRecorder{relayA, relayB} {
		got := relay.received()
		require.Len(t, got, 1)
		require.Equal(t, reveal.BatchID.String(), got[0].BatchID)
		require.Equal(t, reveal.CommitmentHash.Hex(), got[0].CommitmentHash)
		require.Len(t, got[0].Transactions, 2)
	}
	require.Equal(t, 2, sink.count("accepted"))
}

func TestRelayForwarder_FailingRelayDoesNotBlockOthers(t *testing.T) {
	healthy := newRelayRecorder(t, http.StatusOK)
	broken := newRelayRecorder(t, http.StatusInternalServerError)
	sink := newOutcomeSink()

	fwd, err := NewRelayForwarder(RelayForwarderConfig{
		Relays:       []string{healthy.server.URL, broken.server.URL},
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, sink, slog.Default())
	require.NoError(t, err)

	require.NoError(t, fwd.Forward(context.Background(), testReveal()))
	fwd.Wait()

	require.Len(t, healthy.received(), 1)
	require.Equal(t, 1, sink.count("accepted"))
	require.Equal(t, 1, sink.count("failed"))

	// The broken relay was retried the configured number of times and no
	// more.
	require.Len(t, broken.received(), 3)
}

func TestRelayForwarder_RequiresRelays(t *testing.T) {
	_, err := NewRelayForwarder(RelayForwarderConfig{}, pipeline.NopSink{}, slog.Default())
	require.Error(t, err)
}

func TestRelayForwarder_ContextCancelStopsRetries(t *testing.T) {
	broken := newRelayRecorder(t, http.StatusBadGateway)
	sink := newOutcomeSink()

	fwd, err := NewRelayForwarder(RelayForwarderConfig{
		Relays:       []string{broken.server.URL},
		MaxRetries:   10,
		RetryBackoff: 50 * time.Millisecond,
	}, sink, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, fwd.Forward(ctx, testReveal()))
	cancel()
	fwd.Wait()

	require.Equal(t, 1, sink.count("timeout"))
	require.Less(t, len(broken.received()), 11, "cancellation must cut retries short")
}
