package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// captureForwarder records revealed batches and can be told to fail.
type captureForwarder struct {
	mu      sync.Mutex
	reveals []*RevealedBatch
	err     error
}

func (f *captureForwarder) Forward(_ context.Context, reveal *RevealedBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reveals = append(f.reveals, reveal)
	return nil
}

func (f *captureForwarder) last(t *testing.T) *RevealedBatch {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.reveals)
	return f.reveals[len(f.reveals)-1]
}

// countingSink tallies anomaly kinds.
type countingSink struct {
	NopSink
	mu        sync.Mutex
	anomalies map[string]int
	forwarded int
}

func newCountingSink() *countingSink {
	return &countingSink{anomalies: make(map[string]int)}
}

func (s *countingSink) Anomaly(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies[kind]++
}

func (s *countingSink) BatchForwarded(int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwarded++
}

func (s *countingSink) anomalyCount(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anomalies[kind]
}

// tamperingStore corrupts the commitment hash on every read.
type tamperingStore struct {
	CommitmentStore
}

func (s *tamperingStore) Get(ctx context.Context, batchID uuid.UUID) (*CommitmentRecord, error) {
	rec, err := s.CommitmentStore.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	rec.CommitmentHash[0] ^= 0xff
	return rec, nil
}

func closedTestBatch(t *testing.T, n int) *Batch {
	t.Helper()

	batch := newBatch(time.Now())
	for i := 0; i < n; i++ {
		env, err := NewEnvelope([]byte{0x02, byte(i), byte(n)}, EnvelopeVersion)
		require.NoError(t, err)
		env.Seq = uint64(i)
		batch.Envelopes = append(batch.Envelopes, env)
	}
	batch.Nonce = testNonce(0x5a)
	batch.Trigger = TriggerSize
	require.NoError(t, batch.Transition(BatchClosed))
	return batch
}

func newTestCoordinator(store CommitmentStore, fwd Forwarder, sink Sink,
	onTerminal func(uuid.UUID)) *RevealCoordinator {

	return NewRevealCoordinator(
		NewShuffleEngine(SystemEntropy()),
		NewCommitmentLedger(store),
		fwd, sink, testLogger(), onTerminal)
}

func TestCoordinator_HappyPathToForwarded(t *testing.T) {
	store := NewInMemoryCommitmentStore()
	fwd := &captureForwarder{}
	sink := newCountingSink()

	var terminalID uuid.UUID
	coord := newTestCoordinator(store, fwd, sink, func(id uuid.UUID) { terminalID = id })
	coord.Start(context.Background())

	batch := closedTestBatch(t, 5)
	wantCommitment := ComputeCommitment(batch.TxHashes(), batch.Nonce)
	wantTxs := make(map[string]bool, 5)
	for _, env := range batch.Envelopes {
		wantTxs[string(env.TxBytes)] = true
	}

	coord.Enqueue(batch)
	require.NoError(t, coord.Wait(context.Background()))

	require.Equal(t, BatchForwarded, batch.State())
	require.Equal(t, batch.ID, terminalID, "terminal callback fires on completion")
	require.Equal(t, 1, sink.forwarded)

	// The forwarded reveal carries the recorded commitment and the exact
	// transaction set, shuffled.
	reveal := fwd.last(t)
	require.Equal(t, batch.ID, reveal.BatchID)
	require.Equal(t, wantCommitment, reveal.CommitmentHash)
	require.Len(t, reveal.Transactions, 5)
	for _, tx := range reveal.Transactions {
		require.True(t, wantTxs[string(tx)], "unexpected transaction in reveal")
	}

	// The commitment record was written before the forwarder saw anything.
	rec, err := store.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, wantCommitment, rec.CommitmentHash)
	require.Equal(t, 5, rec.TxCount)

	// Envelope contents are discarded after the terminal state.
	require.Nil(t, batch.Envelopes)
}

func TestCoordinator_CommitPrecedesForward(t *testing.T) {
	store := NewInMemoryCommitmentStore()
	sink := newCountingSink()

	// A forwarder that checks, at delivery time, that the commitment is
	// already durable.
	var observedErr error
	checker := forwarderFunc(func(ctx context.Context, reveal *RevealedBatch) error {
		_, observedErr = store.Get(ctx, reveal.BatchID)
		return nil
	})

	coord := newTestCoordinator(store, checker, sink, nil)
	coord.Start(context.Background())

	batch := closedTestBatch(t, 3)
	coord.Enqueue(batch)
	require.NoError(t, coord.Wait(context.Background()))

	require.NoError(t, observedErr, "commitment must be recorded before any reveal leaves the pipeline")
	require.Equal(t, BatchForwarded, batch.State())
}

type forwarderFunc func(ctx context.Context, reveal *RevealedBatch) error

func (f forwarderFunc) Forward(ctx context.Context, reveal *RevealedBatch) error {
	return f(ctx, reveal)
}

func TestCoordinator_MismatchQuarantines(t *testing.T) {
	store := &tamperingStore{CommitmentStore: NewInMemoryCommitmentStore()}
	fwd := &captureForwarder{}
	sink := newCountingSink()

	coord := newTestCoordinator(store, fwd, sink, nil)
	coord.Start(context.Background())

	batch := closedTestBatch(t, 4)
	coord.Enqueue(batch)
	require.NoError(t, coord.Wait(context.Background()))

	require.Equal(t, BatchFailed, batch.State())
	reason, ok := coord.QuarantineReason(batch.ID)
	require.True(t, ok)
	require.Equal(t, "reveal", reason)
	require.Equal(t, 1, sink.anomalyCount("commitment_mismatch"))
	require.Empty(t, fwd.reveals, "quarantined batch must never be forwarded")
}

func TestCoordinator_DuplicateCommitmentIsFatal(t *testing.T) {
	store := NewInMemoryCommitmentStore()
	fwd := &captureForwarder{}
	sink := newCountingSink()

	coord := newTestCoordinator(store, fwd, sink, nil)
	coord.Start(context.Background())

	batch := closedTestBatch(t, 2)

	// Pre-seed a record under the same batch id, simulating a replay.
	err := store.Append(context.Background(), &CommitmentRecord{
		BatchID:        batch.ID,
		CommitmentHash: common.Hash{0x01},
		TxCount:        2,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)

	coord.Enqueue(batch)
	require.NoError(t, coord.Wait(context.Background()))

	require.Equal(t, BatchFailed, batch.State())
	require.Equal(t, 1, sink.anomalyCount("duplicate_commitment"))
	require.Empty(t, fwd.reveals)
}

func TestCoordinator_ForwarderErrorFailsBatch(t *testing.T) {
	store := NewInMemoryCommitmentStore()
	fwd := &captureForwarder{err: context.DeadlineExceeded}
	sink := newCountingSink()

	coord := newTestCoordinator(store, fwd, sink, nil)
	coord.Start(context.Background())

	batch := closedTestBatch(t, 2)
	coord.Enqueue(batch)
	require.NoError(t, coord.Wait(context.Background()))

	require.Equal(t, BatchFailed, batch.State())
	reason, ok := coord.QuarantineReason(batch.ID)
	require.True(t, ok)
	require.Equal(t, "forward", reason)

	// The commitment record persists even though delivery failed.
	_, err := store.Get(context.Background(), batch.ID)
	require.NoError(t, err)
}

func TestCoordinator_RejectsNonClosedBatch(t *testing.T) {
	fwd := &captureForwarder{}
	coord := newTestCoordinator(NewInMemoryCommitmentStore(), fwd, NopSink{}, nil)
	coord.Start(context.Background())

	batch := newBatch(time.Now()) // still OPEN
	coord.Enqueue(batch)
	require.NoError(t, coord.Wait(context.Background()))

	require.Equal(t, BatchFailed, batch.State())
	require.Empty(t, fwd.reveals)
}

func TestCoordinator_ShutdownBeforeCommitQuarantines(t *testing.T) {
	store := NewInMemoryCommitmentStore()
	fwd := &captureForwarder{}

	coord := newTestCoordinator(store, fwd, NopSink{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)
	cancel()

	batch := closedTestBatch(t, 3)
	coord.Enqueue(batch)
	require.NoError(t, coord.Wait(context.Background()))

	// An uncommitted batch never surfaces after shutdown.
	require.Equal(t, BatchFailed, batch.State())
	require.Empty(t, fwd.reveals)
	_, err := store.Get(context.Background(), batch.ID)
	require.ErrorIs(t, err, ErrCommitmentMissing)
}

func TestCoordinator_DeliveryContextSurvivesShutdown(t *testing.T) {
	var (
		mu          sync.Mutex
		deliveryCtx context.Context
	)
	fwd := forwarderFunc(func(ctx context.Context, _ *RevealedBatch) error {
		mu.Lock()
		deliveryCtx = ctx
		mu.Unlock()
		return nil
	})

	coord := newTestCoordinator(NewInMemoryCommitmentStore(), fwd, NopSink{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)

	batch := closedTestBatch(t, 2)
	coord.Enqueue(batch)
	require.NoError(t, coord.Wait(context.Background()))
	require.Equal(t, BatchForwarded, batch.State())

	// Cancelling the processing context must not reach in-flight deliveries:
	// a batch marked FORWARDED has really been handed off for delivery.
	cancel()
	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, deliveryCtx)
	require.NoError(t, deliveryCtx.Err(),
		"delivery context must outlive pipeline shutdown")
}

func TestCoordinator_ConcurrentStartAndEnqueue(t *testing.T) {
	fwd := &captureForwarder{}
	coord := newTestCoordinator(NewInMemoryCommitmentStore(), fwd, NopSink{}, nil)

	batch := closedTestBatch(t, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		coord.Start(context.Background())
	}()
	go func() {
		defer wg.Done()
		coord.Enqueue(batch)
	}()
	wg.Wait()

	require.NoError(t, coord.Wait(context.Background()))
	require.Equal(t, BatchForwarded, batch.State())
}

func TestCoordinator_WaitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	slow := forwarderFunc(func(context.Context, *RevealedBatch) error {
		<-block
		return nil
	})

	coord := newTestCoordinator(NewInMemoryCommitmentStore(), slow, NopSink{}, nil)
	coord.Start(context.Background())
	coord.Enqueue(closedTestBatch(t, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, coord.Wait(ctx), context.DeadlineExceeded)

	close(block)
	require.NoError(t, coord.Wait(context.Background()))
}
