package idmapping

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRecorder struct {
	mu      sync.Mutex
	runIDs  []string
	results []domain.Result
	err     error
}

func (r *recordingRecorder) Record(_ context.Context, runID string, res domain.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runIDs = append(r.runIDs, runID)
	r.results = append(r.results, res)
	return r.err
}

// resolverFunc adapts a function to the Resolver interface
type resolverFunc func(ctx context.Context, batch domain.Batch, sel domain.Selection) (*domain.Payload, error)

func (f resolverFunc) Resolve(ctx context.Context, batch domain.Batch, sel domain.Selection) (*domain.Payload, error) {
	return f(ctx, batch, sel)
}

func echoResolver() resolverFunc {
	return func(_ context.Context, batch domain.Batch, _ domain.Selection) (*domain.Payload, error) {
		return &domain.Payload{Batch: batch, Format: domain.FormatTSV, Data: []byte(batch.IDs[0])}, nil
	}
}

func collect(t *testing.T, seq func(func(domain.Result) bool)) []domain.Result {
	t.Helper()
	var out []domain.Result
	for res := range seq {
		out = append(out, res)
	}
	return out
}

func TestOrchestrator_Sequential(t *testing.T) {
	fake, srv := newFakeUniProt(t)
	client := newTestClient(t, srv.URL, newFakeClock(), http.DefaultTransport)
	recorder := &recordingRecorder{}
	orch := NewOrchestrator(client, Sequential{}, WithRecorder(recorder))

	batches := []domain.Batch{
		{Index: 0, IDs: []string{"Q99490", "Q8NEJ0"}},
		{Index: 1, IDs: []string{"Q13322"}},
	}
	seq, err := orch.RunAs(context.Background(), "run-1", batches, defaultSelection)
	require.NoError(t, err)

	results := collect(t, seq)
	require.Len(t, results, 2)
	for i, res := range results {
		require.NoError(t, res.Err)
		require.NotNil(t, res.Payload)
		assert.Equal(t, i, res.Batch.Index)
		assert.Equal(t, batches[i], res.Payload.Batch)
	}
	assert.Equal(t, "From\tEntry\nQ99490\tQ99490\nQ8NEJ0\tQ8NEJ0\n", string(results[0].Payload.Data))
	assert.Equal(t, "From\tEntry\nQ13322\tQ13322\n", string(results[1].Payload.Data))

	submits, _, _ := fake.counts()
	assert.Equal(t, 2, submits)

	assert.Equal(t, []string{"run-1", "run-1"}, recorder.runIDs)
	assert.Len(t, recorder.results, 2)
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	batches := []domain.Batch{
		{Index: 0, IDs: []string{"P04637"}},
		{Index: 1, IDs: []string{"Q13322", "Q8NEJ0"}},
		{Index: 2, IDs: []string{"Q99490"}},
	}

	t.Run("remaining batches still run", func(t *testing.T) {
		fake, srv := newFakeUniProt(t)
		fake.expire["Q13322"] = true
		client := newTestClient(t, srv.URL, newFakeClock(), http.DefaultTransport)
		orch := NewOrchestrator(client, Sequential{})

		seq, err := orch.Run(context.Background(), batches, defaultSelection)
		require.NoError(t, err)

		results := collect(t, seq)
		require.Len(t, results, 3)

		assert.NoError(t, results[0].Err)
		assert.NoError(t, results[2].Err)
		assert.NotNil(t, results[2].Payload)

		require.Error(t, results[1].Err)
		assert.Nil(t, results[1].Payload)
		assert.ErrorIs(t, results[1].Err, domain.ErrJobNotFound)

		var batchErr *domain.BatchError
		require.ErrorAs(t, results[1].Err, &batchErr)
		assert.Equal(t, 1, batchErr.Index)
		assert.Equal(t, []string{"Q13322", "Q8NEJ0"}, batchErr.IDs)
	})

	t.Run("concurrent batches are isolated", func(t *testing.T) {
		fake, srv := newFakeUniProt(t)
		fake.expire["Q13322"] = true
		client := newTestClient(t, srv.URL, newFakeClock(), http.DefaultTransport)
		orch := NewOrchestrator(client, Concurrent{MaxInFlight: 3})

		seq, err := orch.Run(context.Background(), batches, defaultSelection)
		require.NoError(t, err)

		byIndex := make(map[int]domain.Result)
		for _, res := range collect(t, seq) {
			byIndex[res.Batch.Index] = res
		}
		require.Len(t, byIndex, 3)

		for _, i := range []int{0, 2} {
			assert.NoError(t, byIndex[i].Err)
			assert.NotNil(t, byIndex[i].Payload)
		}
		assert.ErrorIs(t, byIndex[1].Err, domain.ErrJobNotFound)
		assert.Nil(t, byIndex[1].Payload)

		var batchErr *domain.BatchError
		require.ErrorAs(t, byIndex[1].Err, &batchErr)
		assert.Equal(t, []string{"Q13322", "Q8NEJ0"}, batchErr.IDs)
	})

	t.Run("abort on error stops the run", func(t *testing.T) {
		fake, srv := newFakeUniProt(t)
		fake.expire["Q13322"] = true
		client := newTestClient(t, srv.URL, newFakeClock(), http.DefaultTransport)
		orch := NewOrchestrator(client, Sequential{AbortOnError: true})

		seq, err := orch.Run(context.Background(), batches, defaultSelection)
		require.NoError(t, err)

		results := collect(t, seq)
		require.Len(t, results, 2)
		assert.Error(t, results[1].Err)

		submits, _, _ := fake.counts()
		assert.Equal(t, 2, submits)
	})
}

func TestOrchestrator_WrapsPlainErrors(t *testing.T) {
	boom := errors.New("boom")
	orch := NewOrchestrator(resolverFunc(func(context.Context, domain.Batch, domain.Selection) (*domain.Payload, error) {
		return &domain.Payload{}, boom
	}), nil)

	seq, err := orch.Run(context.Background(), []domain.Batch{{Index: 4, IDs: []string{"P04637"}}}, defaultSelection)
	require.NoError(t, err)

	results := collect(t, seq)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Payload)
	assert.ErrorIs(t, results[0].Err, boom)

	var batchErr *domain.BatchError
	require.ErrorAs(t, results[0].Err, &batchErr)
	assert.Equal(t, 4, batchErr.Index)
}

func TestOrchestrator_RejectsBeforeSubmitting(t *testing.T) {
	tests := []struct {
		name    string
		batches []domain.Batch
		sel     domain.Selection
	}{
		{
			name:    "unknown from database",
			batches: []domain.Batch{{IDs: []string{"P04637"}}},
			sel:     domain.Selection{From: "NotADatabase", To: "UniProtKB"},
		},
		{
			name:    "to-only database used as source",
			batches: []domain.Batch{{IDs: []string{"P04637"}}},
			sel:     domain.Selection{From: "UniProtKB-Swiss-Prot", To: "UniProtKB"},
		},
		{
			name:    "no batches",
			batches: nil,
			sel:     defaultSelection,
		},
		{
			name:    "empty batch",
			batches: []domain.Batch{{Index: 0, IDs: nil}},
			sel:     defaultSelection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, srv := newFakeUniProt(t)
			client := newTestClient(t, srv.URL, newFakeClock(), http.DefaultTransport)
			orch := NewOrchestrator(client, Concurrent{MaxInFlight: 2})

			seq, err := orch.Run(context.Background(), tt.batches, tt.sel)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Nil(t, seq)

			submits, _, _ := fake.counts()
			assert.Zero(t, submits)
		})
	}
}

func TestOrchestrator_RecorderErrorsDoNotFailBatches(t *testing.T) {
	recorder := &recordingRecorder{err: errors.New("database is down")}
	orch := NewOrchestrator(echoResolver(), Sequential{}, WithRecorder(recorder))

	seq, err := orch.Run(context.Background(), []domain.Batch{{IDs: []string{"P04637"}}}, defaultSelection)
	require.NoError(t, err)

	results := collect(t, seq)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Len(t, recorder.results, 1)
}

func TestNewStrategy(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		want    Strategy
		wantErr bool
	}{
		{name: "default", mode: "", want: Sequential{}},
		{name: "sequential", mode: ModeSequential, want: Sequential{AbortOnError: true}},
		{name: "concurrent", mode: ModeConcurrent, want: Concurrent{MaxInFlight: 8, AbortOnError: true}},
		{name: "unknown", mode: "parallel", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStrategy(tt.mode, 8, tt.mode != "")
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSequential_StopsWhenConsumerBreaks(t *testing.T) {
	var calls atomic.Int32
	resolve := func(_ context.Context, batch domain.Batch) domain.Result {
		calls.Add(1)
		return domain.Result{Batch: batch}
	}

	batches, err := Plan(makeIDs(5), 1)
	require.NoError(t, err)

	for range (Sequential{}).Run(context.Background(), batches, resolve) {
		break
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestSequential_StopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	resolve := func(_ context.Context, batch domain.Batch) domain.Result {
		calls.Add(1)
		if batch.Index == 1 {
			cancel()
		}
		return domain.Result{Batch: batch}
	}

	batches, err := Plan(makeIDs(5), 1)
	require.NoError(t, err)

	results := collect(t, Sequential{}.Run(ctx, batches, resolve))
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[1].Batch.Index)
	assert.Equal(t, int32(2), calls.Load())
}

func TestConcurrent_YieldsInCompletionOrder(t *testing.T) {
	batches, err := Plan(makeIDs(3), 1)
	require.NoError(t, err)

	gates := make([]chan struct{}, len(batches))
	for i := range gates {
		gates[i] = make(chan struct{})
	}
	resolve := func(ctx context.Context, batch domain.Batch) domain.Result {
		select {
		case <-gates[batch.Index]:
		case <-ctx.Done():
		}
		return domain.Result{Batch: batch}
	}

	release := []int{2, 0, 1}
	close(gates[release[0]])

	var order []int
	for res := range (Concurrent{MaxInFlight: 3}).Run(context.Background(), batches, resolve) {
		order = append(order, res.Batch.Index)
		if len(order) < len(release) {
			close(gates[release[len(order)]])
		}
	}

	assert.Equal(t, release, order)
}

func TestConcurrent_BoundsInFlight(t *testing.T) {
	const limit = 3

	var inFlight, peak atomic.Int32
	resolve := func(_ context.Context, batch domain.Batch) domain.Result {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return domain.Result{Batch: batch}
	}

	batches, err := Plan(makeIDs(12), 1)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for res := range (Concurrent{MaxInFlight: limit}).Run(context.Background(), batches, resolve) {
		seen[res.Batch.Index] = true
	}

	assert.Len(t, seen, 12)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Positive(t, peak.Load())
}

func TestConcurrent_AbandonedRunReleasesWorkers(t *testing.T) {
	var active, finished atomic.Int32
	resolve := func(ctx context.Context, batch domain.Batch) domain.Result {
		active.Add(1)
		defer active.Add(-1)
		if batch.Index != 0 {
			<-ctx.Done()
			time.Sleep(5 * time.Millisecond)
			finished.Add(1)
			return domain.Result{Batch: batch, Err: ctx.Err()}
		}
		return domain.Result{Batch: batch}
	}

	batches, err := Plan(makeIDs(6), 1)
	require.NoError(t, err)

	var got []domain.Result
	for res := range (Concurrent{MaxInFlight: 3}).Run(context.Background(), batches, resolve) {
		got = append(got, res)
		break
	}

	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Batch.Index)
	// every worker has returned by the time the range loop ends
	assert.Zero(t, active.Load())
	settled := finished.Load()
	assert.Positive(t, settled)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, finished.Load())
}

func TestConcurrent_AbortOnError(t *testing.T) {
	resolve := func(ctx context.Context, batch domain.Batch) domain.Result {
		if batch.Index == 0 {
			return domain.Result{Batch: batch, Err: errors.New("failed")}
		}
		<-ctx.Done()
		return domain.Result{Batch: batch, Err: ctx.Err()}
	}

	batches, err := Plan(makeIDs(4), 1)
	require.NoError(t, err)

	results := collect(t, Concurrent{MaxInFlight: 4, AbortOnError: true}.Run(context.Background(), batches, resolve))
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Batch.Index)
}
