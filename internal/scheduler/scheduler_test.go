package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/contrast-oss/license-exporter/internal/licensing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAggregator struct {
	mu       sync.Mutex
	results  []*licensing.Result
	errs     []error
	calls    int
	inflight int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (f *fakeAggregator) Run(ctx context.Context) (*licensing.Result, error) {
	if atomic.AddInt32(&f.inflight, 1) > 1 {
		f.overlap.Store(true)
	}
	defer atomic.AddInt32(&f.inflight, -1)

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return &licensing.Result{UniqueCount: i}, nil
}

func (f *fakeAggregator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSink struct {
	mu        sync.Mutex
	published []*licensing.Result
	failures  int
}

func (f *fakeSink) Publish(result *licensing.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, result)
}

func (f *fakeSink) RecordFailure(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

func (f *fakeSink) snapshot() ([]*licensing.Result, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*licensing.Result(nil), f.published...), f.failures
}

func TestRunCycleAndPublishPublishesResult(t *testing.T) {
	want := &licensing.Result{CycleID: "c1", UniqueCount: 7}
	agg := &fakeAggregator{results: []*licensing.Result{want}}
	sink := &fakeSink{}

	err := New(agg, sink, time.Minute).RunCycleAndPublish(context.Background())
	require.NoError(t, err)

	published, failures := sink.snapshot()
	require.Len(t, published, 1)
	assert.Same(t, want, published[0])
	assert.Zero(t, failures)
}

func TestRunCycleAndPublishDoesNotPublishOnFailure(t *testing.T) {
	listErr := errors.New("list_applications failed for environment 'staging'")
	agg := &fakeAggregator{errs: []error{listErr}}
	sink := &fakeSink{}

	err := New(agg, sink, time.Minute).RunCycleAndPublish(context.Background())
	require.ErrorIs(t, err, listErr)

	published, failures := sink.snapshot()
	assert.Empty(t, published)
	assert.Equal(t, 1, failures)
}

func TestRunCycleAndPublishSerializesCallers(t *testing.T) {
	agg := &fakeAggregator{delay: 20 * time.Millisecond}
	sink := &fakeSink{}
	s := New(agg, sink, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunCycleAndPublish(context.Background())
		}()
	}
	wg.Wait()

	assert.False(t, agg.overlap.Load(), "cycles must not run concurrently")
	assert.Equal(t, 4, agg.callCount())
}

func TestRunRepeatsAndRetriesAfterFailure(t *testing.T) {
	agg := &fakeAggregator{errs: []error{errors.New("transient"), nil, nil}}
	sink := &fakeSink{}
	s := New(agg, sink, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		published, _ := sink.snapshot()
		return len(published) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	_, failures := sink.snapshot()
	assert.Equal(t, 1, failures)
}

func TestTickSkipsWhileCycleRunning(t *testing.T) {
	agg := &fakeAggregator{}
	sink := &fakeSink{}
	s := New(agg, sink, time.Minute)

	s.cycleMu.Lock()
	s.tick(context.Background())
	s.cycleMu.Unlock()

	assert.Zero(t, agg.callCount(), "tick should be skipped while a cycle holds the lock")

	s.tick(context.Background())
	assert.Equal(t, 1, agg.callCount())
}
