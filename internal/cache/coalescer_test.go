package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cirruslabs/resizer/internal/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGetOrComputeHit(t *testing.T) {
	clock := newFakeClock()
	memory := cache.NewMemory(1024*1024, time.Hour, cache.WithClock(clock.Now))
	coalescer := cache.NewCoalescer(memory)
	key := uuid.NewString()

	var computations atomic.Int64

	compute := func(_ context.Context) (cache.Value, error) {
		computations.Add(1)

		return cache.Value{Payload: []byte("Hello, World!"), ContentType: "image/png"}, nil
	}

	entry, outcome, err := coalescer.GetOrCompute(context.Background(), key, compute)
	require.NoError(t, err)
	require.Equal(t, cache.OutcomeMiss, outcome)
	require.Equal(t, clock.Now(), entry.InsertedAt)

	cachedEntry, outcome, err := coalescer.GetOrCompute(context.Background(), key, compute)
	require.NoError(t, err)
	require.Equal(t, cache.OutcomeHit, outcome)
	require.Same(t, entry, cachedEntry)

	require.EqualValues(t, 1, computations.Load())

	// Once the entry expires, it's computed again
	clock.Advance(time.Hour + time.Second)

	_, outcome, err = coalescer.GetOrCompute(context.Background(), key, compute)
	require.NoError(t, err)
	require.Equal(t, cache.OutcomeMiss, outcome)
	require.EqualValues(t, 2, computations.Load())
}

func TestGetOrComputeCoalescing(t *testing.T) {
	const callers = 10

	memory := cache.NewMemory(1024*1024, time.Hour)
	coalescer := cache.NewCoalescer(memory)
	key := uuid.NewString()

	var computations atomic.Int64

	release := make(chan struct{})

	compute := func(_ context.Context) (cache.Value, error) {
		computations.Add(1)

		<-release

		return cache.Value{Payload: []byte("Hello, World!"), ContentType: "image/png"}, nil
	}

	var wg sync.WaitGroup

	entries := make([]*cache.Entry, callers)
	outcomes := make([]cache.Outcome, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			entries[i], outcomes[i], errs[i] = coalescer.GetOrCompute(context.Background(), key, compute)
		}(i)
	}

	// Every caller has joined the flight before it's allowed to finish
	require.Eventually(t, func() bool {
		return coalescer.Waiters(key) == callers
	}, 5*time.Second, time.Millisecond)
	require.True(t, coalescer.InFlight(key))

	close(release)
	wg.Wait()

	require.EqualValues(t, 1, computations.Load())

	outcomeCounts := map[cache.Outcome]int{}

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Same(t, entries[0], entries[i])

		outcomeCounts[outcomes[i]]++
	}

	require.Equal(t, map[cache.Outcome]int{
		cache.OutcomeMiss:   1,
		cache.OutcomeShared: callers - 1,
	}, outcomeCounts)

	require.False(t, coalescer.InFlight(key))
	require.Zero(t, coalescer.Waiters(key))
	require.Equal(t, 1, memory.Stats().Entries)
}

func TestGetOrComputeErrorSharedAndNotCached(t *testing.T) {
	const callers = 5

	memory := cache.NewMemory(1024*1024, time.Hour)
	coalescer := cache.NewCoalescer(memory)
	key := uuid.NewString()

	errBoom := errors.New("boom")

	var computations atomic.Int64

	started := make(chan struct{})
	release := make(chan struct{})

	compute := func(_ context.Context) (cache.Value, error) {
		if computations.Add(1) == 1 {
			close(started)
		}

		<-release

		return cache.Value{}, errBoom
	}

	var wg sync.WaitGroup

	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_, _, errs[i] = coalescer.GetOrCompute(context.Background(), key, compute)
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	// Every waiter receives the failure
	for _, err := range errs {
		require.ErrorIs(t, err, errBoom)
	}

	_, ok := memory.Get(key)
	require.False(t, ok)

	// Each subsequent call retries independently
	before := computations.Load()

	for i := 0; i < 3; i++ {
		_, _, err := coalescer.GetOrCompute(context.Background(), key, compute)
		require.ErrorIs(t, err, errBoom)
	}

	require.EqualValues(t, before+3, computations.Load())

	_, ok = memory.Get(key)
	require.False(t, ok)
	require.Zero(t, memory.Stats().Entries)
}

func TestGetOrComputeIndependentKeys(t *testing.T) {
	coalescer := cache.NewCoalescer(cache.NewMemory(1024*1024, time.Hour))

	release := make(chan struct{})
	defer close(release)

	blockedStarted := make(chan struct{})

	// Start a computation that doesn't finish until the end of the test
	go func() {
		_, _, _ = coalescer.GetOrCompute(context.Background(), "slow", func(_ context.Context) (cache.Value, error) {
			close(blockedStarted)

			<-release

			return cache.Value{Payload: []byte("slow")}, nil
		})
	}()

	<-blockedStarted

	// Computations for other keys proceed while "slow" is in flight
	type result struct {
		entry   *cache.Entry
		outcome cache.Outcome
		err     error
	}

	done := make(chan result, 1)

	go func() {
		entry, outcome, err := coalescer.GetOrCompute(context.Background(), "fast",
			func(_ context.Context) (cache.Value, error) {
				return cache.Value{Payload: []byte("fast")}, nil
			})
		done <- result{entry: entry, outcome: outcome, err: err}
	}()

	select {
	case result := <-done:
		require.NoError(t, result.err)
		require.Equal(t, cache.OutcomeMiss, result.outcome)
		require.Equal(t, []byte("fast"), result.entry.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("computation for an unrelated key was blocked")
	}

	require.True(t, coalescer.InFlight("slow"))
}

func TestGetOrComputeCallerCancellation(t *testing.T) {
	coalescer := cache.NewCoalescer(cache.NewMemory(1024*1024, time.Hour))
	key := uuid.NewString()

	started := make(chan struct{})
	release := make(chan struct{})

	compute := func(ctx context.Context) (cache.Value, error) {
		close(started)

		<-release

		// Computation is detached from the leader's cancellation
		if err := ctx.Err(); err != nil {
			return cache.Value{}, err
		}

		return cache.Value{Payload: []byte("Hello, World!")}, nil
	}

	leaderCtx, leaderCancel := context.WithCancel(context.Background())

	leaderResult := make(chan error, 1)

	go func() {
		_, _, err := coalescer.GetOrCompute(leaderCtx, key, compute)
		leaderResult <- err
	}()

	<-started

	// The leader goes away, but the computation carries on
	leaderCancel()
	require.ErrorIs(t, <-leaderResult, context.Canceled)
	require.True(t, coalescer.InFlight(key))

	followerResult := make(chan error, 1)
	followerEntry := make(chan *cache.Entry, 1)

	go func() {
		entry, _, err := coalescer.GetOrCompute(context.Background(), key, compute)
		followerEntry <- entry
		followerResult <- err
	}()

	close(release)

	entry := <-followerEntry
	require.NoError(t, <-followerResult)
	require.Equal(t, []byte("Hello, World!"), entry.Payload)
}

func TestGetOrComputePanic(t *testing.T) {
	memory := cache.NewMemory(1024*1024, time.Hour)
	coalescer := cache.NewCoalescer(memory)
	key := uuid.NewString()

	_, _, err := coalescer.GetOrCompute(context.Background(), key, func(_ context.Context) (cache.Value, error) {
		panic("oops")
	})
	require.ErrorContains(t, err, "oops")
	require.False(t, coalescer.InFlight(key))

	_, ok := memory.Get(key)
	require.False(t, ok)
}
