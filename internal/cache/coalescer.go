package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type Outcome string

const (
	OutcomeHit    Outcome = "hit"
	OutcomeMiss   Outcome = "miss"
	OutcomeShared Outcome = "shared"
)

type ComputeFunc func(ctx context.Context) (Value, error)

// Coalescer makes sure that at most one computation per key is in flight.
// Callers that ask for a key while its computation is running wait for
// that computation and receive its entry or its error.
//
// Failed computations are never cached, the next caller starts afresh.
type Coalescer struct {
	cache   Cache
	now     func() time.Time
	flights *xsync.MapOf[string, *flight]
}

type flight struct {
	done    chan struct{}
	waiters atomic.Int64
	entry   *Entry
	err     error
}

type CoalescerOption func(coalescer *Coalescer)

func WithCoalescerClock(now func() time.Time) CoalescerOption {
	return func(coalescer *Coalescer) {
		coalescer.now = now
	}
}

func NewCoalescer(cache Cache, opts ...CoalescerOption) *Coalescer {
	coalescer := &Coalescer{
		cache:   cache,
		flights: xsync.NewMapOf[string, *flight](),
	}

	for _, opt := range opts {
		opt(coalescer)
	}

	if coalescer.now == nil {
		if clock, ok := cache.(interface{ Now() time.Time }); ok {
			coalescer.now = clock.Now
		} else {
			coalescer.now = time.Now
		}
	}

	return coalescer
}

func (coalescer *Coalescer) Cache() Cache {
	return coalescer.cache
}

// GetOrCompute returns the cached entry for key, or computes, stores and
// returns it. The computation runs detached from ctx cancellation so that
// a caller going away doesn't fail the other callers waiting for the same
// key, however each caller stops waiting once its own ctx is done.
func (coalescer *Coalescer) GetOrCompute(
	ctx context.Context,
	key string,
	compute ComputeFunc,
) (*Entry, Outcome, error) {
	if entry, ok := coalescer.cache.Get(key); ok {
		Lookups.WithLabelValues(string(OutcomeHit)).Inc()

		return entry, OutcomeHit, nil
	}

	outcome := OutcomeShared

	currentFlight, loaded := coalescer.flights.LoadOrCompute(key, func() *flight {
		return &flight{
			done: make(chan struct{}),
		}
	})
	if !loaded {
		outcome = OutcomeMiss

		go coalescer.run(context.WithoutCancel(ctx), key, currentFlight, compute)
	}

	currentFlight.waiters.Add(1)
	defer currentFlight.waiters.Add(-1)

	select {
	case <-currentFlight.done:
		if currentFlight.err != nil {
			Lookups.WithLabelValues("error").Inc()

			return nil, outcome, currentFlight.err
		}

		Lookups.WithLabelValues(string(outcome)).Inc()

		return currentFlight.entry, outcome, nil
	case <-ctx.Done():
		return nil, outcome, ctx.Err()
	}
}

// InFlight reports whether a computation for key is currently running.
func (coalescer *Coalescer) InFlight(key string) bool {
	_, ok := coalescer.flights.Load(key)

	return ok
}

// Waiters returns the number of callers waiting for the computation
// of key, including the one that started it.
func (coalescer *Coalescer) Waiters(key string) int {
	currentFlight, ok := coalescer.flights.Load(key)
	if !ok {
		return 0
	}

	return int(currentFlight.waiters.Load())
}

func (coalescer *Coalescer) run(ctx context.Context, key string, currentFlight *flight, compute ComputeFunc) {
	defer func() {
		// Release the slot only after the result is stored,
		// so that late callers observe a cache hit
		coalescer.flights.Delete(key)
		close(currentFlight.done)
	}()

	// Another flight could've stored the entry between
	// our cache lookup and the flight registration
	if entry, ok := coalescer.cache.Get(key); ok {
		currentFlight.entry = entry

		return
	}

	InFlight.Inc()
	defer InFlight.Dec()

	Computations.Inc()

	value, err := safeCompute(ctx, compute)
	if err != nil {
		currentFlight.err = err

		return
	}

	entry := NewEntry(value, coalescer.now())

	coalescer.cache.Put(key, entry)

	currentFlight.entry = entry
}

func safeCompute(ctx context.Context, compute ComputeFunc) (value Value, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("computation panicked: %v", recovered)
		}
	}()

	return compute(ctx)
}
