package cache_test

import (
	"sync"
	"time"
)

type fakeClock struct {
	mtx sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now: time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (clock *fakeClock) Now() time.Time {
	clock.mtx.Lock()
	defer clock.mtx.Unlock()

	return clock.now
}

func (clock *fakeClock) Advance(d time.Duration) {
	clock.mtx.Lock()
	defer clock.mtx.Unlock()

	clock.now = clock.now.Add(d)
}
