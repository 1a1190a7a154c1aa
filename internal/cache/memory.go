package cache

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	DefaultLimitBytes = 150 * 1024 * 1024
	DefaultTTL        = time.Hour
)

// Memory is a size-bounded in-memory cache with per-entry TTL.
//
// When the accounted size exceeds the limit, entries are evicted in the
// order they were inserted (oldest InsertedAt first, ties broken by key),
// regardless of how recently they were read.
//
// A single entry larger than the limit is still accepted: inserting it
// evicts every other entry, and the cache then stays above the limit until
// that entry expires, is deleted or gets evicted by a later pass.
type Memory struct {
	limitBytes uint64
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.SugaredLogger

	mtx       sync.Mutex
	entries   map[string]*Entry
	usedBytes uint64
}

type MemoryOption func(memory *Memory)

func WithClock(now func() time.Time) MemoryOption {
	return func(memory *Memory) {
		memory.now = now
	}
}

func WithLogger(logger *zap.SugaredLogger) MemoryOption {
	return func(memory *Memory) {
		memory.logger = logger
	}
}

type Stats struct {
	Entries    int
	UsedBytes  uint64
	LimitBytes uint64
	TTL        time.Duration
}

func NewMemory(limitBytes uint64, ttl time.Duration, opts ...MemoryOption) *Memory {
	memory := &Memory{
		limitBytes: limitBytes,
		ttl:        ttl,
		entries:    map[string]*Entry{},
	}

	for _, opt := range opts {
		opt(memory)
	}

	if memory.now == nil {
		memory.now = time.Now
	}

	if memory.logger == nil {
		memory.logger = zap.NewNop().Sugar()
	}

	return memory
}

func (memory *Memory) Now() time.Time {
	return memory.now()
}

func (memory *Memory) TTL() time.Duration {
	return memory.ttl
}

// Get returns the entry for key, unless it's absent or expired. Expired
// entries are removed on the way out.
func (memory *Memory) Get(key string) (*Entry, bool) {
	memory.mtx.Lock()
	defer memory.mtx.Unlock()

	entry, ok := memory.entries[key]
	if !ok {
		return nil, false
	}

	if entry.Expired(memory.now(), memory.ttl) {
		memory.removeLocked(key, "ttl")
		memory.updateGaugesLocked()

		return nil, false
	}

	return entry, true
}

// Put unconditionally inserts or replaces the entry for key and then evicts
// the oldest entries other than this one until the cache fits its limit.
func (memory *Memory) Put(key string, entry *Entry) {
	memory.mtx.Lock()
	defer memory.mtx.Unlock()

	if _, ok := memory.entries[key]; ok {
		memory.removeLocked(key, "")
	}

	memory.entries[key] = entry
	memory.usedBytes += entry.Size

	memory.evictLocked(key)

	memory.updateGaugesLocked()
}

// EvictExcess removes the oldest entries until the cache fits its limit or
// becomes empty, and returns the number of removed entries.
func (memory *Memory) EvictExcess() int {
	memory.mtx.Lock()
	defer memory.mtx.Unlock()

	evicted := memory.evictLocked("")

	memory.updateGaugesLocked()

	return evicted
}

func (memory *Memory) Delete(key string) error {
	memory.mtx.Lock()
	defer memory.mtx.Unlock()

	if _, ok := memory.entries[key]; !ok {
		return ErrNotFound
	}

	memory.removeLocked(key, "purge")

	memory.updateGaugesLocked()

	return nil
}

// PurgeExpired removes all expired entries and returns their count.
func (memory *Memory) PurgeExpired() int {
	memory.mtx.Lock()
	defer memory.mtx.Unlock()

	now := memory.now()

	expiredKeys := lo.Filter(lo.Keys(memory.entries), func(key string, _ int) bool {
		return memory.entries[key].Expired(now, memory.ttl)
	})

	for _, key := range expiredKeys {
		memory.removeLocked(key, "ttl")
	}

	memory.updateGaugesLocked()

	return len(expiredKeys)
}

func (memory *Memory) Stats() Stats {
	memory.mtx.Lock()
	defer memory.mtx.Unlock()

	return Stats{
		Entries:    len(memory.entries),
		UsedBytes:  memory.usedBytes,
		LimitBytes: memory.limitBytes,
		TTL:        memory.ttl,
	}
}

func (memory *Memory) evictLocked(protectedKey string) int {
	// Does it even make sense to evict anything?
	if memory.usedBytes <= memory.limitBytes {
		return 0
	}

	// Collect cache entries, sorted by insertion time, ascending order
	candidates := lo.Entries(memory.entries)

	slices.SortFunc(candidates, func(a, b lo.Entry[string, *Entry]) int {
		if c := a.Value.InsertedAt.Compare(b.Value.InsertedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.Key, b.Key)
	})

	var evicted int

	// Evict the oldest entries to fit the limit
	for _, candidate := range candidates {
		if memory.usedBytes <= memory.limitBytes {
			break
		}

		if candidate.Key == protectedKey {
			continue
		}

		memory.removeLocked(candidate.Key, "size")
		evicted++
	}

	if memory.usedBytes > memory.limitBytes {
		memory.logger.Warnf("cache holds %d bytes which is above the limit of %d bytes",
			memory.usedBytes, memory.limitBytes)
	}

	return evicted
}

func (memory *Memory) removeLocked(key string, reason string) {
	entry := memory.entries[key]

	if entry.Size > memory.usedBytes {
		panic(fmt.Sprintf("cache size accounting underflow: removing %d bytes for key %q "+
			"while only %d bytes are accounted", entry.Size, key, memory.usedBytes))
	}

	delete(memory.entries, key)
	memory.usedBytes -= entry.Size

	if reason != "" {
		Evictions.WithLabelValues(reason).Inc()

		memory.logger.Debugf("removed cache entry %q (%d bytes, reason: %s)", key, entry.Size, reason)
	}
}

func (memory *Memory) updateGaugesLocked() {
	SizeBytes.Set(float64(memory.usedBytes))
	Entries.Set(float64(len(memory.entries)))
}
