package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

var ErrNotFound = errors.New("cache entry not found")

type Cache interface {
	Get(key string) (*Entry, bool)
	Put(key string, entry *Entry)
	Delete(key string) error
}

// Value is the outcome of a computation, before it becomes a cache entry.
type Value struct {
	Payload        []byte
	ContentType    string
	OriginalWidth  int
	OriginalHeight int
}

// Entry is immutable once constructed with NewEntry. Replacing a cached
// value means putting a new Entry under the same key.
type Entry struct {
	Payload        []byte
	ContentType    string
	OriginalWidth  int
	OriginalHeight int

	Size       uint64
	InsertedAt time.Time
	ETag       string
}

func NewEntry(value Value, insertedAt time.Time) *Entry {
	return &Entry{
		Payload:        value.Payload,
		ContentType:    value.ContentType,
		OriginalWidth:  value.OriginalWidth,
		OriginalHeight: value.OriginalHeight,
		Size:           uint64(len(value.Payload)),
		InsertedAt:     insertedAt,
		ETag:           fmt.Sprintf("\"%016x\"", xxhash.Sum64(value.Payload)),
	}
}

// Expired reports whether the entry is older than ttl. A non-positive ttl
// never expires anything.
func (entry *Entry) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}

	return now.Sub(entry.InsertedAt) > ttl
}
