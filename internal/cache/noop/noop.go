package noop

import (
	cachepkg "github.com/cirruslabs/resizer/internal/cache"
)

// NoOp is a cache that never retains anything.
type NoOp struct{}

func New() *NoOp {
	return &NoOp{}
}

func (noop *NoOp) Get(_ string) (*cachepkg.Entry, bool) {
	return nil, false
}

func (noop *NoOp) Put(_ string, _ *cachepkg.Entry) {
	// do nothing
}

func (noop *NoOp) Delete(_ string) error {
	return cachepkg.ErrNotFound
}
