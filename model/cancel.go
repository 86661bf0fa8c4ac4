package model

import (
	"errors"
	"sync/atomic"
)

// ErrCancelled is returned by components that observe a set CancelToken.
var ErrCancelled = errors.New("run cancelled")

// CancelToken is a shared, set-once cancellation flag. It is passed by
// pointer into every goroutine a run spawns and checked at every suspension
// point. Once set it stays set for the remainder of the run.
type CancelToken struct {
	flag atomic.Bool
}

// NewCancelToken returns a fresh, unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel sets the flag. Safe to call from any goroutine, any number of times.
func (t *CancelToken) Cancel() {
	t.flag.Store(true)
}

// Cancelled reports whether the flag has been set.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	return t.flag.Load()
}
