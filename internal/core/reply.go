package core

import (
	"context"
	"sync"
)

type replyOutcome[T any] struct {
	val T
	err error
}

// Reply is a single-use continuation handed to intent handlers. It must be
// settled exactly once with Resolve or Reject; the second settlement is
// refused and reported to the caller, which makes the call-twice protocol
// violation visible instead of silent.
type Reply[T any] struct {
	mu      sync.Mutex
	settled bool
	ch      chan replyOutcome[T]
}

func NewReply[T any]() *Reply[T] {
	return &Reply[T]{ch: make(chan replyOutcome[T], 1)}
}

// Resolve settles the reply with a value. Returns false if already settled.
func (r *Reply[T]) Resolve(v T) bool {
	return r.settle(replyOutcome[T]{val: v})
}

// Reject settles the reply with an error. Returns false if already settled.
func (r *Reply[T]) Reject(err error) bool {
	return r.settle(replyOutcome[T]{err: err})
}

func (r *Reply[T]) settle(out replyOutcome[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return false
	}
	r.settled = true
	r.ch <- out
	return true
}

// Wait blocks until the reply is settled or ctx is done.
func (r *Reply[T]) Wait(ctx context.Context) (T, error) {
	select {
	case out := <-r.ch:
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
