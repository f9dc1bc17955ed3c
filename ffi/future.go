package ffi

import (
	"context"
	"sync"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
	"github.com/wippyai/op-bridge/resource"
)

// Future drives one native future to completion.
//
// States: pending, then ready once the native side reports PollReady, then
// collected once Poll has returned the result. Close cancels a future that
// was never collected and frees it in every case.
type Future[T any] struct {
	lib      opbridge.Library
	ops      opbridge.FutureOps[T]
	conv     Converter
	state    *PollState
	mu       sync.Mutex
	h        opbridge.FutureHandle
	stateID  resource.Handle
	finished bool
	closed   bool
}

// NewFuture takes ownership of the native future h.
func NewFuture[T any](lib opbridge.Library, ops opbridge.FutureOps[T], h opbridge.FutureHandle, conv Converter) *Future[T] {
	state, id := registerPollState()
	return &Future[T]{
		lib:     lib,
		ops:     ops,
		conv:    conv,
		state:   state,
		h:       h,
		stateID: id,
	}
}

// Poll checks for completion. When the native side has reported ready it
// collects the result, otherwise it registers w to be woken and returns
// ready == false. Polling a collected future panics.
func (f *Future[T]) Poll(w Waker) (value T, ready bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.finished {
		panic(errors.Protocol(errors.PhaseFuture, "polling finished future"))
	}
	if f.closed {
		panic(errors.Closed(errors.PhaseFuture, "future"))
	}

	f.state.setWaker(w)

	if f.state.Code() == opbridge.PollReady {
		f.finished = true
		value, err = rustCall(f.lib, f.conv, func(s *opbridge.CallStatus) T {
			return f.ops.Complete(f.h, s)
		})
		return value, true, err
	}

	f.ops.Poll(f.h, Continuation, uint64(f.stateID))
	return value, false, nil
}

// Await polls until the future completes or ctx is done. The future is
// closed on return either way.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	defer f.Close()

	w := NewChanWaker()
	for {
		value, ready, err := f.Poll(w)
		if ready {
			return value, err
		}

		select {
		case <-w:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Finished reports whether the result has been collected.
func (f *Future[T]) Finished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

// Close releases the native future. It is idempotent.
func (f *Future[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true

	if !f.finished {
		f.ops.Cancel(f.h)
	}
	f.ops.Free(f.h)
	pollStates.Remove(f.stateID)
}
