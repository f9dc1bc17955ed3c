package ffi

import (
	"sync/atomic"

	"go.uber.org/zap"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/resource"
)

// Waker is notified when a pending future may have made progress.
type Waker interface {
	Wake()
}

// ChanWaker wakes by sending on a one-slot channel. Wakes that arrive while
// the slot is full are coalesced.
type ChanWaker chan struct{}

func NewChanWaker() ChanWaker {
	return make(ChanWaker, 1)
}

func (w ChanWaker) Wake() {
	select {
	case w <- struct{}{}:
	default:
	}
}

type wakerBox struct {
	w Waker
}

// PollState is shared between a host future and the native poller. The
// native side only ever sees its table handle.
type PollState struct {
	waker atomic.Pointer[wakerBox]
	code  atomic.Uint32
}

// Code returns the last poll code reported by the native side.
func (s *PollState) Code() opbridge.PollCode {
	return opbridge.PollCode(s.code.Load())
}

func (s *PollState) setWaker(w Waker) {
	s.waker.Store(&wakerBox{w: w})
}

// Drop forgets the waker once the state leaves the table, so a late
// continuation cannot reach the goroutine that awaited the future.
func (s *PollState) Drop() {
	s.waker.Store(nil)
}

func (s *PollState) signal(code opbridge.PollCode) {
	s.code.Store(uint32(code))
	if b := s.waker.Load(); b != nil && b.w != nil {
		b.w.Wake()
	}
}

var pollStates = resource.NewTable[*PollState]()

func registerPollState() (*PollState, resource.Handle) {
	s := &PollState{}
	s.code.Store(uint32(opbridge.PollMaybeReady))
	return s, pollStates.Insert(s)
}

// PendingFutures returns the number of futures that have not been closed.
func PendingFutures() int {
	return pollStates.Len()
}

// Continuation is the callback handed to every native poll. It may run on
// any thread, including re-entrantly inside the poll call itself.
func Continuation(state uint64, code opbridge.PollCode) {
	s, ok := pollStates.Get(resource.Handle(state))
	if !ok {
		Logger().Warn("continuation for unknown future state",
			zap.Uint64("state", state),
			zap.Uint8("code", uint8(code)))
		return
	}
	if code != opbridge.PollReady && code != opbridge.PollMaybeReady {
		Logger().Warn("unexpected poll code", zap.Uint8("code", uint8(code)))
	}
	s.signal(code)
}
