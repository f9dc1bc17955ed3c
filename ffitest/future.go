package ffitest

import (
	"sync"
	"time"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/resource"
)

// FutureStats counts the calls made on one future.
type FutureStats struct {
	Entry     string
	Polls     int
	Cancels   int
	Frees     int
	Completes int
	Done      bool
}

type future struct {
	run      func() Response
	cb       opbridge.Continuation
	result   Response
	stats    FutureStats
	mu       sync.Mutex
	cbState  uint64
	started  bool
	waiting  bool
	canceled bool
}

func (f *future) entry() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats.Entry
}

func (l *Library) spawn(entry string, run func() Response) opbridge.FutureHandle {
	f := &future{run: run, stats: FutureStats{Entry: entry}}
	fh := opbridge.FutureHandle(l.futures.Insert(f))
	l.mu.Lock()
	l.history[fh] = f
	hold, delay := l.hold, l.delay
	l.mu.Unlock()

	if !hold {
		l.start(f, delay)
	}
	return fh
}

// start runs the future on its own goroutine, the mock's executor.
func (l *Library) start(f *future, delay time.Duration) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		resp := f.run()

		f.mu.Lock()
		f.result = resp
		f.stats.Done = true
		cb, state, waiting := f.cb, f.cbState, f.waiting
		f.waiting = false
		f.mu.Unlock()

		if waiting {
			cb(state, opbridge.PollReady)
		}
	}()
}

// Resolve starts a held future.
func (l *Library) Resolve(h opbridge.FutureHandle) {
	l.mu.Lock()
	f, ok := l.history[h]
	l.mu.Unlock()
	if ok {
		l.start(f, 0)
	}
}

// FutureStats returns the call counters of h. It keeps working after the
// future has been freed.
func (l *Library) FutureStats(h opbridge.FutureHandle) FutureStats {
	l.mu.Lock()
	f, ok := l.history[h]
	l.mu.Unlock()
	if !ok {
		return FutureStats{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Futures returns the handles of every future created so far.
func (l *Library) Futures() []opbridge.FutureHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]opbridge.FutureHandle, 0, len(l.history))
	for h := range l.history {
		out = append(out, h)
	}
	return out
}

type bufferFutures struct {
	l *Library
}

func (b bufferFutures) live(op string, h opbridge.FutureHandle) (*future, bool) {
	if f, ok := b.l.futures.Get(resource.Handle(h)); ok {
		return f, true
	}
	b.l.mu.Lock()
	defer b.l.mu.Unlock()
	if f, ok := b.l.history[h]; ok {
		f.mu.Lock()
		switch op {
		case "free":
			f.stats.Frees++
		case "poll":
			f.stats.Polls++
		case "cancel":
			f.stats.Cancels++
		case "complete":
			f.stats.Completes++
		}
		f.mu.Unlock()
		b.l.violate("%s on freed future %d", op, h)
	} else {
		b.l.violate("%s on unknown future %d", op, h)
	}
	return nil, false
}

// Poll wakes immediately when the result is ready or the future was
// canceled, otherwise it registers the continuation for the executor.
func (b bufferFutures) Poll(h opbridge.FutureHandle, cb opbridge.Continuation, state uint64) {
	f, ok := b.live("poll", h)
	if !ok {
		return
	}

	f.mu.Lock()
	f.stats.Polls++
	if f.stats.Done || f.canceled {
		f.mu.Unlock()
		cb(state, opbridge.PollReady)
		return
	}
	f.cb, f.cbState, f.waiting = cb, state, true
	f.mu.Unlock()
}

func (b bufferFutures) Cancel(h opbridge.FutureHandle) {
	f, ok := b.live("cancel", h)
	if !ok {
		return
	}

	f.mu.Lock()
	f.stats.Cancels++
	f.canceled = true
	cb, state, waiting := f.cb, f.cbState, f.waiting
	f.waiting = false
	f.mu.Unlock()

	if waiting {
		cb(state, opbridge.PollReady)
	}
}

func (b bufferFutures) Free(h opbridge.FutureHandle) {
	f, ok := b.live("free", h)
	if !ok {
		return
	}

	f.mu.Lock()
	f.stats.Frees++
	f.mu.Unlock()
	b.l.futures.Remove(resource.Handle(h))
}

func (b bufferFutures) Complete(h opbridge.FutureHandle, status *opbridge.CallStatus) opbridge.RawBuffer {
	f, ok := b.live("complete", h)
	if !ok {
		status.Code = opbridge.StatusPanic
		return opbridge.RawBuffer{}
	}

	f.mu.Lock()
	f.stats.Completes++
	done, canceled, completes, resp := f.stats.Done, f.canceled, f.stats.Completes, f.result
	f.mu.Unlock()

	b.l.mu.Lock()
	defer b.l.mu.Unlock()
	switch {
	case canceled:
		b.l.violate("complete on canceled future %d", h)
		status.Code = opbridge.StatusPanic
		return opbridge.RawBuffer{}
	case !done:
		b.l.violate("complete before ready on future %d", h)
		status.Code = opbridge.StatusPanic
		return opbridge.RawBuffer{}
	case completes > 1:
		b.l.violate("future %d completed %d times", h, completes)
	}
	return b.l.applyLocked(resp, status)
}
