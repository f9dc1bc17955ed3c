package ffi

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
	"github.com/wippyai/op-bridge/ffitest"
)

func startInvoke(lib *ffitest.Library, payload string) (*Future[opbridge.RawBuffer], opbridge.FutureHandle) {
	in := FromString(lib, payload)
	h := lib.Invoke(in.IntoRaw())
	return NewFuture(lib, lib.BufferFutures(), h, ErrorConverter{}), h
}

func TestFuture_DelayedCompletion(t *testing.T) {
	lib := ffitest.New()
	lib.SetDelay(20 * time.Millisecond)
	lib.Handler = func(p []byte) ffitest.Response {
		return ffitest.Reply([]byte("done:" + string(p)))
	}

	before := PendingFutures()
	fut, h := startInvoke(lib, "job")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := fut.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	out := Adopt(lib, raw)
	if out.String() != "done:job" {
		t.Fatalf("result = %q", out.String())
	}
	out.Release()

	st := lib.FutureStats(h)
	if st.Completes != 1 || st.Frees != 1 || st.Cancels != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if st.Polls < 1 {
		t.Fatal("future was never polled")
	}
	if PendingFutures() != before {
		t.Fatalf("PendingFutures() = %d, want %d", PendingFutures(), before)
	}
	lib.AssertClean(t)
}

func TestFuture_CloseDropsWaker(t *testing.T) {
	lib := ffitest.New()
	lib.Hold()
	lib.Handler = func([]byte) ffitest.Response { return ffitest.Reply(nil) }

	fut, h := startInvoke(lib, "x")
	if _, ready, _ := fut.Poll(NewChanWaker()); ready {
		t.Fatal("held future reported ready")
	}
	state := fut.state
	if state.waker.Load() == nil {
		t.Fatal("Poll did not register the waker")
	}

	fut.Close()
	if state.waker.Load() != nil {
		t.Fatal("waker still reachable after Close")
	}
	// a late continuation for the old state is ignored
	Continuation(uint64(fut.stateID), opbridge.PollReady)

	if st := lib.FutureStats(h); st.Cancels != 1 || st.Frees != 1 {
		t.Fatalf("stats = %+v", st)
	}
	lib.AssertClean(t)
}

func pollUntilReady(t *testing.T, fut *Future[opbridge.RawBuffer]) (opbridge.RawBuffer, error) {
	t.Helper()
	w := NewChanWaker()
	deadline := time.After(5 * time.Second)
	for {
		v, ready, err := fut.Poll(w)
		if ready {
			return v, err
		}
		select {
		case <-w:
		case <-deadline:
			t.Fatal("future never became ready")
		}
	}
}

func TestFuture_PollFinishedPanics(t *testing.T) {
	lib := ffitest.New()
	lib.Handler = func([]byte) ffitest.Response { return ffitest.Reply([]byte("ok")) }

	fut, _ := startInvoke(lib, "x")
	raw, err := pollUntilReady(t, fut)
	if err != nil {
		t.Fatal(err)
	}
	Adopt(lib, raw).Release()

	if !fut.Finished() {
		t.Fatal("Finished() = false after collection")
	}

	expectPanic(t, errors.KindProtocol, "polling finished future", func() {
		fut.Poll(NewChanWaker())
	})

	fut.Close()
	lib.AssertClean(t)
}

func TestFuture_AbandonCancelsOnceAndFreesOnce(t *testing.T) {
	lib := ffitest.New()
	lib.Hold()
	lib.Handler = func([]byte) ffitest.Response { return ffitest.Reply([]byte("late")) }

	before := PendingFutures()
	fut, h := startInvoke(lib, "slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := fut.Await(ctx)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	fut.Close()

	st := lib.FutureStats(h)
	if st.Cancels != 1 {
		t.Fatalf("Cancels = %d, want 1", st.Cancels)
	}
	if st.Frees != 1 {
		t.Fatalf("Frees = %d, want 1", st.Frees)
	}
	if st.Completes != 0 {
		t.Fatalf("Completes = %d, want 0", st.Completes)
	}
	if PendingFutures() != before {
		t.Fatal("poll state leaked")
	}
	lib.AssertClean(t)
}

func TestFuture_CloseBeforePoll(t *testing.T) {
	lib := ffitest.New()
	lib.Hold()

	fut, h := startInvoke(lib, "never")
	fut.Close()
	fut.Close()

	st := lib.FutureStats(h)
	if st.Polls != 0 || st.Cancels != 1 || st.Frees != 1 {
		t.Fatalf("stats = %+v", st)
	}
	lib.AssertClean(t)
}

type countingWaker struct {
	mu    sync.Mutex
	count int
	ch    chan struct{}
}

func newCountingWaker() *countingWaker {
	return &countingWaker{ch: make(chan struct{}, 8)}
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.count++
	w.mu.Unlock()
	w.ch <- struct{}{}
}

func (w *countingWaker) wakes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func TestFuture_WakerReplacedBetweenPolls(t *testing.T) {
	lib := ffitest.New()
	lib.Hold()
	lib.Handler = func([]byte) ffitest.Response { return ffitest.Reply([]byte("v")) }

	fut, h := startInvoke(lib, "x")
	defer fut.Close()

	first, second := newCountingWaker(), newCountingWaker()
	if _, ready, _ := fut.Poll(first); ready {
		t.Fatal("held future reported ready")
	}
	if _, ready, _ := fut.Poll(second); ready {
		t.Fatal("held future reported ready")
	}

	lib.Resolve(h)

	select {
	case <-second.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("latest waker never woken")
	}
	if first.wakes() != 0 {
		t.Fatalf("stale waker woken %d times", first.wakes())
	}

	raw, ready, err := fut.Poll(second)
	if !ready || err != nil {
		t.Fatalf("Poll after wake = ready %v, err %v", ready, err)
	}
	Adopt(lib, raw).Release()
}

func TestFuture_TypedError(t *testing.T) {
	lib := ffitest.New()
	lib.Handler = func([]byte) ffitest.Response { return ffitest.Fail(133, "not found") }

	fut, _ := startInvoke(lib, "x")
	_, err := fut.Await(context.Background())

	if !stderrors.Is(err, &Error{Code: 133}) {
		t.Fatalf("err = %v, want code 133", err)
	}
	lib.AssertClean(t)
}

func TestFuture_NativePanicDuringComplete(t *testing.T) {
	lib := ffitest.New()
	lib.Handler = func([]byte) ffitest.Response { return ffitest.Crash("executor died") }

	fut, h := startInvoke(lib, "x")
	expectPanic(t, errors.KindPanic, "executor died", func() {
		fut.Await(context.Background())
	})

	if st := lib.FutureStats(h); st.Frees != 1 || st.Cancels != 0 {
		t.Fatalf("stats = %+v", st)
	}
	lib.AssertClean(t)
}

func TestContinuation_UnknownStateIgnored(t *testing.T) {
	Continuation(uint64(1)<<40|12345, opbridge.PollReady)
}

func TestFuture_Concurrent(t *testing.T) {
	lib := ffitest.New()
	lib.SetDelay(time.Millisecond)
	lib.Handler = func(p []byte) ffitest.Response { return ffitest.Reply(p) }

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("req-%d", i)
			fut, _ := startInvoke(lib, want)
			raw, err := fut.Await(context.Background())
			if err != nil {
				errs <- err
				return
			}
			out := Adopt(lib, raw)
			defer out.Release()
			if out.String() != want {
				errs <- fmt.Errorf("got %q, want %q", out.String(), want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	lib.AssertClean(t)
}
