// Package ffitest provides an in-process implementation of opbridge.Library
// for tests.
//
// The mock allocates buffers from Go memory, runs futures on goroutines and
// records every misuse it can detect: double frees, frees of unknown or
// interior pointers, capacity mismatches, operations on freed futures and
// completion of futures that were canceled or not ready.
//
//	lib := ffitest.New()
//	lib.Handler = func(payload []byte) ffitest.Response {
//	    return ffitest.ReplyJSON(vaults)
//	}
//	defer lib.AssertClean(t)
//
// Hold and Resolve give a test control over when a future completes.
// InjectStatus makes a single call report an error or panic status.
package ffitest
