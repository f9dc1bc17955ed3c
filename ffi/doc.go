// Package ffi implements the host side of the native SDK core's calling
// convention on top of an opbridge.Library.
//
// # Buffers
//
// Buffer owns one native buffer and releases it exactly once:
//
//	buf := ffi.FromString(lib, payload)
//	defer buf.Release()          // no-op once ownership moved
//	h := lib.Invoke(buf.IntoRaw())
//
// # Call Status
//
// Every synchronous native call reports success, a domain error or a panic.
// Domain errors are lifted by a Converter: ErrorConverter yields *Error,
// StringConverter yields StringError. Panics are not recoverable and are
// re-raised on the Go side as panic(*errors.Error).
//
// # Futures
//
// Async entry points return a native future. Future polls it, registering a
// Waker that the native side triggers through Continuation. The native side
// never receives a Go pointer: it gets the handle of a PollState stored in a
// package-level table.
//
//	fut := ffi.NewFuture(lib, lib.BufferFutures(), h, ffi.ErrorConverter{})
//	raw, err := fut.Await(ctx)   // closes the future on return
//
// Abandoning a future (ctx done, or Close before completion) cancels it once
// and frees it once.
//
// # Bridge
//
// Bridge wraps the four guarded entry points. It checks the contract version
// and function checksums before the first call; a mismatch is fatal.
package ffi
