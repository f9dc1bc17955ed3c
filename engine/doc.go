// Package engine runs a WebAssembly build of the SDK core in wazero and
// exposes it as an opbridge.Library.
//
// # Architecture
//
//	Engine        - Owns the wazero runtime, WASI and the host module
//	WazeroLibrary - One instantiated core module, implements opbridge.Library
//
// # Guest Contract
//
// The core is a wasm32 reactor. Besides the symbols listed by
// opbridge.RequiredExports it must export:
//
//	memory                               linear memory
//	malloc(size i32) -> i32              scratch allocation
//	free(ptr i32)
//	op_uniffi_core_continuation_callback() -> i32
//
// The last one returns the function pointer of a guest trampoline that
// forwards to the host import op_uniffi_core_host.future_continuation
// (state i64, code i32). That pointer is passed to every future poll.
//
// # Calling Convention
//
// Struct arguments are passed by pointer to a copy in a scratch region
// allocated once at load time; struct results are written through a leading
// sret pointer:
//
//	rustbuffer_alloc(sret, size i32, status)
//	rustbuffer_from_bytes(sret, bytes*, status)
//	rustbuffer_reserve(sret, buf*, additional i32, status)
//	rustbuffer_free(buf*, status)
//	rust_future_poll(handle i64, callback i32, state i64)
//	rust_future_complete(sret, handle i64, status)
//	init_client(buf*) -> i64
//	invoke_sync(sret, buf*, status)
//
// A module instance is single-threaded, so every guest call takes the
// library's mutex. The continuation import only wakes the Go side and never
// re-enters the guest.
//
// # Traps
//
// A guest trap is the wasm form of a native panic. It is raised as a Go panic
// carrying an *errors.Error with KindPanic.
package engine
