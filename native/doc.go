// Package native loads the SDK core shared library with dlopen and exposes
// it as an opbridge.Library.
//
// Every required symbol is resolved up front; Open reports all unresolved
// names in a single errors.MissingSymbolsError. Calls go through small C
// trampolines that cast the resolved pointers to their C signatures:
//
//	RustBuffer     { uint32_t capacity; uint32_t len; uint8_t *data; }
//	RustCallStatus { int8_t code; RustBuffer error_buf; }
//	ForeignBytes   { int32_t len; const uint8_t *data; }
//
// Future continuations arrive on threads owned by the core's executor. They
// land in an exported Go function that looks the poll up by its 64-bit state
// value; no Go pointer is ever handed to the library.
//
// The package requires cgo and a dlopen-capable platform. Elsewhere Open
// returns an errors.KindUnsupported error.
package native
