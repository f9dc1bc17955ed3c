// Package errors provides structured error types for the bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the native symbol involved, the offending value and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAlloc, errors.KindOverflow).
//		Symbol(opbridge.ExportBufferReserve).
//		Value(n).
//		Detail("reserve %d bytes", n).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ChecksumMismatch("invoke", 29143, got)
//	err := errors.Panic(errors.PhaseCall, msg)
//
// Fatal conditions are raised as panic(*Error). Everything else is returned.
// All errors implement the standard error interface and support errors.Is/As.
package errors
