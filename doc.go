// Package opbridge is a Go bridge to the natively compiled 1Password SDK core.
//
// The core exposes a small C calling convention: growable buffers allocated
// by the native side, a three-outcome call status on every synchronous call,
// and pollable futures completed by the core's own executor. This package
// defines that boundary; the subpackages implement both sides of it.
//
// # Architecture Overview
//
//	opbridge/            Root package with the ABI types and the Library interface
//	├── ffi/             Buffers, call status, futures, checksum gate, entry points
//	├── engine/          Library backed by a WebAssembly build of the core (wazero)
//	├── native/          Library backed by the shared library (cgo + dlopen)
//	├── ffitest/         In-process mock Library with leak detection
//	├── onepassword/     Vault, item and secret lookups on top of ffi
//	├── resource/        Handle table used to hand host state to native code
//	├── errors/          Structured error types for debugging
//	├── config/          YAML/env configuration
//	└── telemetry/       Logger, metrics and tracer construction
//
// # Quick Start
//
//	lib, err := native.Open(native.DefaultLibraryName())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lib.Close()
//
//	bridge := ffi.New(lib)
//	client, err := onepassword.NewClient(ctx, bridge, onepassword.DefaultClientConfig(token))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	vaults, err := client.Vaults(ctx)
//
// # Ownership
//
// A RawBuffer passed by value to a Library method is consumed by the native
// side. Buffers returned by the native side belong to the caller and must be
// released through the same Library exactly once. ffi.Buffer enforces both
// rules; raw values should not be handled outside of it.
//
// # Fatal Conditions
//
// A native panic, an undecodable error payload and a checksum or contract
// version mismatch all mean the two sides no longer agree on memory layout or
// call sequencing. They are raised as Go panics carrying an *errors.Error and
// are not meant to be recovered.
package opbridge
