package opbridge

// Symbol names a guarded exported function of the native core.
type Symbol string

const (
	SymInitClient    Symbol = "init_client"
	SymReleaseClient Symbol = "release_client"
	SymInvoke        Symbol = "invoke"
	SymInvokeSync    Symbol = "invoke_sync"
)

// ContractVersion is the scaffolding contract version the bindings speak.
const ContractVersion uint32 = 26

var expectedChecksums = map[Symbol]uint16{
	SymInitClient:    45066,
	SymReleaseClient: 57155,
	SymInvoke:        29143,
	SymInvokeSync:    49373,
}

// ExpectedChecksum returns the signature checksum the bindings were
// generated against.
func (s Symbol) ExpectedChecksum() uint16 {
	return expectedChecksums[s]
}

// GuardedSymbols lists the functions covered by the checksum gate, in
// validation order.
var GuardedSymbols = []Symbol{
	SymInitClient,
	SymReleaseClient,
	SymInvoke,
	SymInvokeSync,
}

// FuncName returns the exported name of the function itself.
func (s Symbol) FuncName() string {
	return "uniffi_op_uniffi_core_fn_func_" + string(s)
}

// ChecksumName returns the exported name of the function's checksum getter.
func (s Symbol) ChecksumName() string {
	return "uniffi_op_uniffi_core_checksum_func_" + string(s)
}

// Exported names of the buffer, future and introspection functions.
const (
	ExportBufferAlloc     = "ffi_op_uniffi_core_rustbuffer_alloc"
	ExportBufferFromBytes = "ffi_op_uniffi_core_rustbuffer_from_bytes"
	ExportBufferReserve   = "ffi_op_uniffi_core_rustbuffer_reserve"
	ExportBufferFree      = "ffi_op_uniffi_core_rustbuffer_free"

	ExportFuturePoll     = "ffi_op_uniffi_core_rust_future_poll_rust_buffer"
	ExportFutureCancel   = "ffi_op_uniffi_core_rust_future_cancel_rust_buffer"
	ExportFutureFree     = "ffi_op_uniffi_core_rust_future_free_rust_buffer"
	ExportFutureComplete = "ffi_op_uniffi_core_rust_future_complete_rust_buffer"

	ExportContractVersion = "ffi_op_uniffi_core_uniffi_contract_version"
)

// RequiredExports returns every symbol a backend must resolve.
func RequiredExports() []string {
	names := []string{
		ExportBufferAlloc,
		ExportBufferFromBytes,
		ExportBufferReserve,
		ExportBufferFree,
		ExportFuturePoll,
		ExportFutureCancel,
		ExportFutureFree,
		ExportFutureComplete,
		ExportContractVersion,
	}
	for _, s := range GuardedSymbols {
		names = append(names, s.FuncName(), s.ChecksumName())
	}
	return names
}
