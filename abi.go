package opbridge

// Pointer is an opaque native address. Zero is the null pointer.
//
// Its meaning depends on the backend: a C pointer for a shared library, a
// linear memory offset for a WebAssembly build, an allocation id for mocks.
type Pointer uint64

// RawBuffer is the C-level growable buffer owned by the native allocator.
// Data == 0 implies Len == Capacity == 0 (the empty sentinel).
type RawBuffer struct {
	Capacity uint32
	Len      uint32
	Data     Pointer
}

// IsEmpty reports whether b is the empty sentinel.
func (b RawBuffer) IsEmpty() bool {
	return b.Data == 0
}

// StatusCode is the outcome of a native call.
type StatusCode int8

const (
	StatusSuccess StatusCode = 0
	StatusError   StatusCode = 1
	StatusPanic   StatusCode = 2
)

func (c StatusCode) String() string {
	switch c {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// CallStatus is the out-parameter of every synchronous native call.
// ErrorBuf is only meaningful when Code != StatusSuccess.
type CallStatus struct {
	ErrorBuf RawBuffer
	Code     StatusCode
}

// PollCode is reported by the native side through a Continuation.
type PollCode uint8

const (
	PollReady      PollCode = 0
	PollMaybeReady PollCode = 1
)

// FutureHandle is an opaque pointer to a pending native future.
type FutureHandle uint64

// Continuation is invoked by the native side, possibly from a thread the
// host does not control, once per poll registration.
type Continuation func(state uint64, code PollCode)

// FutureOps is the per-return-kind function table of a native future.
type FutureOps[T any] interface {
	Poll(h FutureHandle, cb Continuation, state uint64)
	Cancel(h FutureHandle)
	Free(h FutureHandle)
	Complete(h FutureHandle, status *CallStatus) T
}

// Library is the exported surface of the native SDK core.
//
// Methods taking a RawBuffer by value consume it: the native side becomes
// responsible for releasing it.
type Library interface {
	BufferAlloc(size uint32, status *CallStatus) RawBuffer
	BufferFromBytes(data []byte, status *CallStatus) RawBuffer
	BufferReserve(buf RawBuffer, additional uint32, status *CallStatus) RawBuffer
	BufferFree(buf RawBuffer, status *CallStatus)

	// ReadMemory copies length bytes of native memory starting at ptr. It
	// returns nil when the range is not addressable.
	ReadMemory(ptr Pointer, length uint32) []byte
	// WriteMemory copies data into native memory at ptr and reports whether
	// the whole range was addressable. Native memory may move while other
	// calls run, so the copy happens under the library's own lock.
	WriteMemory(ptr Pointer, data []byte) bool

	ContractVersion() uint32
	Checksum(sym Symbol) uint16

	InitClient(config RawBuffer) FutureHandle
	ReleaseClient(id RawBuffer, status *CallStatus)
	Invoke(payload RawBuffer) FutureHandle
	InvokeSync(payload RawBuffer, status *CallStatus) RawBuffer

	BufferFutures() FutureOps[RawBuffer]
}
