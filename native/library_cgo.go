//go:build cgo && !windows

package native

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

typedef struct {
	uint32_t capacity;
	uint32_t len;
	uint8_t *data;
} RustBuffer;

typedef struct {
	int8_t code;
	RustBuffer error_buf;
} RustCallStatus;

typedef struct {
	int32_t len;
	const uint8_t *data;
} ForeignBytes;

typedef void (*ContinuationFn)(uint64_t, int8_t);

extern void opbridgeContinuation(uint64_t state, int8_t code);

static void* op_dlopen(const char* path) {
	return dlopen(path, RTLD_NOW | RTLD_LOCAL);
}

static const char* op_dlerror(void) {
	return dlerror();
}

// Clear dlerror, call dlsym, and return NULL when the symbol is absent.
static void* op_dlsym(void* h, const char* name) {
	dlerror();
	void* p = dlsym(h, name);
	if (dlerror() != NULL) {
		return NULL;
	}
	return p;
}

static int op_dlclose(void* h) {
	return dlclose(h);
}

static RustBuffer op_buffer_alloc(void* fn, uint32_t size, RustCallStatus* st) {
	typedef RustBuffer (*func_t)(uint32_t, RustCallStatus*);
	return ((func_t)fn)(size, st);
}

static RustBuffer op_buffer_from_bytes(void* fn, int32_t len, const uint8_t* data, RustCallStatus* st) {
	typedef RustBuffer (*func_t)(ForeignBytes, RustCallStatus*);
	ForeignBytes fb = { len, data };
	return ((func_t)fn)(fb, st);
}

static RustBuffer op_buffer_reserve(void* fn, RustBuffer buf, uint32_t additional, RustCallStatus* st) {
	typedef RustBuffer (*func_t)(RustBuffer, uint32_t, RustCallStatus*);
	return ((func_t)fn)(buf, additional, st);
}

static void op_buffer_free(void* fn, RustBuffer buf, RustCallStatus* st) {
	typedef void (*func_t)(RustBuffer, RustCallStatus*);
	((func_t)fn)(buf, st);
}

static uint32_t op_call_u32(void* fn) {
	typedef uint32_t (*func_t)(void);
	return ((func_t)fn)();
}

static uint16_t op_call_u16(void* fn) {
	typedef uint16_t (*func_t)(void);
	return ((func_t)fn)();
}

static uint64_t op_start_future(void* fn, RustBuffer buf) {
	typedef uint64_t (*func_t)(RustBuffer);
	return ((func_t)fn)(buf);
}

static void op_call_status(void* fn, RustBuffer buf, RustCallStatus* st) {
	typedef void (*func_t)(RustBuffer, RustCallStatus*);
	((func_t)fn)(buf, st);
}

static RustBuffer op_call_buffer(void* fn, RustBuffer buf, RustCallStatus* st) {
	typedef RustBuffer (*func_t)(RustBuffer, RustCallStatus*);
	return ((func_t)fn)(buf, st);
}

static void op_future_poll(void* fn, uint64_t handle, uint64_t state) {
	typedef void (*func_t)(uint64_t, ContinuationFn, uint64_t);
	((func_t)fn)(handle, opbridgeContinuation, state);
}

static void op_future_handle(void* fn, uint64_t handle) {
	typedef void (*func_t)(uint64_t);
	((func_t)fn)(handle);
}

static RustBuffer op_future_complete(void* fn, uint64_t handle, RustCallStatus* st) {
	typedef RustBuffer (*func_t)(uint64_t, RustCallStatus*);
	return ((func_t)fn)(handle, st);
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
)

// Library is an opbridge.Library backed by the dlopen'ed core.
type Library struct {
	handle unsafe.Pointer
	path   string
	syms   map[string]unsafe.Pointer

	// guards closed; calls hold it shared so Close waits for them
	mu     sync.RWMutex
	closed bool

	pollMu sync.Mutex
	polls  map[opbridge.FutureHandle]uint64
}

var _ opbridge.Library = (*Library)(nil)

// Open loads the core from path and resolves every required symbol.
func Open(path string) (*Library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	h := C.op_dlopen(cpath)
	if h == nil {
		return nil, errors.Load("dlopen "+path, dlerr())
	}

	names := opbridge.RequiredExports()
	syms := make(map[string]unsafe.Pointer, len(names))
	var missing []string
	for _, name := range names {
		cname := C.CString(name)
		p := C.op_dlsym(h, cname)
		C.free(unsafe.Pointer(cname))
		if p == nil {
			missing = append(missing, name)
			continue
		}
		syms[name] = p
	}
	if len(missing) > 0 {
		C.op_dlclose(h)
		return nil, errors.NewMissingSymbolsError(path, missing)
	}

	Logger().Debug("core library loaded", zap.String("path", path), zap.Int("symbols", len(syms)))
	return &Library{
		handle: h,
		path:   path,
		syms:   syms,
		polls:  make(map[opbridge.FutureHandle]uint64),
	}, nil
}

type dlError string

func (e dlError) Error() string { return string(e) }

func dlerr() error {
	if msg := C.op_dlerror(); msg != nil {
		return dlError(C.GoString(msg))
	}
	return dlError("unknown dlerror")
}

// Path returns the file the library was loaded from.
func (l *Library) Path() string {
	return l.path
}

// Close unloads the library. Buffers and futures obtained from it must not
// be used afterwards.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	l.pollMu.Lock()
	for h, state := range l.polls {
		continuations.Delete(state)
		delete(l.polls, h)
	}
	l.pollMu.Unlock()

	if C.op_dlclose(l.handle) != 0 {
		return errors.Load("dlclose "+l.path, dlerr())
	}
	return nil
}

// sym returns the resolved symbol. The caller holds l.mu shared.
func (l *Library) sym(name string) unsafe.Pointer {
	if l.closed {
		panic(errors.Closed(errors.PhaseCall, "native library"))
	}
	return l.syms[name]
}

func toC(b opbridge.RawBuffer) C.RustBuffer {
	return C.RustBuffer{
		capacity: C.uint32_t(b.Capacity),
		len:      C.uint32_t(b.Len),
		data:     (*C.uint8_t)(unsafe.Pointer(uintptr(b.Data))),
	}
}

func fromC(b C.RustBuffer) opbridge.RawBuffer {
	return opbridge.RawBuffer{
		Capacity: uint32(b.capacity),
		Len:      uint32(b.len),
		Data:     opbridge.Pointer(uintptr(unsafe.Pointer(b.data))),
	}
}

func fromCStatus(st *C.RustCallStatus, out *opbridge.CallStatus) {
	out.Code = opbridge.StatusCode(st.code)
	out.ErrorBuf = fromC(st.error_buf)
}

func (l *Library) BufferAlloc(size uint32, status *opbridge.CallStatus) opbridge.RawBuffer {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var st C.RustCallStatus
	out := C.op_buffer_alloc(l.sym(opbridge.ExportBufferAlloc), C.uint32_t(size), &st)
	fromCStatus(&st, status)
	return fromC(out)
}

func (l *Library) BufferFromBytes(data []byte, status *opbridge.CallStatus) opbridge.RawBuffer {
	if uint64(len(data)) > uint64(^uint32(0)>>1) {
		panic(errors.Overflow(errors.PhaseAlloc, len(data), "i32 foreign bytes length"))
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var ptr *C.uint8_t
	if len(data) > 0 {
		ptr = (*C.uint8_t)(unsafe.Pointer(&data[0]))
	}
	var st C.RustCallStatus
	out := C.op_buffer_from_bytes(l.sym(opbridge.ExportBufferFromBytes), C.int32_t(len(data)), ptr, &st)
	fromCStatus(&st, status)
	return fromC(out)
}

func (l *Library) BufferReserve(buf opbridge.RawBuffer, additional uint32, status *opbridge.CallStatus) opbridge.RawBuffer {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var st C.RustCallStatus
	out := C.op_buffer_reserve(l.sym(opbridge.ExportBufferReserve), toC(buf), C.uint32_t(additional), &st)
	fromCStatus(&st, status)
	return fromC(out)
}

func (l *Library) BufferFree(buf opbridge.RawBuffer, status *opbridge.CallStatus) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var st C.RustCallStatus
	C.op_buffer_free(l.sym(opbridge.ExportBufferFree), toC(buf), &st)
	fromCStatus(&st, status)
}

// ReadMemory copies native memory. ptr must come from a buffer the library
// handed out.
func (l *Library) ReadMemory(ptr opbridge.Pointer, length uint32) []byte {
	if ptr == 0 {
		return nil
	}
	return append(make([]byte, 0, length), unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)...)
}

// WriteMemory copies data into native memory. The process heap never
// moves, so no lock is needed.
func (l *Library) WriteMemory(ptr opbridge.Pointer, data []byte) bool {
	if ptr == 0 {
		return false
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), len(data)), data)
	return true
}

func (l *Library) ContractVersion() uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint32(C.op_call_u32(l.sym(opbridge.ExportContractVersion)))
}

func (l *Library) Checksum(sym opbridge.Symbol) uint16 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint16(C.op_call_u16(l.sym(sym.ChecksumName())))
}

func (l *Library) InitClient(config opbridge.RawBuffer) opbridge.FutureHandle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return opbridge.FutureHandle(C.op_start_future(l.sym(opbridge.SymInitClient.FuncName()), toC(config)))
}

func (l *Library) ReleaseClient(id opbridge.RawBuffer, status *opbridge.CallStatus) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var st C.RustCallStatus
	C.op_call_status(l.sym(opbridge.SymReleaseClient.FuncName()), toC(id), &st)
	fromCStatus(&st, status)
}

func (l *Library) Invoke(payload opbridge.RawBuffer) opbridge.FutureHandle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return opbridge.FutureHandle(C.op_start_future(l.sym(opbridge.SymInvoke.FuncName()), toC(payload)))
}

func (l *Library) InvokeSync(payload opbridge.RawBuffer, status *opbridge.CallStatus) opbridge.RawBuffer {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var st C.RustCallStatus
	out := C.op_call_buffer(l.sym(opbridge.SymInvokeSync.FuncName()), toC(payload), &st)
	fromCStatus(&st, status)
	return fromC(out)
}

func (l *Library) BufferFutures() opbridge.FutureOps[opbridge.RawBuffer] {
	return bufferFutures{l}
}

type bufferFutures struct {
	l *Library
}

func (f bufferFutures) Poll(h opbridge.FutureHandle, cb opbridge.Continuation, state uint64) {
	l := f.l
	l.mu.RLock()
	defer l.mu.RUnlock()

	l.pollMu.Lock()
	if prev, ok := l.polls[h]; ok && prev != state {
		continuations.Delete(prev)
	}
	l.polls[h] = state
	l.pollMu.Unlock()

	continuations.Store(state, cb)
	C.op_future_poll(l.sym(opbridge.ExportFuturePoll), C.uint64_t(h), C.uint64_t(state))
}

func (f bufferFutures) Cancel(h opbridge.FutureHandle) {
	l := f.l
	l.mu.RLock()
	defer l.mu.RUnlock()
	C.op_future_handle(l.sym(opbridge.ExportFutureCancel), C.uint64_t(h))
}

func (f bufferFutures) Free(h opbridge.FutureHandle) {
	l := f.l
	l.mu.RLock()
	defer l.mu.RUnlock()

	l.pollMu.Lock()
	if state, ok := l.polls[h]; ok {
		continuations.Delete(state)
		delete(l.polls, h)
	}
	l.pollMu.Unlock()

	C.op_future_handle(l.sym(opbridge.ExportFutureFree), C.uint64_t(h))
}

func (f bufferFutures) Complete(h opbridge.FutureHandle, status *opbridge.CallStatus) opbridge.RawBuffer {
	l := f.l
	l.mu.RLock()
	defer l.mu.RUnlock()

	var st C.RustCallStatus
	out := C.op_future_complete(l.sym(opbridge.ExportFutureComplete), C.uint64_t(h), &st)
	fromCStatus(&st, status)
	return fromC(out)
}
