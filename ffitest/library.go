package ffitest

import (
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/resource"
)

// Pointers encode the allocation id in the high 32 bits and the byte offset
// in the low 32 bits, so Data+n addresses byte n of the allocation.
const ptrShift = 32

// Stats counts buffer operations.
type Stats struct {
	Allocs     int
	FromBytes  int
	Reserves   int
	Frees      int
	EmptyFrees int
}

type injected struct {
	message string
	code    opbridge.StatusCode
}

// Library is an in-process opbridge.Library. It tracks every allocation
// and future so tests can assert on leaks, double frees and call order.
//
// The zero value is not usable; create one with New.
type Library struct {
	// Handler answers Invoke and InvokeSync. Defaults to a panic response.
	Handler func(payload []byte) Response
	// ClientHandler answers InitClient. Defaults to sequential ids.
	ClientHandler func(config []byte) Response

	allocs     map[uint32][]byte
	freed      map[uint32]bool
	checksums  map[opbridge.Symbol]uint16
	inject     map[string]injected
	futures    *resource.Table[*future]
	history    map[opbridge.FutureHandle]*future
	violations []string
	released   []string
	stats      Stats
	delay      time.Duration
	mu         sync.Mutex
	nextID     uint32
	nextClient uint64
	version    uint32
	hold       bool
}

// New creates a mock core that passes contract validation.
func New() *Library {
	return &Library{
		allocs:    make(map[uint32][]byte),
		freed:     make(map[uint32]bool),
		checksums: make(map[opbridge.Symbol]uint16),
		inject:    make(map[string]injected),
		futures:   resource.NewTable[*future](),
		history:   make(map[opbridge.FutureHandle]*future),
		version:   opbridge.ContractVersion,
	}
}

// SetContractVersion overrides the reported contract version.
func (l *Library) SetContractVersion(v uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.version = v
}

// SetChecksum overrides the checksum reported for sym.
func (l *Library) SetChecksum(sym opbridge.Symbol, v uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checksums[sym] = v
}

// SetDelay makes the executor wait d before completing each future.
func (l *Library) SetDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
}

// Hold keeps new futures pending until Resolve is called for them.
func (l *Library) Hold() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hold = true
}

// InjectStatus makes the next call of the named export report code with
// msg in its error buffer. Applies to buffer functions, InvokeSync and
// ReleaseClient.
func (l *Library) InjectStatus(export string, code opbridge.StatusCode, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inject[export] = injected{code: code, message: msg}
}

// Stats returns buffer operation counters.
func (l *Library) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Outstanding returns the number of live allocations.
func (l *Library) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.allocs)
}

// Violations returns every ownership or protocol violation observed.
func (l *Library) Violations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.violations...)
}

// ReleasedClients returns the client ids passed to ReleaseClient, in order.
func (l *Library) ReleasedClients() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.released...)
}

// AssertClean fails t if any allocation or future is still live or any
// violation was recorded.
func (l *Library) AssertClean(t testing.TB) {
	t.Helper()
	for _, v := range l.Violations() {
		t.Errorf("ffitest: violation: %s", v)
	}
	if n := l.Outstanding(); n != 0 {
		t.Errorf("ffitest: %d buffer(s) never released", n)
	}
	var leaked []string
	l.futures.Each(func(h resource.Handle, f *future) bool {
		leaked = append(leaked, fmt.Sprintf("%s future %d", f.entry(), h))
		return true
	})
	for _, s := range leaked {
		t.Errorf("ffitest: %s never freed", s)
	}
}

func (l *Library) violate(format string, args ...any) {
	l.violations = append(l.violations, fmt.Sprintf(format, args...))
}

// allocLocked requires l.mu.
func (l *Library) allocLocked(capacity uint32) opbridge.RawBuffer {
	l.nextID++
	id := l.nextID
	l.allocs[id] = make([]byte, capacity)
	return opbridge.RawBuffer{
		Capacity: capacity,
		Data:     opbridge.Pointer(uint64(id) << ptrShift),
	}
}

func (l *Library) allocBytesLocked(b []byte) opbridge.RawBuffer {
	raw := l.allocLocked(uint32(len(b)))
	copy(l.allocs[ptrID(raw.Data)], b)
	raw.Len = uint32(len(b))
	return raw
}

// releaseLocked validates and frees buf. It returns the contents.
func (l *Library) releaseLocked(op string, buf opbridge.RawBuffer) []byte {
	if buf.IsEmpty() {
		return nil
	}
	id := ptrID(buf.Data)
	data, ok := l.allocs[id]
	switch {
	case ok && ptrOffset(buf.Data) != 0:
		l.violate("%s: interior pointer %#x", op, uint64(buf.Data))
		return nil
	case !ok && l.freed[id]:
		l.violate("%s: double free of buffer %d", op, id)
		return nil
	case !ok:
		l.violate("%s: free of unknown pointer %#x", op, uint64(buf.Data))
		return nil
	}
	if int(buf.Capacity) != len(data) {
		l.violate("%s: buffer %d freed with capacity %d, allocated %d", op, id, buf.Capacity, len(data))
	}
	if buf.Len > buf.Capacity {
		l.violate("%s: buffer %d length %d exceeds capacity %d", op, id, buf.Len, buf.Capacity)
	}
	delete(l.allocs, id)
	l.freed[id] = true
	end := buf.Len
	if int(end) > len(data) {
		end = uint32(len(data))
	}
	return data[:end]
}

// injectedLocked reports a pending injected status for export, if any.
func (l *Library) injectedLocked(export string, status *opbridge.CallStatus) bool {
	inj, ok := l.inject[export]
	if !ok {
		return false
	}
	delete(l.inject, export)
	status.Code = inj.code
	if inj.message != "" {
		status.ErrorBuf = l.allocBytesLocked([]byte(inj.message))
	}
	return true
}

func (l *Library) BufferAlloc(size uint32, status *opbridge.CallStatus) opbridge.RawBuffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.injectedLocked(opbridge.ExportBufferAlloc, status) {
		return opbridge.RawBuffer{}
	}
	l.stats.Allocs++
	raw := l.allocLocked(size)
	// the native allocator hands out zero-filled buffers of full length
	raw.Len = size
	return raw
}

func (l *Library) BufferFromBytes(data []byte, status *opbridge.CallStatus) opbridge.RawBuffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.injectedLocked(opbridge.ExportBufferFromBytes, status) {
		return opbridge.RawBuffer{}
	}
	l.stats.FromBytes++
	return l.allocBytesLocked(data)
}

func (l *Library) BufferReserve(buf opbridge.RawBuffer, additional uint32, status *opbridge.CallStatus) opbridge.RawBuffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.injectedLocked(opbridge.ExportBufferReserve, status) {
		return opbridge.RawBuffer{}
	}
	l.stats.Reserves++

	contents := l.releaseLocked("reserve", buf)
	need := uint64(buf.Len) + uint64(additional)
	if need > 1<<32-1 {
		status.Code = opbridge.StatusPanic
		status.ErrorBuf = l.allocBytesLocked([]byte("reserve overflows u32"))
		return opbridge.RawBuffer{}
	}
	if uint64(buf.Capacity) >= need && !buf.IsEmpty() {
		need = uint64(buf.Capacity)
	}
	grown := l.allocLocked(uint32(need))
	copy(l.allocs[ptrID(grown.Data)], contents)
	grown.Len = buf.Len
	return grown
}

func (l *Library) BufferFree(buf opbridge.RawBuffer, status *opbridge.CallStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.injectedLocked(opbridge.ExportBufferFree, status) {
		return
	}
	if buf.IsEmpty() {
		l.stats.EmptyFrees++
		return
	}
	l.stats.Frees++
	l.releaseLocked("free", buf)
}

// rangeLocked resolves ptr to the backing allocation. It requires l.mu.
func (l *Library) rangeLocked(ptr opbridge.Pointer, length uint32) []byte {
	data, ok := l.allocs[ptrID(ptr)]
	if !ok {
		l.violate("memory: access to unknown pointer %#x", uint64(ptr))
		return nil
	}
	off := uint64(ptrOffset(ptr))
	end := off + uint64(length)
	if end > uint64(len(data)) {
		l.violate("memory: range [%d, %d) outside buffer of %d bytes", off, end, len(data))
		return nil
	}
	return data[off:end:end]
}

func (l *Library) ReadMemory(ptr opbridge.Pointer, length uint32) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	view := l.rangeLocked(ptr, length)
	if view == nil {
		return nil
	}
	return append(make([]byte, 0, length), view...)
}

func (l *Library) WriteMemory(ptr opbridge.Pointer, data []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	view := l.rangeLocked(ptr, uint32(len(data)))
	if view == nil {
		return false
	}
	copy(view, data)
	return true
}

func (l *Library) ContractVersion() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

func (l *Library) Checksum(sym opbridge.Symbol) uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.checksums[sym]; ok {
		return v
	}
	return sym.ExpectedChecksum()
}

// take consumes a buffer handed to the native side and returns a copy of
// its contents.
func (l *Library) take(op string, buf opbridge.RawBuffer) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.releaseLocked(op, buf)...)
}

func (l *Library) InitClient(config opbridge.RawBuffer) opbridge.FutureHandle {
	input := l.take("init_client", config)
	return l.spawn("init_client", func() Response {
		if h := l.ClientHandler; h != nil {
			return h(input)
		}
		l.mu.Lock()
		l.nextClient++
		id := l.nextClient
		l.mu.Unlock()
		return Reply([]byte(strconv.FormatUint(id, 10)))
	})
}

func (l *Library) ReleaseClient(id opbridge.RawBuffer, status *opbridge.CallStatus) {
	input := l.take("release_client", id)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.injectedLocked(opbridge.SymReleaseClient.FuncName(), status) {
		return
	}
	l.released = append(l.released, string(input))
}

func (l *Library) Invoke(payload opbridge.RawBuffer) opbridge.FutureHandle {
	input := l.take("invoke", payload)
	return l.spawn("invoke", func() Response {
		return l.answer(input)
	})
}

func (l *Library) InvokeSync(payload opbridge.RawBuffer, status *opbridge.CallStatus) opbridge.RawBuffer {
	input := l.take("invoke_sync", payload)
	l.mu.Lock()
	if l.injectedLocked(opbridge.SymInvokeSync.FuncName(), status) {
		l.mu.Unlock()
		return opbridge.RawBuffer{}
	}
	l.mu.Unlock()

	resp := l.answer(input)

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyLocked(resp, status)
}

func (l *Library) answer(input []byte) Response {
	if l.Handler == nil {
		return Crash("ffitest: no invocation handler")
	}
	return l.Handler(input)
}

// applyLocked turns a Response into a call outcome.
func (l *Library) applyLocked(resp Response, status *opbridge.CallStatus) opbridge.RawBuffer {
	switch {
	case resp.Panicked:
		status.Code = opbridge.StatusPanic
		if resp.PanicMessage != "" {
			status.ErrorBuf = l.allocBytesLocked([]byte(resp.PanicMessage))
		}
		return opbridge.RawBuffer{}
	case resp.ErrorPayload != nil:
		status.Code = opbridge.StatusError
		status.ErrorBuf = l.allocBytesLocked(resp.ErrorPayload)
		return opbridge.RawBuffer{}
	default:
		return l.allocBytesLocked(resp.Output)
	}
}

func (l *Library) BufferFutures() opbridge.FutureOps[opbridge.RawBuffer] {
	return bufferFutures{l: l}
}

func ptrID(p opbridge.Pointer) uint32 { return uint32(uint64(p) >> ptrShift) }

func ptrOffset(p opbridge.Pointer) uint32 { return uint32(p) }
