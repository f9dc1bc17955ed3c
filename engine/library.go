package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
)

const (
	// HostModule is the import namespace the core uses to reach the host.
	HostModule = "op_uniffi_core_host"
	// HostContinuation is the future continuation import: (state i64, code i32).
	HostContinuation = "future_continuation"

	// ExportContinuationCallback returns the guest function pointer that
	// forwards to the HostContinuation import. It is handed to every poll.
	ExportContinuationCallback = "op_uniffi_core_continuation_callback"

	exportMemory     = "memory"
	exportMalloc     = "malloc"
	exportFree       = "free"
	initializeExport = "_initialize"
)

// wasmExports lists everything Load resolves beyond the core's own symbols.
func wasmExports() []string {
	return []string{exportMalloc, exportFree, ExportContinuationCallback}
}

// WazeroLibrary is an opbridge.Library backed by a wasm32 build of the core.
type WazeroLibrary struct {
	engine   *Engine
	compiled wazero.CompiledModule
	module   api.Module
	memory   guestMemory
	scratch  scratch
	callback uint32
	funcs    map[string]api.Function

	// a module instance is single-threaded
	mu sync.Mutex
	// pending poll state per future, dropped on free
	polls  map[opbridge.FutureHandle]uint64
	ctx    context.Context
	closed bool
}

var _ opbridge.Library = (*WazeroLibrary)(nil)

func newLibrary(ctx context.Context, e *Engine, compiled wazero.CompiledModule, mod api.Module) (*WazeroLibrary, error) {
	mem := mod.ExportedMemory(exportMemory)

	required := append(opbridge.RequiredExports(), wasmExports()...)
	funcs := make(map[string]api.Function, len(required))
	var missing []string
	if mem == nil {
		missing = append(missing, exportMemory)
	}
	for _, name := range required {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			missing = append(missing, name)
			continue
		}
		funcs[name] = fn
	}
	if len(missing) > 0 {
		return nil, errors.NewMissingSymbolsError("core module", missing)
	}

	l := &WazeroLibrary{
		engine:   e,
		compiled: compiled,
		module:   mod,
		memory:   guestMemory{mem: mem},
		funcs:    funcs,
		polls:    make(map[opbridge.FutureHandle]uint64),
		ctx:      context.WithoutCancel(ctx),
	}

	var err error
	l.callback, err = l.callU32(ExportContinuationCallback)
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	base, err := l.callU32(exportMalloc, scratchSize)
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	if base == 0 {
		return nil, errors.New(errors.PhaseLoad, errors.KindInstantiation).
			Symbol(exportMalloc).
			Detail("could not reserve %d bytes of scratch space", scratchSize).
			Build()
	}
	l.scratch = scratch{base: base}
	return l, nil
}

// callU32 is used during setup, before traps are treated as fatal.
func (l *WazeroLibrary) callU32(name string, params ...uint64) (uint32, error) {
	res, err := l.funcs[name].Call(l.ctx, params...)
	if err != nil {
		return 0, err
	}
	return api.DecodeU32(res[0]), nil
}

// call invokes a guest export. A trap is the wasm form of a native panic.
// The caller holds l.mu.
func (l *WazeroLibrary) call(name string, params ...uint64) []uint64 {
	if l.closed {
		panic(errors.Closed(errors.PhaseCall, "core module"))
	}
	debugf("guest call %s %v", name, params)
	res, err := l.funcs[name].Call(l.ctx, params...)
	if err != nil {
		Logger().Error("guest trapped", zap.String("export", name), zap.Error(err))
		panic(errors.New(errors.PhaseCall, errors.KindPanic).
			Symbol(name).
			Cause(err).
			Detail("guest trapped").
			Build())
	}
	return res
}

// callStatus runs fn with a cleared status region and copies the outcome
// into status.
func (l *WazeroLibrary) callStatus(status *opbridge.CallStatus, fn func(statusPtr uint32)) {
	ptr := l.scratch.status()
	l.memory.resetStatus(ptr)
	fn(ptr)
	*status = l.memory.readStatus(ptr)
}

// withBufferArg copies buf into the argument slot and calls fn with its
// address.
func (l *WazeroLibrary) withBufferArg(buf opbridge.RawBuffer, fn func(argPtr uint32)) {
	ptr := l.scratch.arg()
	l.memory.writeRawBuffer(ptr, buf)
	fn(ptr)
}

func (l *WazeroLibrary) sretBuffer(fn func(sret uint32)) opbridge.RawBuffer {
	ptr := l.scratch.sret()
	l.memory.zero(ptr, rawBufferSize)
	fn(ptr)
	return l.memory.readRawBuffer(ptr)
}

func (l *WazeroLibrary) BufferAlloc(size uint32, status *opbridge.CallStatus) opbridge.RawBuffer {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out opbridge.RawBuffer
	l.callStatus(status, func(st uint32) {
		out = l.sretBuffer(func(sret uint32) {
			l.call(opbridge.ExportBufferAlloc, api.EncodeU32(sret), api.EncodeU32(size), api.EncodeU32(st))
		})
	})
	return out
}

func (l *WazeroLibrary) BufferFromBytes(data []byte, status *opbridge.CallStatus) opbridge.RawBuffer {
	if uint64(len(data)) > uint64(^uint32(0)>>1) {
		panic(errors.Overflow(errors.PhaseAlloc, len(data), "i32 foreign bytes length"))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n := uint32(len(data))
	var src uint32
	if n > 0 {
		src = api.DecodeU32(l.call(exportMalloc, api.EncodeU32(n))[0])
		if src == 0 {
			panic(errors.New(errors.PhaseAlloc, errors.KindPanic).
				Symbol(exportMalloc).
				Detail("guest could not allocate %d bytes", n).
				Build())
		}
		defer l.call(exportFree, api.EncodeU32(src))
		l.memory.write(src, data)
	}

	fb := l.scratch.arg()
	l.memory.writeForeignBytes(fb, src, n)

	var out opbridge.RawBuffer
	l.callStatus(status, func(st uint32) {
		out = l.sretBuffer(func(sret uint32) {
			l.call(opbridge.ExportBufferFromBytes, api.EncodeU32(sret), api.EncodeU32(fb), api.EncodeU32(st))
		})
	})
	return out
}

func (l *WazeroLibrary) BufferReserve(buf opbridge.RawBuffer, additional uint32, status *opbridge.CallStatus) opbridge.RawBuffer {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out opbridge.RawBuffer
	l.callStatus(status, func(st uint32) {
		l.withBufferArg(buf, func(arg uint32) {
			out = l.sretBuffer(func(sret uint32) {
				l.call(opbridge.ExportBufferReserve,
					api.EncodeU32(sret), api.EncodeU32(arg), api.EncodeU32(additional), api.EncodeU32(st))
			})
		})
	})
	return out
}

func (l *WazeroLibrary) BufferFree(buf opbridge.RawBuffer, status *opbridge.CallStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.callStatus(status, func(st uint32) {
		l.withBufferArg(buf, func(arg uint32) {
			l.call(opbridge.ExportBufferFree, api.EncodeU32(arg), api.EncodeU32(st))
		})
	})
}

// ReadMemory copies a range of guest linear memory, or returns nil when the
// range is outside it. A concurrent guest call may grow and move memory, so
// both copies run under l.mu.
func (l *WazeroLibrary) ReadMemory(ptr opbridge.Pointer, length uint32) []byte {
	if ptr > opbridge.Pointer(^uint32(0)) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	view := l.memory.view(uint32(ptr), length)
	if view == nil {
		return nil
	}
	return append(make([]byte, 0, length), view...)
}

// WriteMemory copies data into guest linear memory.
func (l *WazeroLibrary) WriteMemory(ptr opbridge.Pointer, data []byte) bool {
	if ptr > opbridge.Pointer(^uint32(0)) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.memory.mem.Write(uint32(ptr), data)
}

func (l *WazeroLibrary) ContractVersion() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return api.DecodeU32(l.call(opbridge.ExportContractVersion)[0])
}

func (l *WazeroLibrary) Checksum(sym opbridge.Symbol) uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint16(api.DecodeU32(l.call(sym.ChecksumName())[0]))
}

func (l *WazeroLibrary) InitClient(config opbridge.RawBuffer) opbridge.FutureHandle {
	return l.startFuture(opbridge.SymInitClient.FuncName(), config)
}

func (l *WazeroLibrary) Invoke(payload opbridge.RawBuffer) opbridge.FutureHandle {
	return l.startFuture(opbridge.SymInvoke.FuncName(), payload)
}

func (l *WazeroLibrary) startFuture(name string, in opbridge.RawBuffer) opbridge.FutureHandle {
	l.mu.Lock()
	defer l.mu.Unlock()

	var h opbridge.FutureHandle
	l.withBufferArg(in, func(arg uint32) {
		h = opbridge.FutureHandle(l.call(name, api.EncodeU32(arg))[0])
	})
	return h
}

func (l *WazeroLibrary) ReleaseClient(id opbridge.RawBuffer, status *opbridge.CallStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.callStatus(status, func(st uint32) {
		l.withBufferArg(id, func(arg uint32) {
			l.call(opbridge.SymReleaseClient.FuncName(), api.EncodeU32(arg), api.EncodeU32(st))
		})
	})
}

func (l *WazeroLibrary) InvokeSync(payload opbridge.RawBuffer, status *opbridge.CallStatus) opbridge.RawBuffer {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out opbridge.RawBuffer
	l.callStatus(status, func(st uint32) {
		l.withBufferArg(payload, func(arg uint32) {
			out = l.sretBuffer(func(sret uint32) {
				l.call(opbridge.SymInvokeSync.FuncName(), api.EncodeU32(sret), api.EncodeU32(arg), api.EncodeU32(st))
			})
		})
	})
	return out
}

func (l *WazeroLibrary) BufferFutures() opbridge.FutureOps[opbridge.RawBuffer] {
	return bufferFutures{l}
}

// Close frees the scratch region and closes the module instance. Pending
// continuations are dropped.
func (l *WazeroLibrary) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	if _, err := l.funcs[exportFree].Call(ctx, api.EncodeU32(l.scratch.base)); err != nil {
		Logger().Warn("free scratch space", zap.Error(err))
	}
	l.closed = true

	for h, state := range l.polls {
		l.engine.unregister(state)
		delete(l.polls, h)
	}

	err := l.module.Close(ctx)
	if cerr := l.compiled.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

type bufferFutures struct {
	l *WazeroLibrary
}

// Poll registers cb before entering the guest; the guest may call it back
// before returning.
func (f bufferFutures) Poll(h opbridge.FutureHandle, cb opbridge.Continuation, state uint64) {
	l := f.l
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.polls[h]; ok && prev != state {
		l.engine.unregister(prev)
	}
	l.polls[h] = state
	l.engine.register(state, cb)
	l.call(opbridge.ExportFuturePoll, uint64(h), api.EncodeU32(l.callback), state)
}

func (f bufferFutures) Cancel(h opbridge.FutureHandle) {
	l := f.l
	l.mu.Lock()
	defer l.mu.Unlock()
	l.call(opbridge.ExportFutureCancel, uint64(h))
}

func (f bufferFutures) Free(h opbridge.FutureHandle) {
	l := f.l
	l.mu.Lock()
	defer l.mu.Unlock()

	if state, ok := l.polls[h]; ok {
		l.engine.unregister(state)
		delete(l.polls, h)
	}
	l.call(opbridge.ExportFutureFree, uint64(h))
}

func (f bufferFutures) Complete(h opbridge.FutureHandle, status *opbridge.CallStatus) opbridge.RawBuffer {
	l := f.l
	l.mu.Lock()
	defer l.mu.Unlock()

	var out opbridge.RawBuffer
	l.callStatus(status, func(st uint32) {
		out = l.sretBuffer(func(sret uint32) {
			l.call(opbridge.ExportFutureComplete, api.EncodeU32(sret), uint64(h), api.EncodeU32(st))
		})
	})
	return out
}
