package engine

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
	"github.com/wippyai/op-bridge/ffi"
)

func TestNewEngine(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{CompilationCacheDir: t.TempDir()}, "cache dir"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine, err := NewEngine(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("NewEngine failed: %v", err)
			}
			if engine.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
			if err := engine.Close(ctx); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		})
	}
}

func loadCore(t *testing.T, configure func(*coreOptions)) *WazeroLibrary {
	t.Helper()
	ctx := context.Background()

	engine, err := NewEngine(ctx, &Config{MemoryLimitPages: 16})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close(ctx) })

	lib, err := engine.Load(ctx, buildCore(t, configure))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { lib.Close(ctx) })
	return lib
}

func TestLoad_MemoryOnlyModule(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close(ctx)

	// (module (memory (export "memory") 1))
	wasm := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x05, 0x03, 0x01, 0x00, 0x01,
		0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	}

	_, err = engine.Load(ctx, wasm)
	var missing *errors.MissingSymbolsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("err = %v, want *MissingSymbolsError", err)
	}

	want := append(opbridge.RequiredExports(), wasmExports()...)
	if len(missing.Symbols) != len(want) {
		t.Fatalf("%d missing symbols, want %d: %v", len(missing.Symbols), len(want), missing.Symbols)
	}
	for _, s := range missing.Symbols {
		if s == exportMemory {
			t.Fatal("memory is exported and must not be reported")
		}
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLink, Kind: errors.KindMissingSymbol}) {
		t.Fatal("MissingSymbolsError should match link/missing_symbol")
	}
}

func TestLoad_EmptyModuleReportsMemory(t *testing.T) {
	ctx := context.Background()
	engine, _ := NewEngine(ctx, nil)
	defer engine.Close(ctx)

	_, err := engine.Load(ctx, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
	var missing *errors.MissingSymbolsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("err = %v", err)
	}
	if missing.Symbols[0] != exportMemory {
		t.Fatalf("first missing symbol = %q, want memory", missing.Symbols[0])
	}
}

func TestLoad_OmittedExport(t *testing.T) {
	ctx := context.Background()
	engine, _ := NewEngine(ctx, nil)
	defer engine.Close(ctx)

	wasm := buildCore(t, func(o *coreOptions) {
		o.omit[opbridge.ExportFutureCancel] = true
		o.omit[opbridge.SymInvokeSync.ChecksumName()] = true
	})

	_, err := engine.Load(ctx, wasm)
	var missing *errors.MissingSymbolsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("err = %v", err)
	}
	if len(missing.Symbols) != 2 {
		t.Fatalf("missing = %v", missing.Symbols)
	}
	msg := err.Error()
	for _, s := range []string{"checksums:", "futures:", opbridge.ExportFutureCancel} {
		if !strings.Contains(msg, s) {
			t.Errorf("error %q should contain %q", msg, s)
		}
	}
}

func TestLoad_InvalidBinary(t *testing.T) {
	ctx := context.Background()
	engine, _ := NewEngine(ctx, nil)
	defer engine.Close(ctx)

	_, err := engine.Load(ctx, []byte("not wasm"))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidData}) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_WASIImport(t *testing.T) {
	lib := loadCore(t, func(o *coreOptions) { o.wasi = true })
	if lib.engine.runtime.Module(wasiModuleName) == nil {
		t.Fatal("WASI should be instantiated for a core that imports it")
	}
}

func TestLoad_SeveralCoresShareHostModule(t *testing.T) {
	ctx := context.Background()
	engine, _ := NewEngine(ctx, nil)
	defer engine.Close(ctx)

	wasm := buildCore(t, nil)
	for i := 0; i < 3; i++ {
		lib, err := engine.Load(ctx, wasm)
		if err != nil {
			t.Fatalf("Load #%d: %v", i, err)
		}
		defer lib.Close(ctx)
	}
	if engine.runtime.Module(wasiModuleName) != nil {
		t.Fatal("WASI should not be instantiated when no core imports it")
	}
}

func TestLibrary_Contract(t *testing.T) {
	lib := loadCore(t, nil)
	if err := ffi.CheckContract(lib); err != nil {
		t.Fatalf("CheckContract: %v", err)
	}

	bad := loadCore(t, func(o *coreOptions) {
		o.version = 25
		o.checksums = map[opbridge.Symbol]uint16{opbridge.SymInvoke: 1}
	})
	err := ffi.CheckContract(bad)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindVersionMismatch}) {
		t.Fatalf("err = %v, want version mismatch", err)
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindChecksumMismatch}) {
		t.Fatalf("err = %v, want checksum mismatch", err)
	}
}

func TestLibrary_BufferLayout(t *testing.T) {
	lib := loadCore(t, nil)

	var status opbridge.CallStatus
	raw := lib.BufferAlloc(10, &status)
	if status.Code != opbridge.StatusSuccess {
		t.Fatalf("status = %v", status.Code)
	}
	if raw.Capacity != 10 || raw.Len != 10 || raw.Data == 0 {
		t.Fatalf("buffer = %+v", raw)
	}
	if raw.Data%8 != 0 {
		t.Fatalf("data pointer %d not aligned", raw.Data)
	}

	second := lib.BufferAlloc(1, &status)
	if second.Data < raw.Data+10 {
		t.Fatalf("allocations overlap: %+v %+v", raw, second)
	}

	if !lib.WriteMemory(raw.Data, []byte("0123456789")) {
		t.Fatal("write into allocation rejected")
	}
	if got := string(lib.ReadMemory(raw.Data+5, 5)); got != "56789" {
		t.Fatalf("ReadMemory = %q", got)
	}
}

func TestLibrary_MemoryOutOfRange(t *testing.T) {
	lib := loadCore(t, nil)
	if lib.ReadMemory(opbridge.Pointer(lib.memory.Size()), 1) != nil {
		t.Fatal("read past the end of memory should be nil")
	}
	if lib.ReadMemory(opbridge.Pointer(1)<<40, 1) != nil {
		t.Fatal("pointer beyond wasm32 should be nil")
	}
	if lib.WriteMemory(opbridge.Pointer(lib.memory.Size()), []byte{1}) {
		t.Fatal("write past the end of memory accepted")
	}
	if lib.WriteMemory(opbridge.Pointer(1)<<40, []byte{1}) {
		t.Fatal("write beyond wasm32 accepted")
	}
}

func TestLibrary_InvokeSyncThroughBridge(t *testing.T) {
	lib := loadCore(t, nil)
	b := ffi.New(lib)

	out, err := b.InvokeSync([]byte(`{"invocation":{}}`))
	if err != nil {
		t.Fatalf("InvokeSync: %v", err)
	}
	defer out.Release()
	if out.String() != `{"invocation":{}}` {
		t.Fatalf("result = %q", out.String())
	}
}

func TestLibrary_MallocGrowsMemory(t *testing.T) {
	lib := loadCore(t, nil)
	before := lib.memory.Size()

	var status opbridge.CallStatus
	raw := lib.BufferAlloc(3*65536, &status)
	if status.Code != opbridge.StatusSuccess {
		t.Fatalf("status = %v", status.Code)
	}
	if lib.memory.Size() <= before {
		t.Fatalf("memory did not grow: %d bytes", lib.memory.Size())
	}
	if !lib.WriteMemory(raw.Data+opbridge.Pointer(raw.Capacity)-1, []byte{0xff}) {
		t.Fatal("last byte of the allocation is not addressable")
	}
}

// Every payload is bigger than a page, so nearly each call grows and moves
// guest memory while other goroutines copy their payloads in.
func TestLibrary_ConcurrentInvokeSyncAcrossGrowth(t *testing.T) {
	lib := loadCore(t, nil)
	b := ffi.New(lib)

	const (
		workers = 8
		rounds  = 16
		size    = 70000
	)

	var wg sync.WaitGroup
	errs := make(chan string, workers*rounds)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				payload := bytes.Repeat([]byte{byte('a' + w)}, size)
				payload[0], payload[size-1] = byte(r), byte(r)

				out, err := b.InvokeSync(payload)
				if err != nil {
					errs <- err.Error()
					return
				}
				got := out.Bytes()
				out.Release()
				if !bytes.Equal(got, payload) {
					errs <- "worker payload lost across memory growth"
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}

func TestLibrary_InvokeThroughBridge(t *testing.T) {
	lib := loadCore(t, nil)
	b := ffi.New(lib)
	before := ffi.PendingFutures()

	out, err := b.Invoke(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !out.IsEmpty() {
		t.Fatalf("result = %q, want empty", out.String())
	}
	out.Release()

	if ffi.PendingFutures() != before {
		t.Fatal("poll state leaked")
	}
	if len(lib.polls) != 0 {
		t.Fatalf("%d poll registrations left after free", len(lib.polls))
	}
	n := 0
	lib.engine.continuations.Range(func(any, any) bool { n++; return true })
	if n != 0 {
		t.Fatalf("%d continuations left registered", n)
	}
}

func TestLibrary_ClientID(t *testing.T) {
	lib := loadCore(t, nil)
	b := ffi.New(lib)

	id, err := b.ClientID(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("ClientID: %v", err)
	}
	id.Release()
	b.FreeClient("0")
}

func TestLibrary_TrapIsFatal(t *testing.T) {
	lib := loadCore(t, nil)

	defer func() {
		err, ok := recover().(*errors.Error)
		if !ok {
			t.Fatal("trap should panic with *errors.Error")
		}
		if err.Kind != errors.KindPanic || err.Symbol != opbridge.ExportBufferFromBytes {
			t.Fatalf("got %v", err)
		}
		if err.Cause == nil {
			t.Fatal("trap error should carry the wazero error")
		}
	}()

	var status opbridge.CallStatus
	lib.BufferFromBytes([]byte("abc"), &status)
}

func TestLibrary_ClosedPanics(t *testing.T) {
	lib := loadCore(t, nil)
	ctx := context.Background()

	if err := lib.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := lib.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	defer func() {
		err, ok := recover().(*errors.Error)
		if !ok || err.Kind != errors.KindClosed {
			t.Fatalf("recover() = %v, want closed error", err)
		}
	}()
	lib.ContractVersion()
}

func TestContinuation_Unregistered(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	e := &Engine{}
	e.continuation(context.Background(), nil, []uint64{42, 0})

	if logs.FilterMessage("continuation without a registered poll").Len() != 1 {
		t.Fatal("unregistered continuation should be logged")
	}
}

func TestContinuation_DispatchesOnce(t *testing.T) {
	e := &Engine{}
	var calls int
	var gotState uint64
	var gotCode opbridge.PollCode
	e.register(7, func(state uint64, code opbridge.PollCode) {
		calls++
		gotState, gotCode = state, code
	})

	e.continuation(context.Background(), nil, []uint64{7, 1})
	e.continuation(context.Background(), nil, []uint64{7, 0})

	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	if gotState != 7 || gotCode != opbridge.PollMaybeReady {
		t.Fatalf("got state %d code %d", gotState, gotCode)
	}
}
