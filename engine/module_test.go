package engine

import (
	"testing"

	opbridge "github.com/wippyai/op-bridge"
)

// Minimal binary encoder for the guest modules used in tests.

const (
	i32 byte = 0x7f
	i64 byte = 0x7e
)

type testImport struct {
	module, name    string
	params, results []byte
}

type testFunc struct {
	export          string
	params, results []byte
	body            []byte
}

type testModule struct {
	imports []testImport
	funcs   []testFunc
	memory  bool
	// initial value of the bump allocator's heap pointer (global 0)
	heapBase int32
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func wasmName(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, vec(splitBytes(params)...)...)
	return append(out, vec(splitBytes(results)...)...)
}

func splitBytes(b []byte) [][]byte {
	out := make([][]byte, len(b))
	for i := range b {
		out[i] = b[i : i+1]
	}
	return out
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func localGet(i byte) []byte     { return []byte{0x20, i} }
func i32Const(v int32) []byte    { return append([]byte{0x41}, sleb(int64(v))...) }
func i64Const(v int64) []byte    { return append([]byte{0x42}, sleb(v)...) }
func i32Load(off uint32) []byte  { return append([]byte{0x28, 0x02}, uleb(uint64(off))...) }
func i32Store(off uint32) []byte { return append([]byte{0x36, 0x02}, uleb(uint64(off))...) }
func call(idx uint32) []byte     { return append([]byte{0x10}, uleb(uint64(idx))...) }

var (
	unreachable = []byte{0x00}
	memorySize  = []byte{0x3f, 0x00}
	memoryGrow  = []byte{0x40, 0x00}
)

func (m *testModule) encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types, imports, funcs, exports, codes [][]byte
	for i, imp := range m.imports {
		types = append(types, funcType(imp.params, imp.results))
		imports = append(imports, cat(wasmName(imp.module), wasmName(imp.name), []byte{0x00}, uleb(uint64(i))))
	}
	for i, fn := range m.funcs {
		// one type per function, so type and function indices coincide
		idx := len(m.imports) + i
		types = append(types, funcType(fn.params, fn.results))
		funcs = append(funcs, uleb(uint64(idx)))
		if fn.export != "" {
			exports = append(exports, cat(wasmName(fn.export), []byte{0x00}, uleb(uint64(idx))))
		}
		body := cat([]byte{0x00}, fn.body, []byte{0x0b})
		codes = append(codes, cat(uleb(uint64(len(body))), body))
	}
	if m.memory {
		exports = append(exports, cat(wasmName(exportMemory), []byte{0x02, 0x00}))
	}

	out = append(out, section(1, vec(types...))...)
	if len(imports) > 0 {
		out = append(out, section(2, vec(imports...))...)
	}
	if len(funcs) > 0 {
		out = append(out, section(3, vec(funcs...))...)
	}
	if m.memory {
		out = append(out, section(5, vec([]byte{0x00, 0x01}))...)
		global := cat([]byte{i32, 0x01}, i32Const(m.heapBase), []byte{0x0b})
		out = append(out, section(6, vec(global))...)
	}
	out = append(out, section(7, vec(exports...))...)
	if len(codes) > 0 {
		out = append(out, section(10, vec(codes...))...)
	}
	return out
}

// coreOptions tweaks the echo core built by buildCore.
type coreOptions struct {
	version   int32
	checksums map[opbridge.Symbol]uint16
	omit      map[string]bool
	wasi      bool
}

// buildCore returns a guest that satisfies the core's export contract:
//
//   - a bump allocator behind malloc that grows memory on demand; free and
//     rustbuffer_free do nothing
//   - rustbuffer_from_bytes and rustbuffer_reserve trap
//   - invoke_sync returns its argument buffer unchanged
//   - every future is ready on its first poll and completes with an empty buffer
func buildCore(t *testing.T, configure func(*coreOptions)) []byte {
	t.Helper()

	opts := coreOptions{version: int32(opbridge.ContractVersion), omit: map[string]bool{}}
	if configure != nil {
		configure(&opts)
	}

	m := &testModule{memory: true, heapBase: 1024}
	m.imports = append(m.imports, testImport{module: HostModule, name: HostContinuation, params: []byte{i64, i32}})
	if opts.wasi {
		m.imports = append(m.imports, testImport{module: wasiModuleName, name: "proc_exit", params: []byte{i32}})
	}
	continuationIdx := uint32(0)
	mallocIdx := uint32(len(m.imports))

	add := func(fn testFunc) {
		if !opts.omit[fn.export] {
			m.funcs = append(m.funcs, fn)
			return
		}
		// keep indices stable
		fn.export = ""
		m.funcs = append(m.funcs, fn)
	}

	// global.get 0; global.get 0; local.get 0; i32.add; i32.const 7; i32.add; i32.const -8; i32.and; global.set 0
	malloc := cat([]byte{0x23, 0x00, 0x23, 0x00}, localGet(0), []byte{0x6a}, i32Const(7), []byte{0x6a},
		i32Const(-8), []byte{0x71, 0x24, 0x00})
	// then grow memory until the heap pointer fits:
	// if pages(heap) > memory.size { memory.grow(pages(heap) - memory.size); drop }
	heapPages := cat([]byte{0x23, 0x00}, i32Const(0xffff), []byte{0x6a}, i32Const(16), []byte{0x76})
	malloc = cat(malloc,
		heapPages, memorySize, []byte{0x4b},
		[]byte{0x04, 0x40},
		heapPages, memorySize, []byte{0x6b}, memoryGrow, []byte{0x1a},
		[]byte{0x0b})
	add(testFunc{export: exportMalloc, params: []byte{i32}, results: []byte{i32}, body: malloc})
	add(testFunc{export: exportFree, params: []byte{i32}})
	add(testFunc{export: ExportContinuationCallback, results: []byte{i32}, body: i32Const(1)})
	add(testFunc{export: opbridge.ExportContractVersion, results: []byte{i32}, body: i32Const(opts.version)})
	for _, sym := range opbridge.GuardedSymbols {
		sum := sym.ExpectedChecksum()
		if v, ok := opts.checksums[sym]; ok {
			sum = v
		}
		add(testFunc{export: sym.ChecksumName(), results: []byte{i32}, body: i32Const(int32(sum))})
	}

	alloc := cat(
		localGet(0), localGet(1), i32Store(0),
		localGet(0), localGet(1), i32Store(4),
		localGet(0), localGet(1), call(mallocIdx), i32Store(8),
	)
	add(testFunc{export: opbridge.ExportBufferAlloc, params: []byte{i32, i32, i32}, body: alloc})
	add(testFunc{export: opbridge.ExportBufferFromBytes, params: []byte{i32, i32, i32}, body: unreachable})
	add(testFunc{export: opbridge.ExportBufferReserve, params: []byte{i32, i32, i32, i32}, body: unreachable})
	add(testFunc{export: opbridge.ExportBufferFree, params: []byte{i32, i32}})

	poll := cat(localGet(2), i32Const(int32(opbridge.PollReady)), call(continuationIdx))
	add(testFunc{export: opbridge.ExportFuturePoll, params: []byte{i64, i32, i64}, body: poll})
	add(testFunc{export: opbridge.ExportFutureCancel, params: []byte{i64}})
	add(testFunc{export: opbridge.ExportFutureFree, params: []byte{i64}})
	add(testFunc{export: opbridge.ExportFutureComplete, params: []byte{i32, i64, i32}})

	add(testFunc{export: opbridge.SymInitClient.FuncName(), params: []byte{i32}, results: []byte{i64}, body: i64Const(7)})
	add(testFunc{export: opbridge.SymReleaseClient.FuncName(), params: []byte{i32, i32}})
	add(testFunc{export: opbridge.SymInvoke.FuncName(), params: []byte{i32}, results: []byte{i64}, body: i64Const(9)})

	echo := cat(
		localGet(0), localGet(1), i32Load(0), i32Store(0),
		localGet(0), localGet(1), i32Load(4), i32Store(4),
		localGet(0), localGet(1), i32Load(8), i32Store(8),
	)
	add(testFunc{export: opbridge.SymInvokeSync.FuncName(), params: []byte{i32, i32, i32}, body: echo})

	return m.encode()
}
