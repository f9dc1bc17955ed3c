package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
)

// Engine owns a wazero runtime shared by every library it loads.
type Engine struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache

	// continuations registered by pending polls, keyed by poll state
	continuations sync.Map

	hostInitMu   sync.Mutex
	hostInitDone atomic.Bool
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// CompilationCacheDir persists compiled guest code between runs.
	// Empty keeps the cache in memory for the lifetime of the engine.
	CompilationCacheDir string
}

// NewEngine creates a new wazero runtime. cfg may be nil.
func NewEngine(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	var cache wazero.CompilationCache
	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.CompilationCacheDir != "" {
			c, err := wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
			if err != nil {
				return nil, errors.Load("open compilation cache", err)
			}
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	runtimeCfg = runtimeCfg.WithCompilationCache(cache)

	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cache:   cache,
	}, nil
}

// Close closes every library loaded by the engine.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if cerr := e.cache.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// Load compiles and instantiates a WebAssembly build of the core.
func (e *Engine) Load(ctx context.Context, wasm []byte) (*WazeroLibrary, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile core module", err)
	}

	if importsModule(compiled, wasiModuleName) {
		if err := e.initWASI(ctx); err != nil {
			compiled.Close(ctx)
			return nil, err
		}
	}
	if err := e.initHost(ctx); err != nil {
		compiled.Close(ctx)
		return nil, err
	}

	// anonymous so several cores can live in one runtime
	modCfg := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	mod, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		compiled.Close(ctx)
		return nil, errors.Instantiation(err)
	}

	if initFn := mod.ExportedFunction(initializeExport); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			mod.Close(ctx)
			compiled.Close(ctx)
			return nil, errors.Instantiation(fmt.Errorf("%s: %w", initializeExport, err))
		}
	}

	lib, err := newLibrary(ctx, e, compiled, mod)
	if err != nil {
		mod.Close(ctx)
		compiled.Close(ctx)
		return nil, err
	}

	Logger().Debug("core module loaded",
		zap.Int("exports", len(compiled.ExportedFunctions())),
		zap.Uint32("memory_bytes", lib.memory.Size()))
	return lib, nil
}

func importsModule(compiled wazero.CompiledModule, name string) bool {
	for _, def := range compiled.ImportedFunctions() {
		if mod, _, ok := def.Import(); ok && mod == name {
			return true
		}
	}
	return false
}

// initWASI instantiates the WASI singleton for this engine's runtime.
// Safe for concurrent calls from multiple libraries sharing the same engine.
func (e *Engine) initWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(wasiModuleName) == nil {
		if _, err := instantiateWASI(ctx, e.runtime); err != nil {
			return errors.Load("instantiate WASI", err)
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}

func (e *Engine) initHost(ctx context.Context) error {
	if e.hostInitDone.Load() {
		return nil
	}

	e.hostInitMu.Lock()
	defer e.hostInitMu.Unlock()

	if e.hostInitDone.Load() {
		return nil
	}

	_, err := e.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.continuation),
			[]api.ValueType{api.ValueTypeI64, api.ValueTypeI32}, nil).
		WithParameterNames("state", "code").
		Export(HostContinuation).
		Instantiate(ctx)
	if err != nil {
		return errors.Load("instantiate host module", err)
	}

	e.hostInitDone.Store(true)
	return nil
}

// continuation is the guest's way back into Go. It runs inside a guest call
// and must not call into the guest.
func (e *Engine) continuation(_ context.Context, _ api.Module, stack []uint64) {
	state := stack[0]
	code := opbridge.PollCode(api.DecodeU32(stack[1]))

	v, ok := e.continuations.LoadAndDelete(state)
	if !ok {
		Logger().Warn("continuation without a registered poll",
			zap.Uint64("state", state),
			zap.Uint8("code", uint8(code)))
		return
	}
	v.(opbridge.Continuation)(state, code)
}

func (e *Engine) register(state uint64, cb opbridge.Continuation) {
	e.continuations.Store(state, cb)
}

func (e *Engine) unregister(state uint64) {
	e.continuations.Delete(state)
}
