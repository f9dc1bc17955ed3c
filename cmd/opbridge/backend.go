package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/config"
	"github.com/wippyai/op-bridge/engine"
	"github.com/wippyai/op-bridge/native"
)

// opener loads the SDK core. The returned func releases it.
type opener func(ctx context.Context, cfg config.LibraryConfig) (opbridge.Library, func(context.Context) error, error)

// resolveBackend picks native or wasm for auto from the file extension.
func resolveBackend(cfg config.LibraryConfig) (backend, path string, err error) {
	backend, path = cfg.Backend, cfg.Path
	if backend == config.BackendAuto || backend == "" {
		backend = config.BackendNative
		if strings.EqualFold(filepath.Ext(path), ".wasm") {
			backend = config.BackendWasm
		}
	}
	if path == "" {
		if backend == config.BackendWasm {
			return "", "", fmt.Errorf("the wasm backend needs a module path")
		}
		path = native.DefaultLibraryName()
	}
	return backend, path, nil
}

func openLibrary(ctx context.Context, cfg config.LibraryConfig) (opbridge.Library, func(context.Context) error, error) {
	backend, path, err := resolveBackend(cfg)
	if err != nil {
		return nil, nil, err
	}

	if backend == config.BackendNative {
		lib, err := native.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return lib, func(context.Context) error { return lib.Close() }, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read wasm module: %w", err)
	}
	e, err := engine.NewEngine(ctx, &engine.Config{
		MemoryLimitPages:    cfg.MemoryLimitPages,
		CompilationCacheDir: cfg.CacheDir,
	})
	if err != nil {
		return nil, nil, err
	}
	lib, err := e.Load(ctx, data)
	if err != nil {
		e.Close(ctx)
		return nil, nil, err
	}
	return lib, func(ctx context.Context) error {
		lib.Close(ctx)
		return e.Close(ctx)
	}, nil
}
