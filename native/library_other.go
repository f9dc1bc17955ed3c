//go:build !cgo || windows

package native

import (
	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
)

// Library is unavailable without cgo; Open always fails.
type Library struct {
	opbridge.Library
}

// Open reports that the shared-library backend is not compiled in.
func Open(path string) (*Library, error) {
	return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
		Detail("loading %s requires cgo on a dlopen platform; use the wasm backend", path).
		Build()
}

// Path returns an empty string.
func (l *Library) Path() string { return "" }

// Close does nothing.
func (l *Library) Close() error { return nil }
