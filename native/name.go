package native

import "runtime"

// DefaultLibraryName returns the platform file name of the core library.
func DefaultLibraryName() string {
	switch runtime.GOOS {
	case "darwin", "ios":
		return "libop_uniffi_core.dylib"
	case "windows":
		return "op_uniffi_core.dll"
	default:
		return "libop_uniffi_core.so"
	}
}
