package native

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDefaultLibraryName(t *testing.T) {
	name := DefaultLibraryName()
	if !strings.Contains(name, "op_uniffi_core") {
		t.Fatalf("DefaultLibraryName() = %q", name)
	}
	switch runtime.GOOS {
	case "darwin":
		if filepath.Ext(name) != ".dylib" {
			t.Fatalf("darwin library name = %q", name)
		}
	case "linux":
		if name != "libop_uniffi_core.so" {
			t.Fatalf("linux library name = %q", name)
		}
	}
}

func TestOpen_NonexistentPath(t *testing.T) {
	lib, err := Open(filepath.Join(t.TempDir(), "nope.so"))
	if err == nil {
		lib.Close()
		t.Fatal("Open should fail for a missing file")
	}
	if lib != nil {
		t.Fatal("Open should not return a library on error")
	}
}
