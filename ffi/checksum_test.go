package ffi

import (
	stderrors "errors"
	"strings"
	"testing"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
	"github.com/wippyai/op-bridge/ffitest"
)

func TestExpectedChecksums(t *testing.T) {
	want := map[opbridge.Symbol]uint16{
		opbridge.SymInitClient:    45066,
		opbridge.SymReleaseClient: 57155,
		opbridge.SymInvoke:        29143,
		opbridge.SymInvokeSync:    49373,
	}
	if len(ExpectedChecksums) != len(want) {
		t.Fatalf("%d checksums, want %d", len(ExpectedChecksums), len(want))
	}
	for _, c := range ExpectedChecksums {
		if want[c.Symbol] != c.Value {
			t.Errorf("%s = %d, want %d", c.Symbol, c.Value, want[c.Symbol])
		}
	}
	if ExpectedContractVersion != 26 {
		t.Errorf("ExpectedContractVersion = %d", ExpectedContractVersion)
	}
}

func TestCheckContract(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*ffitest.Library)
		wantKind errors.Kind
		contains []string
	}{
		{
			name:  "matching",
			setup: func(*ffitest.Library) {},
		},
		{
			name:     "wrong checksum",
			setup:    func(l *ffitest.Library) { l.SetChecksum(opbridge.SymInvoke, 1) },
			wantKind: errors.KindChecksumMismatch,
			contains: []string{"invoke", "29143", "reports 1"},
		},
		{
			name:     "wrong version",
			setup:    func(l *ffitest.Library) { l.SetContractVersion(25) },
			wantKind: errors.KindVersionMismatch,
			contains: []string{"26", "25"},
		},
		{
			name: "several mismatches",
			setup: func(l *ffitest.Library) {
				l.SetContractVersion(30)
				l.SetChecksum(opbridge.SymInitClient, 2)
				l.SetChecksum(opbridge.SymInvokeSync, 3)
			},
			wantKind: errors.KindChecksumMismatch,
			contains: []string{"3 contract mismatches", "init_client", "invoke_sync", "version"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := ffitest.New()
			tt.setup(lib)

			err := CheckContract(lib)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("err = %v, want *errors.Error", err)
			}
			if e.Phase != errors.PhaseValidate || e.Kind != tt.wantKind {
				t.Fatalf("got %s/%s, want validate/%s", e.Phase, e.Kind, tt.wantKind)
			}
			for _, s := range tt.contains {
				if !strings.Contains(err.Error(), s) {
					t.Errorf("error %q should contain %q", err.Error(), s)
				}
			}
		})
	}
}

func TestCheckContract_AggregateUnwraps(t *testing.T) {
	lib := ffitest.New()
	lib.SetContractVersion(1)
	lib.SetChecksum(opbridge.SymReleaseClient, 9)

	err := CheckContract(lib)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindVersionMismatch}) {
		t.Fatal("aggregate should unwrap to the version mismatch")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindChecksumMismatch}) {
		t.Fatal("aggregate should unwrap to the checksum mismatch")
	}
}

func TestValidateContract_Panics(t *testing.T) {
	lib := ffitest.New()
	lib.SetChecksum(opbridge.SymReleaseClient, 0)

	expectPanic(t, errors.KindChecksumMismatch, "", func() {
		ValidateContract(lib)
	})
}
