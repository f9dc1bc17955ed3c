package ffi

import (
	stderrors "errors"
	"strings"

	"go.uber.org/zap"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
)

// ExpectedContractVersion is the scaffolding contract the bindings speak.
const ExpectedContractVersion = opbridge.ContractVersion

// Checksum is the expected signature checksum of a guarded function.
type Checksum struct {
	Symbol opbridge.Symbol
	Value  uint16
}

// ExpectedChecksums lists every guarded function in validation order.
var ExpectedChecksums = expectedChecksums()

func expectedChecksums() []Checksum {
	out := make([]Checksum, len(opbridge.GuardedSymbols))
	for i, s := range opbridge.GuardedSymbols {
		out[i] = Checksum{Symbol: s, Value: s.ExpectedChecksum()}
	}
	return out
}

// CheckContract compares the library's contract version and checksums with
// the expected ones. All mismatches are reported in one error.
func CheckContract(lib opbridge.Library) error {
	var mismatches []error

	if v := lib.ContractVersion(); v != ExpectedContractVersion {
		mismatches = append(mismatches, errors.VersionMismatch(ExpectedContractVersion, v))
	}

	checksumFailed := false
	for _, c := range ExpectedChecksums {
		if got := lib.Checksum(c.Symbol); got != c.Value {
			mismatches = append(mismatches, errors.ChecksumMismatch(string(c.Symbol), c.Value, got))
			checksumFailed = true
		}
	}

	switch len(mismatches) {
	case 0:
		return nil
	case 1:
		return mismatches[0]
	}

	kind := errors.KindVersionMismatch
	if checksumFailed {
		kind = errors.KindChecksumMismatch
	}
	details := make([]string, len(mismatches))
	for i, m := range mismatches {
		details[i] = m.Error()
	}
	return errors.New(errors.PhaseValidate, kind).
		Detail("%d contract mismatches: %s", len(mismatches), strings.Join(details, "; ")).
		Cause(stderrors.Join(mismatches...)).
		Build()
}

// ValidateContract panics when CheckContract fails. Calling into a library
// whose contract differs is undefined behavior.
func ValidateContract(lib opbridge.Library) {
	if err := CheckContract(lib); err != nil {
		Logger().Error("native library contract mismatch", zap.Error(err))
		panic(err)
	}
}
