//go:build cgo && !windows

package native

/*
#include <stdint.h>
*/
import "C"

import (
	"sync"

	"go.uber.org/zap"

	opbridge "github.com/wippyai/op-bridge"
)

// continuations maps a poll's state value to the callback registered for it.
// Shared by every open library: states are unique per process.
var continuations sync.Map

//export opbridgeContinuation
func opbridgeContinuation(state C.uint64_t, code C.int8_t) {
	dispatchContinuation(uint64(state), opbridge.PollCode(code))
}

// dispatchContinuation fires the callback of one poll registration at most once.
func dispatchContinuation(state uint64, code opbridge.PollCode) {
	v, ok := continuations.LoadAndDelete(state)
	if !ok {
		Logger().Warn("continuation without a registered poll",
			zap.Uint64("state", state),
			zap.Uint8("code", uint8(code)))
		return
	}
	v.(opbridge.Continuation)(state, code)
}
