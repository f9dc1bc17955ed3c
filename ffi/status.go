package ffi

import (
	"go.uber.org/zap"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
)

const unknownPanic = "unknown rust panic"

// rustCall runs fn with a fresh call status and interprets the outcome.
// Error buffers are released before it returns or panics.
func rustCall[T any](lib opbridge.Library, conv Converter, fn func(*opbridge.CallStatus) T) (T, error) {
	status := opbridge.CallStatus{Code: opbridge.StatusSuccess}
	result := fn(&status)
	if err := checkCallStatus(lib, conv, &status); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// mustCall is rustCall for paths that cannot report a domain error.
func mustCall[T any](lib opbridge.Library, fn func(*opbridge.CallStatus) T) T {
	result, err := rustCall(lib, NoConverter{}, fn)
	if err != nil {
		panic(errors.Wrap(errors.PhaseCall, errors.KindProtocol, err, "unexpected error from infallible call"))
	}
	return result
}

func checkCallStatus(lib opbridge.Library, conv Converter, status *opbridge.CallStatus) error {
	switch status.Code {
	case opbridge.StatusSuccess:
		return nil

	case opbridge.StatusError:
		buf := Adopt(lib, status.ErrorBuf)
		defer buf.Release()
		return conv.lift(buf)

	case opbridge.StatusPanic:
		buf := Adopt(lib, status.ErrorBuf)
		defer buf.Release()
		msg := unknownPanic
		if buf.Len() > 0 {
			msg = buf.String()
		}
		Logger().Error("native panic", zap.String("message", msg))
		panic(errors.Panic(errors.PhaseCall, msg))

	default:
		panic(errors.New(errors.PhaseCall, errors.KindProtocol).
			Value(status.Code).
			Detail("unknown call status code %d", int8(status.Code)).
			Build())
	}
}
