package ffi

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/wippyai/op-bridge/errors"
)

// Error is the typed error raised by the SDK core.
type Error struct {
	Message string
	Code    int32
}

func (e *Error) Error() string {
	return fmt.Sprintf("sdk core error %d: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ErrorCode extracts the core error code from err.
func ErrorCode(err error) (int32, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// StringError is an error lifted verbatim from the error buffer.
type StringError string

func (e StringError) Error() string { return string(e) }

// errorVariantError is the only discriminant the core defines.
const errorVariantError int32 = 1

// DecodeError decodes a typed error payload: a big-endian i32 discriminant,
// a big-endian i32 code and a UTF-8 message filling the rest.
func DecodeError(payload []byte) (*Error, error) {
	if len(payload) < 8 {
		return nil, errors.New(errors.PhaseDecode, errors.KindProtocol).
			Value(len(payload)).
			Detail("typed error payload is %d bytes, need at least 8", len(payload)).
			Build()
	}

	disc := int32(binary.BigEndian.Uint32(payload[0:4]))
	if disc != errorVariantError {
		return nil, errors.InvalidVariant(errors.PhaseDecode, disc)
	}

	return &Error{
		Code:    int32(binary.BigEndian.Uint32(payload[4:8])),
		Message: strings.ToValidUTF8(string(payload[8:]), "\uFFFD"),
	}, nil
}

// Converter lifts the error buffer of a failed call. The set is closed:
// NoConverter, StringConverter and ErrorConverter.
type Converter interface {
	lift(buf *Buffer) error
	String() string
}

// NoConverter is used on call paths that never report a domain error.
type NoConverter struct{}

func (NoConverter) lift(*Buffer) error {
	panic(errors.Protocol(errors.PhaseCall, "call reported an error but has no error converter"))
}

func (NoConverter) String() string { return "none" }

// StringConverter lifts the error buffer as text.
type StringConverter struct{}

func (StringConverter) lift(buf *Buffer) error {
	return StringError(buf.String())
}

func (StringConverter) String() string { return "string" }

// ErrorConverter lifts the error buffer as a typed *Error.
type ErrorConverter struct{}

func (ErrorConverter) lift(buf *Buffer) error {
	e, err := DecodeError(buf.Bytes())
	if err != nil {
		// the two sides disagree on the error layout
		panic(err)
	}
	return e
}

func (ErrorConverter) String() string { return "error" }
