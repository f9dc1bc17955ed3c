package ffitest

import (
	"encoding/binary"
	"encoding/json"
)

// Response is what the mock core answers to an invocation.
type Response struct {
	// Output is returned on success.
	Output []byte
	// ErrorPayload, when non-nil, is reported with StatusError.
	ErrorPayload []byte
	// PanicMessage is reported with StatusPanic when Panicked is set. An
	// empty message produces an empty error buffer.
	PanicMessage string
	Panicked     bool
}

// Reply answers with raw output bytes.
func Reply(b []byte) Response {
	return Response{Output: b}
}

// ReplyJSON answers with the JSON encoding of v.
func ReplyJSON(v any) Response {
	b, err := json.Marshal(v)
	if err != nil {
		return Crash("ffitest: marshal reply: " + err.Error())
	}
	return Response{Output: b}
}

// Fail answers with a typed core error.
func Fail(code int32, message string) Response {
	return Response{ErrorPayload: EncodeError(1, code, message)}
}

// Crash answers with a native panic.
func Crash(message string) Response {
	return Response{PanicMessage: message, Panicked: true}
}

// EncodeError builds a typed error payload: big-endian discriminant, big-endian
// code, then the message bytes.
func EncodeError(disc, code int32, message string) []byte {
	b := make([]byte, 8+len(message))
	binary.BigEndian.PutUint32(b[0:4], uint32(disc))
	binary.BigEndian.PutUint32(b[4:8], uint32(code))
	copy(b[8:], message)
	return b
}
