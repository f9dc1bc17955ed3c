package ffi

import (
	stderrors "errors"
	"math"
	"strings"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
)

// ErrBufferTooLarge is returned by Write when the contents would no longer
// fit the 32-bit length of a native buffer.
var ErrBufferTooLarge = stderrors.New("ffi: buffer length exceeds 4 GiB")

// Buffer owns one native buffer. The zero value and released buffers are
// the empty sentinel.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	lib opbridge.Library
	raw opbridge.RawBuffer
}

// WithCapacity allocates an empty buffer able to hold size bytes.
func WithCapacity(lib opbridge.Library, size uint32) *Buffer {
	raw := mustCall(lib, func(s *opbridge.CallStatus) opbridge.RawBuffer {
		return lib.BufferAlloc(size, s)
	})
	// the allocator reports the zero-filled length, contents start empty
	raw.Len = 0
	return &Buffer{lib: lib, raw: raw}
}

// FromBytes allocates a buffer holding a copy of b.
func FromBytes(lib opbridge.Library, b []byte) *Buffer {
	if uint64(len(b)) > math.MaxUint32 {
		panic(errors.Overflow(errors.PhaseAlloc, len(b), "u32 buffer length"))
	}
	buf := WithCapacity(lib, uint32(len(b)))
	if _, err := buf.Write(b); err != nil {
		buf.Release()
		panic(errors.Wrap(errors.PhaseAlloc, errors.KindOverflow, err, "copy into native buffer"))
	}
	return buf
}

// FromString allocates a buffer holding the bytes of s.
func FromString(lib opbridge.Library, s string) *Buffer {
	return FromBytes(lib, []byte(s))
}

// FromForeignBytes lets the native allocator copy b in a single call.
func FromForeignBytes(lib opbridge.Library, b []byte) *Buffer {
	if uint64(len(b)) > math.MaxInt32 {
		panic(errors.Overflow(errors.PhaseAlloc, len(b), "i32 foreign bytes length"))
	}
	raw := mustCall(lib, func(s *opbridge.CallStatus) opbridge.RawBuffer {
		return lib.BufferFromBytes(b, s)
	})
	return &Buffer{lib: lib, raw: raw}
}

// Adopt takes ownership of a buffer returned by the native side.
func Adopt(lib opbridge.Library, raw opbridge.RawBuffer) *Buffer {
	if raw.Len > raw.Capacity {
		panic(errors.Protocol(errors.PhaseAlloc, "native buffer length exceeds capacity"))
	}
	return &Buffer{lib: lib, raw: raw}
}

// IntoRaw transfers ownership to the native side. The buffer becomes the
// empty sentinel and a deferred Release is a no-op.
func (b *Buffer) IntoRaw() opbridge.RawBuffer {
	raw := b.raw
	b.raw = opbridge.RawBuffer{}
	return raw
}

// Reserve guarantees room for additional more bytes. The buffer may move.
func (b *Buffer) Reserve(additional uint32) {
	raw := b.IntoRaw()
	b.raw = mustCall(b.lib, func(s *opbridge.CallStatus) opbridge.RawBuffer {
		return b.lib.BufferReserve(raw, additional, s)
	})
	if uint64(b.raw.Capacity) < uint64(raw.Len)+uint64(additional) {
		panic(errors.New(errors.PhaseAlloc, errors.KindProtocol).
			Symbol(opbridge.ExportBufferReserve).
			Detail("reserve %d on length %d returned capacity %d", additional, raw.Len, b.raw.Capacity).
			Build())
	}
}

// Write appends p, growing the buffer when needed. It implements io.Writer
// and always writes all of p unless the result would exceed 4 GiB.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if uint64(b.raw.Len)+uint64(len(p)) > math.MaxUint32 {
		return 0, ErrBufferTooLarge
	}

	n := uint32(len(p))
	if b.raw.Len+n > b.raw.Capacity {
		b.Reserve(n)
	}
	if b.raw.Data == 0 {
		panic(errors.Protocol(errors.PhaseAlloc, "write into unallocated buffer"))
	}

	if !b.lib.WriteMemory(b.raw.Data+opbridge.Pointer(b.raw.Len), p) {
		panic(errors.OutOfBounds(errors.PhaseAlloc, b.raw.Len, n))
	}
	b.raw.Len += n
	return len(p), nil
}

// WriteString appends the bytes of s.
func (b *Buffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// Bytes returns a copy of the contents.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.raw.IsEmpty() || b.raw.Len == 0 {
		return []byte{}
	}
	data := b.lib.ReadMemory(b.raw.Data, b.raw.Len)
	if uint32(len(data)) < b.raw.Len {
		panic(errors.OutOfBounds(errors.PhaseDecode, 0, b.raw.Len))
	}
	return data
}

// String decodes the contents as UTF-8, replacing invalid sequences.
func (b *Buffer) String() string {
	if b == nil || b.raw.IsEmpty() {
		return ""
	}
	return strings.ToValidUTF8(string(b.Bytes()), "\uFFFD")
}

func (b *Buffer) Len() uint32 { return b.raw.Len }

func (b *Buffer) Cap() uint32 { return b.raw.Capacity }

// IsEmpty reports whether b is the empty sentinel.
func (b *Buffer) IsEmpty() bool { return b == nil || b.raw.IsEmpty() }

// Release frees the native buffer. Releasing the empty sentinel is a no-op,
// so it is safe to defer even when ownership may have been transferred.
func (b *Buffer) Release() {
	if b == nil || b.raw.IsEmpty() {
		return
	}
	raw := b.IntoRaw()
	mustCall(b.lib, func(s *opbridge.CallStatus) struct{} {
		b.lib.BufferFree(raw, s)
		return struct{}{}
	})
}
