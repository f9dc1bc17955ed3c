package engine

import (
	"github.com/tetratelabs/wazero/api"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
)

// wasm32 C layouts.
//
//	RustBuffer      { u32 capacity @0; u32 len @4; u8* data @8 }   12 bytes
//	RustCallStatus  { i8 code @0; RustBuffer error_buf @4 }        16 bytes
//	ForeignBytes    { i32 len @0; u8* data @4 }                     8 bytes
const (
	rawBufferSize    = 12
	callStatusSize   = 16
	foreignBytesSize = 8

	statusBufOffset = 4
)

// scratch is a fixed region of guest memory used for by-reference struct
// arguments. Guest calls are serialized, so one region per library suffices.
//
//	sret   @0   RustBuffer result
//	arg    @16  RustBuffer or ForeignBytes argument
//	status @32  RustCallStatus
type scratch struct {
	base uint32
}

const scratchSize = 48

func (s scratch) sret() uint32   { return s.base }
func (s scratch) arg() uint32    { return s.base + 16 }
func (s scratch) status() uint32 { return s.base + 32 }

// guestMemory reads and writes the wasm32 layouts in linear memory. Every
// access is bounds-checked; a failure means the guest handed back a bad
// pointer and is raised as a fatal protocol error.
type guestMemory struct {
	mem api.Memory
}

func (m guestMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

func (m guestMemory) view(offset, length uint32) []byte {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil
	}
	return data
}

func (m guestMemory) write(offset uint32, data []byte) {
	if !m.mem.Write(offset, data) {
		panic(errors.OutOfBounds(errors.PhaseCall, offset, uint32(len(data))))
	}
}

func (m guestMemory) zero(offset, length uint32) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		panic(errors.OutOfBounds(errors.PhaseCall, offset, length))
	}
	clear(data)
}

func (m guestMemory) readU32(offset uint32) uint32 {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		panic(errors.OutOfBounds(errors.PhaseCall, offset, 4))
	}
	return v
}

func (m guestMemory) writeU32(offset, v uint32) {
	if !m.mem.WriteUint32Le(offset, v) {
		panic(errors.OutOfBounds(errors.PhaseCall, offset, 4))
	}
}

func (m guestMemory) readByte(offset uint32) byte {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		panic(errors.OutOfBounds(errors.PhaseCall, offset, 1))
	}
	return v
}

func (m guestMemory) readRawBuffer(offset uint32) opbridge.RawBuffer {
	return opbridge.RawBuffer{
		Capacity: m.readU32(offset),
		Len:      m.readU32(offset + 4),
		Data:     opbridge.Pointer(m.readU32(offset + 8)),
	}
}

func (m guestMemory) writeRawBuffer(offset uint32, b opbridge.RawBuffer) {
	if b.Data > opbridge.Pointer(^uint32(0)) {
		panic(errors.Overflow(errors.PhaseCall, uint64(b.Data), "wasm32 pointer"))
	}
	m.writeU32(offset, b.Capacity)
	m.writeU32(offset+4, b.Len)
	m.writeU32(offset+8, uint32(b.Data))
}

func (m guestMemory) writeForeignBytes(offset, ptr, length uint32) {
	m.writeU32(offset, length)
	m.writeU32(offset+4, ptr)
}

func (m guestMemory) resetStatus(offset uint32) {
	m.zero(offset, callStatusSize)
}

func (m guestMemory) readStatus(offset uint32) opbridge.CallStatus {
	return opbridge.CallStatus{
		Code:     opbridge.StatusCode(int8(m.readByte(offset))),
		ErrorBuf: m.readRawBuffer(offset + statusBufOffset),
	}
}
