// Package wire implements the kernel's on-the-wire framing: the Conduit
// message header and the boot-context record handed off from firmware
// (spec.md §3 "Message", §6.1). The manual little-endian encode/decode
// style is adapted from the teacher's internal/uapi marshal.go, which
// hand-marshals fixed C-compatible structs field by field instead of
// reflecting over them.
package wire

import "encoding/binary"

// HeaderSize is the on-wire size of a Message header in bytes.
const HeaderSize = 24

// MessageHeader is the fixed framing every Conduit message carries ahead
// of its payload: {sender id, payload size, timestamp, flags}.
type MessageHeader struct {
	Sender    uint64
	Size      uint32
	Flags     uint32
	Timestamp uint64
}

// MarshalHeader encodes h into a fresh HeaderSize-byte buffer.
func MarshalHeader(h MessageHeader) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Sender)
	binary.LittleEndian.PutUint32(buf[8:12], h.Size)
	binary.LittleEndian.PutUint32(buf[12:16], h.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], h.Timestamp)
	return buf
}

// UnmarshalHeader decodes a HeaderSize-byte buffer into a MessageHeader.
func UnmarshalHeader(data []byte) (MessageHeader, error) {
	if len(data) < HeaderSize {
		return MessageHeader{}, ErrShortBuffer
	}
	return MessageHeader{
		Sender:    binary.LittleEndian.Uint64(data[0:8]),
		Size:      binary.LittleEndian.Uint32(data[8:12]),
		Flags:     binary.LittleEndian.Uint32(data[12:16]),
		Timestamp: binary.LittleEndian.Uint64(data[16:24]),
	}, nil
}

// BootMagic is the fixed validation value a boot context record must carry
// (spec.md §6.1); a mismatch means the handoff structure is not ours and
// the core halts rather than interpret garbage.
const BootMagic uint64 = 0xC0FFEE5AFEB00710

// MemoryMapEntryBytes is the on-wire size of one MemoryMapEntry.
const MemoryMapEntryBytes = 24

// MemoryMapEntry describes one range in the firmware-provided memory map.
type MemoryMapEntry struct {
	Base   uint64
	Length uint64
	Type   uint32 // 0=usable, 1=reserved, 2=reclaimable
}

// BootContext is the record handed to the core at boot (spec.md §6.1):
// a magic number, an opaque boot mode, and the firmware memory map.
type BootContext struct {
	Magic     uint64
	Mode      uint32
	MemoryMap []MemoryMapEntry
	TotalRAM  uint64
}

// Valid reports whether ctx carries the expected magic number.
func (ctx BootContext) Valid() bool {
	return ctx.Magic == BootMagic
}

// MarshalBootContext encodes ctx for use in boot-handoff tests; production
// boot contexts are constructed directly by the loader, not decoded from
// bytes, but tests exercise the wire format to pin it down.
func MarshalBootContext(ctx BootContext) []byte {
	buf := make([]byte, 8+4+4+8+len(ctx.MemoryMap)*MemoryMapEntryBytes)
	binary.LittleEndian.PutUint64(buf[0:8], ctx.Magic)
	binary.LittleEndian.PutUint32(buf[8:12], ctx.Mode)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(ctx.MemoryMap)))
	binary.LittleEndian.PutUint64(buf[16:24], ctx.TotalRAM)
	off := 24
	for _, e := range ctx.MemoryMap {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.Base)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.Length)
		binary.LittleEndian.PutUint32(buf[off+16:off+20], e.Type)
		off += MemoryMapEntryBytes
	}
	return buf
}

// UnmarshalBootContext decodes a buffer produced by MarshalBootContext.
func UnmarshalBootContext(data []byte) (BootContext, error) {
	if len(data) < 24 {
		return BootContext{}, ErrShortBuffer
	}
	ctx := BootContext{
		Magic:    binary.LittleEndian.Uint64(data[0:8]),
		Mode:     binary.LittleEndian.Uint32(data[8:12]),
		TotalRAM: binary.LittleEndian.Uint64(data[16:24]),
	}
	n := binary.LittleEndian.Uint32(data[12:16])
	off := 24
	for i := uint32(0); i < n; i++ {
		if off+MemoryMapEntryBytes > len(data) {
			return BootContext{}, ErrShortBuffer
		}
		ctx.MemoryMap = append(ctx.MemoryMap, MemoryMapEntry{
			Base:   binary.LittleEndian.Uint64(data[off : off+8]),
			Length: binary.LittleEndian.Uint64(data[off+8 : off+16]),
			Type:   binary.LittleEndian.Uint32(data[off+16 : off+20]),
		})
		off += MemoryMapEntryBytes
	}
	return ctx, nil
}
