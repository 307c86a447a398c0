// Package ring decodes GPU command streams: PM4 for the graphics and
// compute engines, SDMA for the copy engines, HSA AQL for user-mode
// compute queues, and the scheduler's metadata frames. Decoders follow
// indirect buffers and fetch referenced payloads through the VM
// accessor, so everything a stream points at is resolved the way the
// engine itself would resolve it.
package ring

import (
	"encoding/binary"
	"fmt"
)

// A Field is one named value decoded out of a packet's payload.
type Field struct {
	Name  string
	Value uint64
}

// An IndirectBuffer is a nested command stream another packet points
// at, fetched and decoded in place.
type IndirectBuffer struct {
	VA      uint64
	Size    uint64
	VMID    int
	Packets []Packet

	// Err records why the buffer body could not be fetched or decoded;
	// the referencing packet is still reported.
	Err error
}

// A ShaderRef is a shader program address discovered while decoding,
// from the compute program address registers a stream sets.
type ShaderRef struct {
	VA uint64
}

// A Packet is one decoded unit of a command stream.
type Packet struct {
	// Offset is the virtual address of the packet's first byte.
	Offset uint64

	Raw []uint32

	// Name is the decoded opcode or packet-type name; Opcode is the
	// numeric opcode for formats that have one.
	Name   string
	Opcode uint32

	Fields []Field

	// IB is set on packets that chain to an indirect buffer.
	IB *IndirectBuffer

	// Shader is set when the packet establishes a shader program
	// address.
	Shader *ShaderRef

	// Data holds payload bytes fetched on behalf of the packet, such
	// as a dispatch packet's kernel arguments.
	Data []byte

	// Err records a payload fetch that failed without stopping the
	// stream decode.
	Err error
}

func (p Packet) String() string {
	return fmt.Sprintf("%s @0x%x (%d words)", p.Name, p.Offset, len(p.Raw))
}

// Field returns the named decoded field and whether it exists.
func (p Packet) Field(name string) (uint64, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// A Decoder turns a raw stream into packets. from is the virtual
// address of data's first byte, used for packet offsets and for
// resolving stream-relative references.
type Decoder interface {
	Decode(data []byte, from uint64) ([]Packet, error)
}

// words reinterprets a byte stream as little-endian dwords. Trailing
// bytes that do not fill a dword are dropped.
func words(data []byte) []uint32 {
	w := make([]uint32, len(data)/4)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return w
}

func pair(lo, hi uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}
