package ring

import (
	"fmt"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/vm"
)

// PM4 opcodes handled beyond the generic table walk.
const (
	opIndirectBufferCnst = 0x33
	opIndirectBuffer     = 0x3F
	opSetShReg           = 0x76
)

// Shader program address registers live in the SH register space; a
// SET_SH_REG payload carries offsets relative to its start.
const (
	shRegSpaceStart = 0x2C00
	regComputePGMLo = 0x2E0C
	regComputePGMHi = 0x2E0D
)

type pm4OpInfo struct {
	Name     string
	MinWords int

	// Fields names the leading payload words, in order.
	Fields []string
}

// pm4Opcodes is the type-3 opcode table. Opcodes outside it still
// decode generically with their header-derived length.
var pm4Opcodes = map[uint32]pm4OpInfo{
	0x10: {Name: "NOP", MinWords: 1},
	0x11: {Name: "SET_BASE", MinWords: 3, Fields: []string{"BASE_INDEX", "ADDRESS_LO", "ADDRESS_HI"}},
	0x12: {Name: "CLEAR_STATE", MinWords: 2},
	0x15: {Name: "DISPATCH_DIRECT", MinWords: 5, Fields: []string{"DIM_X", "DIM_Y", "DIM_Z", "INITIATOR"}},
	0x16: {Name: "DISPATCH_INDIRECT", MinWords: 3, Fields: []string{"DATA_OFFSET", "INITIATOR"}},
	0x1E: {Name: "ATOMIC_MEM", MinWords: 10, Fields: []string{"CONTROL", "ADDR_LO", "ADDR_HI", "SRC_DATA_LO", "SRC_DATA_HI", "CMP_DATA_LO", "CMP_DATA_HI", "LOOP_INTERVAL"}},
	0x22: {Name: "COND_EXEC", MinWords: 5, Fields: []string{"ADDR_LO", "ADDR_HI", "CONTROL", "EXEC_COUNT"}},
	0x27: {Name: "DRAW_INDEX_2", MinWords: 6, Fields: []string{"MAX_SIZE", "INDEX_BASE_LO", "INDEX_BASE_HI", "INDEX_COUNT", "DRAW_INITIATOR"}},
	0x28: {Name: "CONTEXT_CONTROL", MinWords: 3, Fields: []string{"LOAD_CONTROL", "SHADOW_CONTROL"}},
	0x2D: {Name: "DRAW_INDEX_AUTO", MinWords: 3, Fields: []string{"INDEX_COUNT", "DRAW_INITIATOR"}},
	0x2F: {Name: "NUM_INSTANCES", MinWords: 2, Fields: []string{"NUM_INSTANCES"}},
	0x33: {Name: "INDIRECT_BUFFER_CONST", MinWords: 4, Fields: []string{"IB_BASE_LO", "IB_BASE_HI", "IB_CONTROL"}},
	0x37: {Name: "WRITE_DATA", MinWords: 5, Fields: []string{"CONTROL", "DST_ADDR_LO", "DST_ADDR_HI"}},
	0x3B: {Name: "COPY_DW", MinWords: 5},
	0x3C: {Name: "WAIT_REG_MEM", MinWords: 7, Fields: []string{"CONTROL", "POLL_ADDRESS_LO", "POLL_ADDRESS_HI", "REFERENCE", "MASK", "POLL_INTERVAL"}},
	0x3F: {Name: "INDIRECT_BUFFER", MinWords: 4, Fields: []string{"IB_BASE_LO", "IB_BASE_HI", "IB_CONTROL"}},
	0x40: {Name: "COPY_DATA", MinWords: 6, Fields: []string{"CONTROL", "SRC_LO", "SRC_HI", "DST_LO", "DST_HI"}},
	0x42: {Name: "PFP_SYNC_ME", MinWords: 2},
	0x43: {Name: "SURFACE_SYNC", MinWords: 5, Fields: []string{"COHER_CNTL", "COHER_SIZE", "COHER_BASE", "POLL_INTERVAL"}},
	0x46: {Name: "EVENT_WRITE", MinWords: 2, Fields: []string{"EVENT_CONTROL"}},
	0x47: {Name: "EVENT_WRITE_EOP", MinWords: 6, Fields: []string{"EVENT_CONTROL", "ADDRESS_LO", "ADDRESS_HI", "DATA_LO", "DATA_HI"}},
	0x49: {Name: "RELEASE_MEM", MinWords: 8, Fields: []string{"EVENT_CONTROL", "DATA_CONTROL", "ADDRESS_LO", "ADDRESS_HI", "DATA_LO", "DATA_HI", "INT_CTXID"}},
	0x50: {Name: "DMA_DATA", MinWords: 7, Fields: []string{"CONTROL", "SRC_ADDR_LO", "SRC_ADDR_HI", "DST_ADDR_LO", "DST_ADDR_HI", "COMMAND"}},
	0x58: {Name: "ACQUIRE_MEM", MinWords: 7, Fields: []string{"COHER_CNTL", "COHER_SIZE", "COHER_SIZE_HI", "COHER_BASE", "COHER_BASE_HI", "POLL_INTERVAL"}},
	0x59: {Name: "REWIND", MinWords: 2},
	0x5E: {Name: "LOAD_UCONFIG_REG", MinWords: 5},
	0x60: {Name: "LOAD_CONFIG_REG", MinWords: 5},
	0x61: {Name: "LOAD_CONTEXT_REG", MinWords: 5},
	0x68: {Name: "SET_CONFIG_REG", MinWords: 2, Fields: []string{"REG_OFFSET"}},
	0x69: {Name: "SET_CONTEXT_REG", MinWords: 2, Fields: []string{"REG_OFFSET"}},
	0x76: {Name: "SET_SH_REG", MinWords: 2, Fields: []string{"REG_OFFSET"}},
	0x77: {Name: "SET_SH_REG_OFFSET", MinWords: 4},
	0x79: {Name: "SET_UCONFIG_REG", MinWords: 2, Fields: []string{"REG_OFFSET"}},
	0x8B: {Name: "SWITCH_BUFFER", MinWords: 2},
	0x90: {Name: "FRAME_CONTROL", MinWords: 2, Fields: []string{"CONTROL"}},
	0x98: {Name: "INVALIDATE_TLBS", MinWords: 2, Fields: []string{"CONTROL"}},
}

// A PM4Decoder decodes type-0/2/3 packet streams. Indirect buffers are
// fetched through the accessor and decoded inline up to MaxIBDepth.
type PM4Decoder struct {
	acc  *vm.Accessor
	hub  amdgpu.Hub
	vmid int
	part int
	snap *vm.ContextSnapshot

	// MaxIBDepth bounds indirect-buffer recursion. Zero means IBs are
	// reported but not followed.
	MaxIBDepth int
}

func NewPM4Decoder(acc *vm.Accessor, hub amdgpu.Hub, vmid int) *PM4Decoder {
	return &PM4Decoder{acc: acc, hub: hub, vmid: vmid, MaxIBDepth: 4}
}

// WithSnapshot directs indirect-buffer fetches through a shadow VM
// context instead of the live registers.
func (d *PM4Decoder) WithSnapshot(s *vm.ContextSnapshot) *PM4Decoder {
	d.snap = s
	return d
}

func (d *PM4Decoder) Decode(data []byte, from uint64) ([]Packet, error) {
	return d.decode(words(data), from, d.MaxIBDepth)
}

func (d *PM4Decoder) decode(w []uint32, from uint64, depth int) ([]Packet, error) {
	var pkts []Packet

	for i := 0; i < len(w); {
		hdr := w[i]
		ptype := hdr >> 30

		var n int
		switch ptype {
		case 0, 3:
			n = int(hdr>>16&0x3FFF) + 2
		case 2:
			n = 1
		default:
			return pkts, fmt.Errorf(
				"unsupported packet type %d at 0x%x", ptype, from+uint64(i)*4)
		}

		if i+n > len(w) {
			return pkts, fmt.Errorf(
				"packet at 0x%x runs past the stream (%d words, %d left)",
				from+uint64(i)*4, n, len(w)-i)
		}

		var p Packet
		switch ptype {
		case 0:
			p = decodeType0(w[i : i+n])
		case 2:
			p = Packet{Name: "TYPE2_PAD"}
		case 3:
			p = d.decodeType3(w[i:i+n], depth)
		}

		p.Offset = from + uint64(i)*4
		p.Raw = w[i : i+n]
		pkts = append(pkts, p)

		i += n
	}

	return pkts, nil
}

func decodeType0(raw []uint32) Packet {
	p := Packet{
		Name: "TYPE0_REG_WRITE",
		Fields: []Field{
			{Name: "REG_OFFSET", Value: uint64(raw[0] & 0xFFFF)},
		},
	}

	for j, v := range raw[1:] {
		p.Fields = append(p.Fields, Field{
			Name:  fmt.Sprintf("REG+%d", j),
			Value: uint64(v),
		})
	}

	return p
}

func (d *PM4Decoder) decodeType3(raw []uint32, depth int) Packet {
	op := raw[0] >> 8 & 0xFF

	p := Packet{Opcode: op}

	info, known := pm4Opcodes[op]
	if known {
		p.Name = info.Name
	} else {
		p.Name = fmt.Sprintf("UNK_%02X", op)
	}

	payload := raw[1:]
	for j, name := range info.Fields {
		if j >= len(payload) {
			break
		}
		p.Fields = append(p.Fields, Field{Name: name, Value: uint64(payload[j])})
	}

	if len(raw) < info.MinWords {
		return p
	}

	switch op {
	case opIndirectBuffer, opIndirectBufferCnst:
		p.IB = d.followIB(payload, depth)
	case opSetShReg:
		p.Shader = shaderFromSHWrite(payload)
	}

	return p
}

// followIB fetches and decodes the indirect buffer an INDIRECT_BUFFER
// payload points at. A fetch or nested decode failure is recorded on
// the IB rather than failing the outer stream.
func (d *PM4Decoder) followIB(payload []uint32, depth int) *IndirectBuffer {
	ctrl := payload[2]

	ib := &IndirectBuffer{
		VA:   pair(payload[0]&^uint32(3), payload[1]),
		Size: uint64(ctrl&0xFFFFF) * 4,
		VMID: int(ctrl >> 24 & 0xF),
	}
	if ib.VMID == 0 {
		ib.VMID = d.vmid
	}

	if depth <= 0 {
		ib.Err = fmt.Errorf("indirect buffer depth limit reached")
		return ib
	}

	body, err := d.acc.ReadVMReq(vm.WalkRequest{
		Hub: d.hub, VMID: ib.VMID, Partition: d.part,
		VA: ib.VA, Size: ib.Size,
		Snapshot: d.snap,
	})
	if err != nil {
		ib.Err = err
		return ib
	}

	ib.Packets, ib.Err = d.decode(words(body), ib.VA, depth-1)

	return ib
}

// shaderFromSHWrite reports the shader address a SET_SH_REG payload
// establishes, when it writes both compute program address registers.
func shaderFromSHWrite(payload []uint32) *ShaderRef {
	start := shRegSpaceStart + payload[0]&0xFFFF
	vals := payload[1:]

	var lo, hi uint32
	var haveLo, haveHi bool

	for j, v := range vals {
		switch start + uint32(j) {
		case regComputePGMLo:
			lo, haveLo = v, true
		case regComputePGMHi:
			hi, haveHi = v, true
		}
	}

	if !haveLo || !haveHi {
		return nil
	}

	// The registers hold the program address in 256-byte units.
	return &ShaderRef{VA: pair(lo, hi) << 8}
}
