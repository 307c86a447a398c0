package ring

import (
	"fmt"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/vm"
)

const (
	sdmaOpNop      = 0
	sdmaOpCopy     = 1
	sdmaOpWrite    = 2
	sdmaOpIndirect = 4
)

type sdmaOpInfo struct {
	Name string

	// Words is the fixed packet length in dwords; zero means the
	// length comes from the packet body.
	Words int

	Fields []string
}

// sdmaOpcodes maps opcode|subop<<8 to its layout. Sub-opcode
// combinations outside the table stop the decode; guessing a length
// would misalign everything after the packet.
var sdmaOpcodes = map[uint32]sdmaOpInfo{
	sdmaOpNop:  {Name: "NOP"},
	sdmaOpCopy: {Name: "COPY_LINEAR", Words: 7, Fields: []string{"COUNT", "PARAMETER", "SRC_ADDR_LO", "SRC_ADDR_HI", "DST_ADDR_LO", "DST_ADDR_HI"}},
	sdmaOpCopy | 1<<8: {Name: "COPY_TILED", Words: 12},
	sdmaOpWrite:       {Name: "WRITE_LINEAR", Fields: []string{"DST_ADDR_LO", "DST_ADDR_HI", "COUNT"}},
	sdmaOpIndirect:    {Name: "INDIRECT_BUFFER", Words: 6, Fields: []string{"IB_BASE_LO", "IB_BASE_HI", "IB_SIZE", "CSA_ADDR_LO", "CSA_ADDR_HI"}},
	5:                 {Name: "FENCE", Words: 4, Fields: []string{"ADDR_LO", "ADDR_HI", "DATA"}},
	6:                 {Name: "TRAP", Words: 2, Fields: []string{"INT_CONTEXT"}},
	7:                 {Name: "SEMAPHORE", Words: 3, Fields: []string{"ADDR_LO", "ADDR_HI"}},
	8:                 {Name: "POLL_REGMEM", Words: 6, Fields: []string{"ADDR_LO", "ADDR_HI", "VALUE", "MASK", "RETRY"}},
	9:                 {Name: "COND_EXE", Words: 5, Fields: []string{"ADDR_LO", "ADDR_HI", "REFERENCE", "EXEC_COUNT"}},
	10:                {Name: "ATOMIC", Words: 9, Fields: []string{"ADDR_LO", "ADDR_HI", "SRC_DATA_LO", "SRC_DATA_HI", "CMP_DATA_LO", "CMP_DATA_HI", "LOOP_INTERVAL"}},
	11:                {Name: "CONST_FILL", Words: 5, Fields: []string{"DST_ADDR_LO", "DST_ADDR_HI", "DATA", "COUNT"}},
	12:                {Name: "GEN_PTEPDE", Words: 10},
	13:                {Name: "TIMESTAMP_SET", Words: 3, Fields: []string{"INIT_DATA_LO", "INIT_DATA_HI"}},
	13 | 1<<8:         {Name: "TIMESTAMP_GET", Words: 3, Fields: []string{"WRITE_ADDR_LO", "WRITE_ADDR_HI"}},
	13 | 2<<8:         {Name: "TIMESTAMP_GET_GLOBAL", Words: 3, Fields: []string{"WRITE_ADDR_LO", "WRITE_ADDR_HI"}},
	14:                {Name: "SRBM_WRITE", Words: 3, Fields: []string{"ADDR", "DATA"}},
	15:                {Name: "PRE_EXE", Words: 2, Fields: []string{"EXEC_COUNT"}},
	16:                {Name: "GPUVM_INV", Words: 4, Fields: []string{"PER_VMID_INV_REQ", "FLAGS", "ADDR_RANGE"}},
	17:                {Name: "GCR_REQ", Words: 5},
}

// An SDMADecoder decodes copy-engine streams. Indirect buffers carry
// SDMA packets and are fetched through the accessor like PM4 IBs.
type SDMADecoder struct {
	acc  *vm.Accessor
	hub  amdgpu.Hub
	vmid int
	part int
	snap *vm.ContextSnapshot

	MaxIBDepth int
}

func NewSDMADecoder(acc *vm.Accessor, hub amdgpu.Hub, vmid int) *SDMADecoder {
	return &SDMADecoder{acc: acc, hub: hub, vmid: vmid, MaxIBDepth: 4}
}

func (d *SDMADecoder) WithSnapshot(s *vm.ContextSnapshot) *SDMADecoder {
	d.snap = s
	return d
}

func (d *SDMADecoder) Decode(data []byte, from uint64) ([]Packet, error) {
	return d.decode(words(data), from, d.MaxIBDepth)
}

func (d *SDMADecoder) decode(w []uint32, from uint64, depth int) ([]Packet, error) {
	var pkts []Packet

	for i := 0; i < len(w); {
		hdr := w[i]
		op := hdr & 0xFF
		subop := hdr >> 8 & 0xFF

		info, known := sdmaOpcodes[op|subop<<8]

		n := info.Words
		switch {
		case op == sdmaOpNop:
			// Padding: the header's count field holds extra words.
			n = 1 + int(hdr>>16&0x3FFF)
		case op == sdmaOpWrite && subop == 0:
			// Variable: dword count lives in the fourth word.
			if i+3 >= len(w) {
				return pkts, fmt.Errorf(
					"truncated WRITE_LINEAR at 0x%x", from+uint64(i)*4)
			}
			n = 4 + int(w[i+3]&0x3FFFFF) + 1
		case !known:
			return pkts, fmt.Errorf(
				"unknown sdma opcode %d.%d at 0x%x",
				op, subop, from+uint64(i)*4)
		}

		if n <= 0 {
			return pkts, fmt.Errorf(
				"cannot size sdma packet %d.%d at 0x%x",
				op, subop, from+uint64(i)*4)
		}
		if i+n > len(w) {
			return pkts, fmt.Errorf(
				"sdma packet at 0x%x runs past the stream (%d words, %d left)",
				from+uint64(i)*4, n, len(w)-i)
		}

		p := Packet{
			Offset: from + uint64(i)*4,
			Raw:    w[i : i+n],
			Opcode: op,
		}
		if known {
			p.Name = info.Name
		} else {
			p.Name = fmt.Sprintf("UNK_%02X", op)
		}

		payload := w[i+1 : i+n]
		for j, name := range info.Fields {
			if j >= len(payload) {
				break
			}
			p.Fields = append(p.Fields, Field{Name: name, Value: uint64(payload[j])})
		}

		if op == sdmaOpIndirect && len(payload) >= 3 {
			p.IB = d.followIB(hdr, payload, depth)
		}

		pkts = append(pkts, p)

		i += n
	}

	return pkts, nil
}

func (d *SDMADecoder) followIB(hdr uint32, payload []uint32, depth int) *IndirectBuffer {
	ib := &IndirectBuffer{
		VA:   pair(payload[0]&^uint32(0x1F), payload[1]),
		Size: uint64(payload[2]&0xFFFFF) * 4,
		VMID: int(hdr >> 16 & 0xF),
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
