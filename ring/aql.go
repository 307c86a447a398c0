package ring

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/vm"
)

const aqlPacketBytes = 64

const (
	aqlTypeVendor         = 0
	aqlTypeInvalid        = 1
	aqlTypeKernelDispatch = 2
	aqlTypeBarrierAnd     = 3
	aqlTypeAgentDispatch  = 4
	aqlTypeBarrierOr      = 5
)

var aqlTypeNames = map[uint32]string{
	aqlTypeVendor:         "VENDOR_SPECIFIC",
	aqlTypeInvalid:        "INVALID",
	aqlTypeKernelDispatch: "KERNEL_DISPATCH",
	aqlTypeBarrierAnd:     "BARRIER_AND",
	aqlTypeAgentDispatch:  "AGENT_DISPATCH",
	aqlTypeBarrierOr:      "BARRIER_OR",
}

// AQLDecoder decodes HSA architected queuing language streams, fixed
// 64-byte packets the user-mode compute runtime submits. Kernel
// dispatches reference their kernel arguments and completion signal by
// virtual address; the decoder fetches both through the VM accessor so
// a dump shows what the shader will actually see.
type AQLDecoder struct {
	acc  *vm.Accessor
	hub  amdgpu.Hub
	vmid int
	part int
	snap *vm.ContextSnapshot

	// KernargBytes is how many kernel-argument bytes to fetch per
	// dispatch. Zero disables the fetch.
	KernargBytes uint64
}

// NewAQLDecoder returns a decoder that resolves dispatch payloads in
// the given hub and VMID.
func NewAQLDecoder(acc *vm.Accessor, hub amdgpu.Hub, vmid int) *AQLDecoder {
	return &AQLDecoder{
		acc:          acc,
		hub:          hub,
		vmid:         vmid,
		KernargBytes: 64,
	}
}

// WithSnapshot makes payload fetches translate through snap instead of
// live context registers.
func (d *AQLDecoder) WithSnapshot(snap *vm.ContextSnapshot) *AQLDecoder {
	d.snap = snap
	return d
}

// WithPartition selects the memory partition payload fetches use.
func (d *AQLDecoder) WithPartition(part int) *AQLDecoder {
	d.part = part
	return d
}

// Decode splits data into 64-byte AQL packets. from is the virtual
// address of data's first byte.
func (d *AQLDecoder) Decode(data []byte, from uint64) ([]Packet, error) {
	if len(data)%aqlPacketBytes != 0 {
		return nil, fmt.Errorf(
			"aql stream is %d bytes, not a multiple of %d",
			len(data), aqlPacketBytes)
	}

	var pkts []Packet
	for i := 0; i < len(data); i += aqlPacketBytes {
		pkts = append(pkts, d.decodeOne(data[i:i+aqlPacketBytes], from+uint64(i)))
	}
	return pkts, nil
}

func (d *AQLDecoder) decodeOne(slot []byte, at uint64) Packet {
	hdr := uint32(binary.LittleEndian.Uint16(slot))
	typ := hdr & 0xFF

	p := Packet{
		Offset: at,
		Raw:    words(slot),
		Opcode: typ,
		Name:   aqlTypeNames[typ],
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("UNK_%02X", typ)
	}

	p.Fields = append(p.Fields,
		Field{"BARRIER", uint64(hdr >> 8 & 1)},
		Field{"SCACQUIRE_SCOPE", uint64(hdr >> 9 & 3)},
		Field{"SCRELEASE_SCOPE", uint64(hdr >> 11 & 3)},
	)

	switch typ {
	case aqlTypeKernelDispatch:
		d.decodeDispatch(&p, slot)
	case aqlTypeBarrierAnd, aqlTypeBarrierOr:
		for i := 0; i < 5; i++ {
			p.Fields = append(p.Fields, Field{
				fmt.Sprintf("DEP_SIGNAL%d", i),
				binary.LittleEndian.Uint64(slot[8+8*i:]),
			})
		}
		d.signalField(&p, binary.LittleEndian.Uint64(slot[56:]))
	case aqlTypeAgentDispatch:
		p.Fields = append(p.Fields,
			Field{"TYPE", uint64(binary.LittleEndian.Uint16(slot[2:]))},
			Field{"RETURN_ADDRESS", binary.LittleEndian.Uint64(slot[8:])},
		)
		for i := 0; i < 4; i++ {
			p.Fields = append(p.Fields, Field{
				fmt.Sprintf("ARG%d", i),
				binary.LittleEndian.Uint64(slot[16+8*i:]),
			})
		}
		d.signalField(&p, binary.LittleEndian.Uint64(slot[56:]))
	}

	return p
}

func (d *AQLDecoder) decodeDispatch(p *Packet, slot []byte) {
	setup := binary.LittleEndian.Uint16(slot[2:])
	kernelObject := binary.LittleEndian.Uint64(slot[32:])
	kernarg := binary.LittleEndian.Uint64(slot[40:])

	p.Fields = append(p.Fields,
		Field{"DIMENSIONS", uint64(setup & 3)},
		Field{"WORKGROUP_SIZE_X", uint64(binary.LittleEndian.Uint16(slot[4:]))},
		Field{"WORKGROUP_SIZE_Y", uint64(binary.LittleEndian.Uint16(slot[6:]))},
		Field{"WORKGROUP_SIZE_Z", uint64(binary.LittleEndian.Uint16(slot[8:]))},
		Field{"GRID_SIZE_X", uint64(binary.LittleEndian.Uint32(slot[12:]))},
		Field{"GRID_SIZE_Y", uint64(binary.LittleEndian.Uint32(slot[16:]))},
		Field{"GRID_SIZE_Z", uint64(binary.LittleEndian.Uint32(slot[20:]))},
		Field{"PRIVATE_SEGMENT_SIZE", uint64(binary.LittleEndian.Uint32(slot[24:]))},
		Field{"GROUP_SEGMENT_SIZE", uint64(binary.LittleEndian.Uint32(slot[28:]))},
		Field{"KERNEL_OBJECT", kernelObject},
		Field{"KERNARG_ADDRESS", kernarg},
	)

	if kernelObject != 0 {
		p.Shader = &ShaderRef{VA: kernelObject}
	}

	d.signalField(p, binary.LittleEndian.Uint64(slot[56:]))

	if kernarg != 0 && d.KernargBytes > 0 {
		body, err := d.acc.ReadVMReq(vm.WalkRequest{
			Hub: d.hub, VMID: d.vmid, Partition: d.part,
			VA: kernarg, Size: d.KernargBytes,
			Snapshot: d.snap,
		})
		if err != nil {
			p.Err = fmt.Errorf("kernargs at 0x%x: %w", kernarg, err)
			return
		}
		p.Data = body
	}
}

// signalField records a completion signal handle and, when the handle
// resolves, the signal's current value. The value sits 8 bytes into
// the signal block the handle points at.
func (d *AQLDecoder) signalField(p *Packet, handle uint64) {
	p.Fields = append(p.Fields, Field{"COMPLETION_SIGNAL", handle})
	if handle == 0 {
		return
	}

	body, err := d.acc.ReadVMReq(vm.WalkRequest{
		Hub: d.hub, VMID: d.vmid, Partition: d.part,
		VA: handle + 8, Size: 8,
		Snapshot: d.snap,
	})
	if err != nil {
		return
	}
	p.Fields = append(p.Fields,
		Field{"SIGNAL_VALUE", binary.LittleEndian.Uint64(body)})
}
