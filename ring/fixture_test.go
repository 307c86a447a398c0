package ring_test

import (
	"encoding/binary"

	. "github.com/onsi/gomega"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/devmem"
	"github.com/sarchlab/gpuprobe/regdb"
	"github.com/sarchlab/gpuprobe/vm"
)

// streamVMID is the fake user context streams translate through.
const streamVMID = 8

// The fixture maps virtual [0, 2 MiB) onto VRAM starting at mapBase,
// through a flat page table sitting at flatTable.
const (
	flatTable = 0x10000
	mapBase   = 0x200000
)

// streamDevice is a fake chip for stream tests: fake register banks,
// storage-backed memory, and an accessor whose translations go through
// a context snapshot rather than live VM registers.
type streamDevice struct {
	vram *devmem.Storage
	sys  *devmem.Storage
	regs *regdb.Accessor
	acc  *vm.Accessor
	snap *vm.ContextSnapshot
}

func newStreamDevice() *streamDevice {
	asic := amdgpu.MakeBuilder().
		WithIPBlock(amdgpu.IPBlock{
			Name: "gfx", Version: amdgpu.IPVersion{Major: 11}, Instances: 1,
		}).
		WithVRAMSize(1 << 30).
		Build("stream-gpu")

	d := &streamDevice{
		vram: devmem.NewStorage(1 << 30),
		sys:  devmem.NewStorage(1 << 26),
		regs: regdb.NewAccessor(regdb.Default()),
	}
	d.regs.BindBank("gfx", 0, regdb.NewMapMMIO())
	d.regs.BindBank("sdma", 0, regdb.NewMapMMIO())

	d.acc = vm.MakeBuilder().
		WithAsic(asic).
		WithRegisterFile(d.regs).
		WithSystemMemory(d.sys).
		WithVRAM(d.vram).
		Build()

	codec := vm.CodecFor(amdgpu.IPVersion{Major: 11})
	for i := uint64(0); i < 512; i++ {
		pte := codec.EncodePTE(vm.PTEFields{
			Valid: true, Read: true, Write: true,
			PageBase: mapBase + i<<12,
		})
		err := d.vram.WriteUint64(flatTable+i*8, pte)
		Expect(err).NotTo(HaveOccurred())
	}

	d.snap = &vm.ContextSnapshot{
		PageTableBase: codec.EncodePDE(vm.PDEFields{
			Valid: true, BaseAddr: flatTable,
		}),
		PageTableEnd: 1<<21 - 1,
		Enabled:      true,
		FBTop:        1<<30 - 1,
	}

	return d
}

// fill places bytes at a virtual address covered by the flat mapping.
func (d *streamDevice) fill(va uint64, data []byte) {
	Expect(va + uint64(len(data))).To(BeNumerically("<=", 1<<21))
	err := d.vram.Write(mapBase+va, data)
	Expect(err).NotTo(HaveOccurred())
}

func (d *streamDevice) fillWords(va uint64, w ...uint32) {
	d.fill(va, dwords(w...))
}

// set programs one register in a bound fake bank.
func (d *streamDevice) set(ip string, inst int, name string, v uint32) {
	err := d.regs.Write(ip, inst, name, v)
	Expect(err).NotTo(HaveOccurred())
}

// dwords packs words little-endian, the way streams sit in memory.
func dwords(w ...uint32) []byte {
	out := make([]byte, len(w)*4)
	for i, v := range w {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}
