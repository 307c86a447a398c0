package userq_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/devmem"
	"github.com/sarchlab/gpuprobe/regdb"
	"github.com/sarchlab/gpuprobe/userq"
	"github.com/sarchlab/gpuprobe/vm"
)

// bindDevice is a gfx11 chip made of fakes, enough to program a VM
// context both ways: through the live context registers and through a
// bound queue snapshot.
type bindDevice struct {
	regs  *regdb.Accessor
	vram  *devmem.Storage
	sys   *devmem.Storage
	acc   *vm.Accessor
	codec vm.EntryCodec
}

func newBindDevice() *bindDevice {
	ver := amdgpu.IPVersion{Major: 11, Minor: 0}

	asic := amdgpu.MakeBuilder().
		WithIPBlock(amdgpu.IPBlock{Name: "gfx", Version: ver, Instances: 1}).
		WithVRAMSize(1 << 30).
		Build("bind-gpu")

	regs := regdb.NewAccessor(regdb.Default())
	regs.BindBank("gfx", 0, regdb.NewMapMMIO())

	d := &bindDevice{
		regs:  regs,
		vram:  devmem.NewStorage(1 << 30),
		sys:   devmem.NewStorage(1 << 26),
		codec: vm.CodecFor(ver),
	}

	d.acc = vm.MakeBuilder().
		WithAsic(asic).
		WithRegisterFile(regs).
		WithSystemMemory(d.sys).
		WithVRAM(d.vram).
		Build()

	d.set("mmMC_VM_FB_LOCATION_BASE", 0)
	d.set("mmMC_VM_FB_LOCATION_TOP", uint32((1<<30-1)>>24))

	return d
}

func (d *bindDevice) set(name string, v uint32) {
	Expect(d.regs.Write("gfx", 0, name, v)).To(Succeed())
}

func (d *bindDevice) programContext(
	vmid int,
	baseRaw uint64,
	firstPage, lastPage uint64,
	depth int,
	block uint32,
) {
	p := fmt.Sprintf("mmVM_CONTEXT%d_", vmid)

	d.set(p+"PAGE_TABLE_BASE_ADDR_LO32", uint32(baseRaw))
	d.set(p+"PAGE_TABLE_BASE_ADDR_HI32", uint32(baseRaw>>32))
	d.set(p+"PAGE_TABLE_START_ADDR_LO32", uint32(firstPage))
	d.set(p+"PAGE_TABLE_START_ADDR_HI32", uint32(firstPage>>32))
	d.set(p+"PAGE_TABLE_END_ADDR_LO32", uint32(lastPage))
	d.set(p+"PAGE_TABLE_END_ADDR_HI32", uint32(lastPage>>32))
	d.set(p+"CNTL", 1|uint32(depth)<<1|block<<3)
}

func (d *bindDevice) writeEntry(table, idx, raw uint64) {
	Expect(d.vram.WriteUint64(table+idx*8, raw)).To(Succeed())
}

func (d *bindDevice) pde(base uint64) uint64 {
	return d.codec.EncodePDE(vm.PDEFields{Valid: true, BaseAddr: base})
}

func (d *bindDevice) pde0(base uint64, frag uint32) uint64 {
	return d.codec.EncodePDE(vm.PDEFields{
		Valid: true, BaseAddr: base, FragSize: frag,
	})
}

func (d *bindDevice) pte(pageBase uint64) uint64 {
	return d.codec.EncodePTE(vm.PTEFields{
		Valid: true, Read: true, Write: true, PageBase: pageBase,
	})
}

var _ = Describe("Bind", func() {
	const (
		root  = uint64(0x10000)
		mid   = uint64(0x11000)
		ptb   = uint64(0x12000)
		va    = uint64(3)<<30 | uint64(5)<<21 | uint64(7)<<12
		mqdVA = uint64(3)<<30 | uint64(5)<<21 | uint64(8)<<12
	)

	var (
		d *bindDevice
		q userq.Queue
	)

	BeforeEach(func() {
		d = newBindDevice()

		d.writeEntry(root, 3, d.pde(mid))
		d.writeEntry(mid, 5, d.pde0(ptb, 0))
		d.writeEntry(ptb, 7, d.pte(0x654000))
		d.writeEntry(ptb, 8, d.pte(0x655000))

		q = userq.Queue{
			ID:            1,
			Hub:           amdgpu.HubGFX,
			Type:          userq.QueueCompute,
			MQDAddr:       mqdVA,
			PageTableBase: d.pde(root),
			VAStart:       0,
			VAEnd:         1<<39 - 1,
			Depth:         2,
			BlockSize:     0,
		}
	})

	It("walks the queue's address space without a vmid", func() {
		Expect(d.vram.Write(0x654100, []byte{1, 2, 3, 4})).To(Succeed())

		snap, err := userq.Bind(d.acc, q)
		Expect(err).NotTo(HaveOccurred())

		b, err := d.acc.ReadVMReq(vm.WalkRequest{
			Hub: amdgpu.HubUser, VA: va + 0x100, Size: 4, Snapshot: snap,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("matches a live context programmed with the same state", func() {
		d.programContext(3, q.PageTableBase, 0, 1<<27-1, 2, 0)

		snap, err := userq.Bind(d.acc, q)
		Expect(err).NotTo(HaveOccurred())

		live, err := d.acc.DecodeVM(vm.WalkRequest{
			Hub: amdgpu.HubGFX, VMID: 3, VA: va, Size: 0x2000,
		})
		Expect(err).NotTo(HaveOccurred())

		shadow, err := d.acc.DecodeVM(vm.WalkRequest{
			Hub: amdgpu.HubUser, VA: va, Size: 0x2000, Snapshot: snap,
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(shadow.Pages).To(Equal(live.Pages))
	})

	It("inherits the live fb geometry", func() {
		snap, err := userq.Bind(d.acc, q)
		Expect(err).NotTo(HaveOccurred())

		Expect(snap.FBTop).To(Equal(uint64(1<<30 - 1)))
		Expect(snap.Enabled).To(BeTrue())
		Expect(snap.PageTableBase).To(Equal(q.PageTableBase))
		Expect(snap.PageTableEnd).To(Equal(uint64(1<<39 - 1)))
		Expect(snap.Depth).To(Equal(2))
	})

	It("rejects addresses outside the queue's range", func() {
		snap, err := userq.Bind(d.acc, q)
		Expect(err).NotTo(HaveOccurred())

		_, err = d.acc.ReadVMReq(vm.WalkRequest{
			Hub: amdgpu.HubUser, VA: 1 << 40, Size: 4, Snapshot: snap,
		})
		Expect(err).To(HaveOccurred())
		Expect(vm.Classify(err)).To(Equal(vm.ClassNoMapping))
	})

	It("refuses user hub walks without a snapshot", func() {
		_, err := d.acc.ReadVM(amdgpu.HubUser, 0, 0, va, 4)

		Expect(err).To(HaveOccurred())
		Expect(vm.Classify(err)).To(Equal(vm.ClassRegister))
	})

	It("fetches and decodes the queue's descriptor", func() {
		Expect(d.vram.Write(0x655000, sampleMQD())).To(Succeed())

		snap, err := userq.Bind(d.acc, q)
		Expect(err).NotTo(HaveOccurred())

		m, err := userq.FetchMQD(d.acc, snap, q.MQDAddr)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Active).To(BeTrue())
		Expect(m.RingBase).To(Equal(uint64(0x123456700)))
		Expect(m.RingSize).To(Equal(uint64(4096)))
		Expect(m.VMID).To(Equal(5))
	})
})
