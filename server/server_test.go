package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/google/pprof/profile"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/devmem"
	"github.com/sarchlab/gpuprobe/regdb"
	"github.com/sarchlab/gpuprobe/userq"
	"github.com/sarchlab/gpuprobe/vm"
)

// probeDevice is a gfx11 chip made of fakes, with just enough state to
// exercise every endpoint: a register file, backing memories, and a
// programmable VM context.
type probeDevice struct {
	asic  *amdgpu.Asic
	regs  *regdb.Accessor
	vram  *devmem.Storage
	sys   *devmem.Storage
	acc   *vm.Accessor
	codec vm.EntryCodec
}

func newProbeDevice() *probeDevice {
	ver := amdgpu.IPVersion{Major: 11, Minor: 0}

	asic := amdgpu.MakeBuilder().
		WithIPBlock(amdgpu.IPBlock{Name: "gfx", Version: ver, Instances: 1}).
		WithIPBlock(amdgpu.IPBlock{
			Name: "sdma", Version: amdgpu.IPVersion{Major: 6}, Instances: 2,
		}).
		WithVRAMSize(1 << 30).
		Build("probe-gpu")

	regs := regdb.NewAccessor(regdb.Default())
	regs.BindBank("gfx", 0, regdb.NewMapMMIO())

	d := &probeDevice{
		asic:  asic,
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

func (d *probeDevice) set(name string, v uint32) {
	Expect(d.regs.Write("gfx", 0, name, v)).To(Succeed())
}

func (d *probeDevice) programContext(
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

func (d *probeDevice) writeEntry(table, idx, raw uint64) {
	Expect(d.vram.WriteUint64(table+idx*8, raw)).To(Succeed())
}

func (d *probeDevice) pde(base uint64) uint64 {
	return d.codec.EncodePDE(vm.PDEFields{Valid: true, BaseAddr: base})
}

func (d *probeDevice) pde0(base uint64, frag uint32) uint64 {
	return d.codec.EncodePDE(vm.PDEFields{
		Valid: true, BaseAddr: base, FragSize: frag,
	})
}

func (d *probeDevice) pte(pageBase uint64) uint64 {
	return d.codec.EncodePTE(vm.PTEFields{
		Valid: true, Read: true, Write: true, PageBase: pageBase,
	})
}

func sampleProfile() *profile.Profile {
	hot := &profile.Function{
		ID: 1, Name: "main.hotLoop",
		SystemName: "main.hotLoop", Filename: "main.go",
	}
	mcall := &profile.Function{
		ID: 2, Name: "runtime.mcall",
		SystemName: "runtime.mcall", Filename: "asm_amd64.s",
	}

	hotLoc := &profile.Location{
		ID: 1, Line: []profile.Line{{Function: hot, Line: 42}},
	}
	mcallLoc := &profile.Location{
		ID: 2, Line: []profile.Line{{Function: mcall, Line: 7}},
	}

	return &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		Sample: []*profile.Sample{
			{Location: []*profile.Location{hotLoc}, Value: []int64{3, 300}},
			{Location: []*profile.Location{mcallLoc, hotLoc}, Value: []int64{1, 100}},
			{Location: []*profile.Location{hotLoc}, Value: []int64{2, 200}},
		},
		Location:   []*profile.Location{hotLoc, mcallLoc},
		Function:   []*profile.Function{hot, mcall},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     10000000,
	}
}

var _ = Describe("Server", func() {
	const (
		root = uint64(0x10000)
		mid  = uint64(0x11000)
		ptb  = uint64(0x12000)
		va   = uint64(3)<<30 | uint64(5)<<21 | uint64(7)<<12
	)

	var (
		d *probeDevice
		s *Server
	)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.router().ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		d = newProbeDevice()

		s = NewServer()
		s.RegisterDevice(d.asic, d.regs, d.acc)
	})

	It("describes the asic", func() {
		rec := get("/api/asic")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp asicRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Name).To(Equal("probe-gpu"))
		Expect(rsp.GFXVersion).To(Equal("11.0.0"))
		Expect(rsp.VRAMSize).To(Equal(uint64(1 << 30)))
		Expect(rsp.Blocks).To(HaveLen(2))
		Expect(rsp.XGMI).To(BeNil())
	})

	It("reads registers", func() {
		d.set("mmCP_RB0_CNTL", 9)

		rec := get("/api/regs/gfx/0/mmCP_RB0_CNTL")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp registerRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Name).To(Equal("gfx.0.mmCP_RB0_CNTL"))
		Expect(rsp.Value).To(Equal("0x00000009"))
	})

	It("extracts register fields", func() {
		d.set("mmCP_RB0_CNTL", 9)

		rec := get("/api/regs/gfx/0/mmCP_RB0_CNTL?field=RB_BUFSZ")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp registerRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Name).To(Equal("gfx.0.mmCP_RB0_CNTL.RB_BUFSZ"))
		Expect(rsp.Value).To(Equal("0x9"))
	})

	It("reports unknown registers as not found", func() {
		rec := get("/api/regs/gfx/0/mmNOT_A_REG")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("reads memory through the vmid 0 aperture", func() {
		Expect(d.vram.Write(0x5000, []byte{0xDE, 0xAD, 0xBE, 0xEF})).
			To(Succeed())

		rec := get("/api/vm/read?va=0x5000&n=4")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp memoryRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.VA).To(Equal("0x5000"))
		Expect(rsp.Data).To(Equal("deadbeef"))
	})

	It("rejects malformed addresses", func() {
		rec := get("/api/vm/read?va=zzz")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("walks a programmed context", func() {
		d.writeEntry(root, 3, d.pde(mid))
		d.writeEntry(mid, 5, d.pde0(ptb, 0))
		d.writeEntry(ptb, 7, d.pte(0x654000))
		d.programContext(3, d.pde(root), 0, 1<<27-1, 2, 0)

		rec := get(fmt.Sprintf("/api/vm/walk?hub=gfx&vmid=3&va=0x%x&n=0x2000", va))
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp walkRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Pages).To(HaveLen(2))
		Expect(rsp.Pages[0].Loc).To(Equal("vram0:0x000000654000"))
		Expect(rsp.Pages[0].Span).To(Equal(uint64(0x1000)))
		Expect(rsp.Pages[1].Unmapped).To(BeTrue())
		Expect(rsp.Pages[1].Loc).To(BeEmpty())
		Expect(rsp.Levels).To(HaveLen(3))
		Expect(rsp.Registers).NotTo(BeEmpty())
	})

	It("decodes the gfx ring", func() {
		prog := []uint32{
			3<<30 | 2<<16 | 0x76<<8, 0x20C, 0x6540, 0x0,
			3<<30 | 3<<16 | 0x15<<8, 64, 1, 1, 1,
		}

		buf := make([]byte, 0, len(prog)*4)
		for _, w := range prog {
			buf = binary.LittleEndian.AppendUint32(buf, w)
		}
		Expect(d.vram.Write(0x20000, buf)).To(Succeed())

		d.set("mmCP_RB0_BASE", 0x200)
		d.set("mmCP_RB0_CNTL", 9)
		d.set("mmCP_RB0_WPTR", uint32(len(prog)))

		rec := get("/api/ring/gfx")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp ringRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Base).To(Equal("0x20000"))
		Expect(rsp.Size).To(Equal(uint64(4096)))
		Expect(rsp.Pending).To(Equal(uint64(len(prog) * 4)))
		Expect(rsp.Packets).To(HaveLen(2))
		Expect(rsp.Packets[0].Name).To(Equal("SET_SH_REG"))
		Expect(rsp.Packets[0].Shader).To(Equal("0x654000"))
		Expect(rsp.Packets[1].Name).To(Equal("DISPATCH_DIRECT"))
		Expect(rsp.Packets[1].Fields[0]).To(Equal(
			fieldRsp{Name: "DIM_X", Value: "0x40"}))
	})

	It("reports unknown rings as not found", func() {
		rec := get("/api/ring/bogus")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("lists user queues", func() {
		s.RegisterQueues([]userq.Queue{
			{
				ID: 1, PID: 4242, Process: "vectoradd",
				Hub: amdgpu.HubGFX, Type: userq.QueueCompute,
				RingBase: 0x7F0000200000, RingSize: 0x1000,
				Doorbell: 0x1008, MQDAddr: 0x7F0000201000,
			},
			{
				ID: 4, PID: 577, Process: "blitter",
				Hub: amdgpu.HubMM, Type: userq.QueueSDMA,
			},
		})

		rec := get("/api/userq")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp []queueRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(2))
		Expect(rsp[0].Process).To(Equal("vectoradd"))
		Expect(rsp[0].Hub).To(Equal("gfx"))
		Expect(rsp[0].Type).To(Equal("compute"))
		Expect(rsp[0].RingBase).To(Equal("0x7f0000200000"))
		Expect(rsp[1].Type).To(Equal("sdma"))
	})

	It("lists inspectable objects", func() {
		rec := get("/api/state")
		Expect(rec.Body.String()).To(Equal(`["walker","accessor"]`))
	})

	It("serializes object state", func() {
		rec := get("/api/state/walker")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.Len()).NotTo(BeZero())
	})

	It("reports unknown objects as not found", func() {
		rec := get("/api/state/nope")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(rec.Body.String()).To(Equal("Object not found"))
	})

	It("reports probe process resources", func() {
		rec := get("/api/resource")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp resourceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).NotTo(BeZero())
	})

	It("flattens an uploaded profile", func() {
		var buf bytes.Buffer
		Expect(sampleProfile().Write(&buf)).To(Succeed())

		req := httptest.NewRequest(http.MethodPost, "/api/profile", &buf)
		rec := httptest.NewRecorder()
		s.router().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))

		var entries []profileEntryRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &entries)).To(Succeed())
		Expect(entries).To(HaveLen(2))
		Expect(entries[0]).To(Equal(profileEntryRsp{
			Function: "main.hotLoop", Flat: 500, Unit: "nanoseconds",
		}))
		Expect(entries[1].Function).To(Equal("runtime.mcall"))
		Expect(entries[1].Flat).To(Equal(int64(100)))
	})

	It("rejects profile requests that are not posts", func() {
		rec := get("/api/profile")
		Expect(rec.Code).To(Equal(405))
	})
})
