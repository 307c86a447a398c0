package ring_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/ring"
)

var _ = Describe("RingReader", func() {
	var (
		d  *streamDevice
		rr *ring.RingReader
	)

	BeforeEach(func() {
		d = newStreamDevice()
		rr = ring.NewRingReader(d.acc, d.regs)
	})

	Context("cp ring", func() {
		BeforeEach(func() {
			// 4 KiB ring at VA 0x3000, resolved physically through
			// the VMID 0 fb window.
			d.set("gfx", 0, "mmCP_RB0_BASE", 0x30)
			d.set("gfx", 0, "mmCP_RB0_CNTL", 9)
		})

		It("resolves geometry from registers", func() {
			d.set("gfx", 0, "mmCP_RB0_RPTR", 4)
			d.set("gfx", 0, "mmCP_RB0_WPTR", 7)

			r, err := rr.KernelRing("gfx")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Base).To(Equal(uint64(0x3000)))
			Expect(r.Size).To(Equal(uint64(4096)))
			Expect(r.Rptr).To(Equal(uint64(16)))
			Expect(r.Wptr).To(Equal(uint64(28)))
			Expect(r.Pending()).To(Equal(uint64(12)))
			Expect(r.VMID).To(Equal(0))
		})

		It("masks a free-running write pointer", func() {
			d.set("gfx", 0, "mmCP_RB0_WPTR", 0)
			d.set("gfx", 0, "mmCP_RB0_WPTR_HI", 2)

			r, err := rr.KernelRing("gfx")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Wptr).To(Equal(uint64(0)))
		})

		It("reads the pending window and decodes it", func() {
			d.set("gfx", 0, "mmCP_RB0_RPTR", 4)
			d.set("gfx", 0, "mmCP_RB0_WPTR", 7)

			content := dwords(t3(0x10, 3), 1, 2)
			Expect(d.vram.Write(0x3010, content)).To(Succeed())

			r, err := rr.KernelRing("gfx")
			Expect(err).NotTo(HaveOccurred())

			body, from, err := rr.Window(r)
			Expect(err).NotTo(HaveOccurred())
			Expect(from).To(Equal(uint64(0x3010)))
			Expect(body).To(Equal(content))

			pkts, err := ring.NewPM4Decoder(d.acc, amdgpu.HubGFX, 0).
				Decode(body, from)
			Expect(err).NotTo(HaveOccurred())
			Expect(pkts).To(HaveLen(1))
			Expect(pkts[0].Name).To(Equal("NOP"))
			Expect(pkts[0].Offset).To(Equal(uint64(0x3010)))
		})

		It("returns an empty window when the pointers meet", func() {
			d.set("gfx", 0, "mmCP_RB0_RPTR", 5)
			d.set("gfx", 0, "mmCP_RB0_WPTR", 5)

			r, err := rr.KernelRing("gfx")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Pending()).To(Equal(uint64(0)))

			body, _, err := rr.Window(r)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(BeEmpty())
		})

		It("linearizes a wrapped window", func() {
			d.set("gfx", 0, "mmCP_RB0_RPTR", 1022)
			d.set("gfx", 0, "mmCP_RB0_WPTR", 1026)

			head := dwords(0x11, 0x22)
			tail := dwords(0x33, 0x44)
			Expect(d.vram.Write(0x3000+4088, head)).To(Succeed())
			Expect(d.vram.Write(0x3000, tail)).To(Succeed())

			r, err := rr.KernelRing("gfx")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Pending()).To(Equal(uint64(16)))

			body, from, err := rr.Window(r)
			Expect(err).NotTo(HaveOccurred())
			Expect(from).To(Equal(uint64(0x3000 + 4088)))
			Expect(body).To(Equal(append(head, tail...)))
		})
	})

	Context("sdma ring", func() {
		It("resolves geometry from registers", func() {
			d.set("sdma", 0, "mmSDMA0_GFX_RB_BASE", 0x50)
			d.set("sdma", 0, "mmSDMA0_GFX_RB_CNTL", 10<<1)
			d.set("sdma", 0, "mmSDMA0_GFX_RB_RPTR", 0x20)
			d.set("sdma", 0, "mmSDMA0_GFX_RB_WPTR", 0x30)

			r, err := rr.KernelRing("sdma0")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Base).To(Equal(uint64(0x5000)))
			Expect(r.Size).To(Equal(uint64(4096)))
			Expect(r.Rptr).To(Equal(uint64(0x20)))
			Expect(r.Wptr).To(Equal(uint64(0x30)))
		})

		It("fails on an unbound instance", func() {
			_, err := rr.KernelRing("sdma1")
			Expect(err).To(HaveOccurred())
		})
	})

	It("rejects unknown ring names", func() {
		_, err := rr.KernelRing("vcn0")
		Expect(err).To(MatchError(ContainSubstring("unknown ring")))

		_, err = rr.KernelRing("sdmaX")
		Expect(err).To(HaveOccurred())
	})

	Context("memory ring", func() {
		It("fetches pointers through the accessor", func() {
			ptr := make([]byte, 8)
			binary.LittleEndian.PutUint64(ptr, 2)
			d.fill(0x60000, ptr)
			binary.LittleEndian.PutUint64(ptr, 5)
			d.fill(0x60008, ptr)

			r, err := rr.MemoryRing(
				"aql0", amdgpu.HubGFX, streamVMID, d.snap,
				0x40000, 0x1000, 0x60000, 0x60008, 64)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Rptr).To(Equal(uint64(128)))
			Expect(r.Wptr).To(Equal(uint64(320)))

			want := make([]byte, 192)
			for i := range want {
				want[i] = byte(i + 1)
			}
			d.fill(0x40000+128, want)

			body, from, err := rr.Window(r)
			Expect(err).NotTo(HaveOccurred())
			Expect(from).To(Equal(uint64(0x40000 + 128)))
			Expect(body).To(Equal(want))
		})

		It("rejects sizes that are not powers of two", func() {
			_, err := rr.MemoryRing(
				"bad", amdgpu.HubGFX, streamVMID, d.snap,
				0x40000, 0xC00, 0x60000, 0x60008, 4)
			Expect(err).To(MatchError(ContainSubstring("power of two")))
		})
	})
})
