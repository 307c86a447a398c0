package harness_test

import (
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/harness"
	"github.com/sarchlab/gpuprobe/ring"
	"github.com/sarchlab/gpuprobe/userq"
)

func load(text string) *harness.Device {
	dev, err := harness.Load(strings.NewReader(text))
	Expect(err).NotTo(HaveOccurred())
	return dev
}

func loadErr(text string) error {
	_, err := harness.Load(strings.NewReader(text))
	Expect(err).To(HaveOccurred())
	return err
}

var _ = Describe("Device description", func() {
	It("builds the asic the [asic] section describes", func() {
		dev := load(`[asic]
name = probe-gpu
gfx = 11.0.3
block = sdma 6.0.2 2
vram = 32M
`)

		Expect(dev.Asic.Name()).To(Equal("probe-gpu"))
		Expect(dev.Asic.GFXVersion()).To(Equal(
			amdgpu.IPVersion{Major: 11, Minor: 0, Rev: 3}))
		Expect(dev.Asic.VRAMSize()).To(Equal(uint64(32 << 20)))
		Expect(dev.Asic.IsAPU()).To(BeFalse())

		sdma, ok := dev.Asic.IP("sdma")
		Expect(ok).To(BeTrue())
		Expect(sdma.Instances).To(Equal(2))
		Expect(sdma.Version).To(Equal(
			amdgpu.IPVersion{Major: 6, Minor: 0, Rev: 2}))

		Expect(dev.VRAM).To(HaveLen(1))
	})

	It("places the chip in a hive from the xgmi keys", func() {
		dev := load(`[asic]
name = hive-gpu
gfx = 9.4.2
vram = 8M
apu = false
xgmi_node = 1
xgmi_nodes = 4
xgmi_seg = 8M
`)

		Expect(dev.Asic.XGMI()).To(Equal(amdgpu.XGMIConfig{
			NodeID: 1, NumNodes: 4, SegSize: 8 << 20,
		}))
		Expect(dev.VRAM).To(HaveLen(4))
	})

	It("requires an [asic] section", func() {
		err := loadErr("[regs gfx 0]\n")
		Expect(err.Error()).To(ContainSubstring("no [asic] section"))
	})

	It("requires a name and a gfx version", func() {
		err := loadErr("[asic]\ngfx = 11.0.0\n")
		Expect(err.Error()).To(ContainSubstring("[asic] has no name"))

		err = loadErr("[asic]\nname = x\n")
		Expect(err.Error()).To(ContainSubstring("[asic] has no gfx version"))
	})

	It("rejects unknown asic keys with the offending line", func() {
		err := loadErr("[asic]\nname = x\ngfx = 11.0.0\ncolor = red\n")
		Expect(err.Error()).To(ContainSubstring(
			`line 4: unknown asic key "color"`))
	})

	It("rejects free-standing lines outside a section", func() {
		err := loadErr("name = x\n")
		Expect(err.Error()).To(ContainSubstring("outside a section"))
	})
})

var _ = Describe("Register state", func() {
	const asic = `[asic]
name = reg-gpu
gfx = 11.0.0
block = sdma 6.0.2 2
vram = 1M
`

	It("binds a bank per declared instance and applies [regs]", func() {
		dev := load(asic + `
[regs gfx 0]
mmCP_RB0_BASE = 0x200

[regs sdma 1]
mmSDMA0_GFX_RB_CNTL = 0x10
`)

		v, err := dev.Regs.Read("gfx", 0, "mmCP_RB0_BASE")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(0x200)))

		v, err = dev.Regs.Read("sdma", 1, "mmSDMA0_GFX_RB_CNTL")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(0x10)))

		v, err = dev.Regs.Read("sdma", 0, "mmSDMA0_GFX_RB_CNTL")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeZero())
	})

	It("extends the database through [regdb]", func() {
		dev := load(asic + `
[regdb gfx]
mmPROBE_TEST = 0x9000 STATE 0 3 MODE 4 7

[regs gfx 0]
mmPROBE_TEST = 0x37
`)

		v, err := dev.Regs.ReadField("gfx", 0, "mmPROBE_TEST", "MODE")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(3)))

		v, err = dev.Regs.ReadField("gfx", 0, "mmPROBE_TEST", "STATE")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(7)))
	})

	It("rejects redefining a register", func() {
		err := loadErr(asic + `
[regdb gfx]
mmPROBE_A = 0x9000
mmPROBE_A = 0x9004
`)
		Expect(err.Error()).To(ContainSubstring(
			"register gfx.mmPROBE_A is already defined"))
	})

	It("rejects values for registers the database does not know", func() {
		err := loadErr(asic + `
[regs gfx 0]
mmNOT_A_REG = 1
`)
		Expect(err.Error()).To(ContainSubstring(
			"register gfx.mmNOT_A_REG: not found"))
	})

	It("rejects values for undeclared register banks", func() {
		err := loadErr(asic + `
[regs sdma 5]
mmSDMA0_GFX_RB_CNTL = 1
`)
		Expect(err.Error()).To(ContainSubstring(
			"no register bank bound for sdma[5]"))
	})
})

var _ = Describe("Memory images", func() {
	const asic = `[asic]
name = mem-gpu
gfx = 11.0.0
vram = 1M
xgmi_node = 0
xgmi_nodes = 2
`

	It("loads hex dumps into system memory and vram nodes", func() {
		dev := load(asic + `
[sysmem]
1000: cafe f00d

[vram]
0x2000: 01 02 03

[vram 1]
2000: aa bb
`)

		b, err := dev.Sys.Read(0x1000, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal([]byte{0xca, 0xfe, 0xf0, 0x0d}))

		b, err = dev.VRAM[0].Read(0x2000, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal([]byte{1, 2, 3}))

		b, err = dev.VRAM[1].Read(0x2000, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal([]byte{0xaa, 0xbb}))
	})

	It("rejects images for vram nodes the chip does not have", func() {
		err := loadErr(asic + "\n[vram 3]\n0: 00\n")
		Expect(err.Error()).To(ContainSubstring("no vram node 3 on mem-gpu"))
	})

	It("rejects malformed dump lines with the offending line", func() {
		err := loadErr(asic + "\n[vram]\n1000: zz\n")
		Expect(err.Error()).To(ContainSubstring("line 9"))
	})
})

// queueFixture is a device with a one-level user page table: VA
// 0x7f0000000000 plus offset maps through the table at 0x10000. Queue 1
// is a plain compute ring holding one PM4 packet, queue 2 is overridden
// by its descriptor below, and queue 3 feeds a copy engine.
const queueFixture = `[asic]
name = queue-gpu
gfx = 11.0.0
vram = 1M

[vram]
# pte[0x200] -> 0x30000, pte[0x201] -> 0x32000, pte[0x300] -> 0x31000
11000: 71000300 00000000 71200300 00000000
11800: 71100300 00000000
# clear_state, then the wptr cells and one aql dispatch
30000: 001200c0 00000000
31008: 02000000 00000000
31018: 01000000 00000000
32000: 02000100 00010000 00000000 00040000
32020: 00802000 007f0000

[userq]
queue 1:
  process: 4242 (torchrun)
  hub: gfx
  type: compute
  ring_base: 0x7f0000200000
  ring_size: 0x1000
  rptr_addr: 0x7f0000300000
  wptr_addr: 0x7f0000300008
  page_table_base: 0x10001
  va_start: 0x7f0000000000
  va_end: 0x7f00ffffffff
queue 2:
  process: 4242 (torchrun)
  hub: gfx
  type: compute
  ring_base: 0x7f0000200000
  ring_size: 0x1000
  rptr_addr: 0x7f0000300000
  wptr_addr: 0x7f0000300008
  page_table_base: 0x10001
  va_start: 0x7f0000000000
  va_end: 0x7f00ffffffff
queue 3:
  process: 977 (dmabench)
  hub: gfx
  type: sdma
  ring_base: 0x7f0000200000
  ring_size: 0x1000
  rptr_addr: 0x7f0000300020
  wptr_addr: 0x7f0000300028
  page_table_base: 0x10001
  va_start: 0x7f0000000000
  va_end: 0x7f00ffffffff
`

// mqdDump renders a descriptor image in the debugfs dump format, with
// the given dwords set and everything else zero.
func mqdDump(set map[int]uint32) string {
	img := make([]uint32, 184)
	for i, v := range set {
		img[i] = v
	}

	var b strings.Builder
	for off := 0; off < len(img); off += 4 {
		fmt.Fprintf(&b, "%x: %08x %08x %08x %08x\n",
			off*4, img[off], img[off+1], img[off+2], img[off+3])
	}
	return b.String()
}

var _ = Describe("User queues", func() {
	var dev *harness.Device

	BeforeEach(func() {
		// Queue 2's descriptor: active AQL queue, ring at VA
		// 0x7f0000201000, pointers next to queue 1's.
		mqd := mqdDump(map[int]uint32{
			128: 0x00400000, 129: 0x00007f00, // base addr
			130: 1,
			136: 0x00002010, 137: 0x0000007f, // pq base >> 8
			139: 0x00300010, 140: 0x00007f00, // rptr report
			141: 0x00300018, 142: 0x00007f00, // wptr poll
			145: 9, // 1024-dword ring
			181: 1, // aql
		})

		dev = load(queueFixture + "\n[mqd 2]\n" + mqd)
	})

	It("loads the queue list and the descriptor images", func() {
		Expect(dev.Queues).To(HaveLen(3))

		q, ok := dev.Queue(3)
		Expect(ok).To(BeTrue())
		Expect(q.Type).To(Equal(userq.QueueSDMA))
		Expect(q.Process).To(Equal("dmabench"))

		m := dev.MQDs[2]
		Expect(m).NotTo(BeNil())
		Expect(m.Active).To(BeTrue())
		Expect(m.AQL).To(BeTrue())
		Expect(m.BaseAddr).To(Equal(uint64(0x7f0000400000)))
		Expect(m.RingBase).To(Equal(uint64(0x7f0000201000)))
		Expect(m.RingSize).To(Equal(uint64(0x1000)))
	})

	It("resolves a ring from the queue record", func() {
		r, err := dev.QueueRing(1)
		Expect(err).NotTo(HaveOccurred())

		Expect(r.Name).To(Equal("userq1"))
		Expect(r.Hub).To(Equal(amdgpu.HubUser))
		Expect(r.Base).To(Equal(uint64(0x7f0000200000)))
		Expect(r.Size).To(Equal(uint64(0x1000)))
		Expect(r.Rptr).To(BeZero())
		Expect(r.Wptr).To(Equal(uint64(8)))

		data, from, err := dev.Rings.Window(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(from).To(Equal(r.Base))
		Expect(data).To(Equal([]byte{0x00, 0x12, 0x00, 0xc0, 0, 0, 0, 0}))
	})

	It("lets the descriptor override the queue record", func() {
		r, err := dev.QueueRing(2)
		Expect(err).NotTo(HaveOccurred())

		Expect(r.Base).To(Equal(uint64(0x7f0000201000)))
		Expect(r.Size).To(Equal(uint64(0x1000)))
		Expect(r.Rptr).To(BeZero())

		// One AQL packet slot pending: the wptr cell holds 1, scaled
		// by the 64-byte slot stride.
		Expect(r.Wptr).To(Equal(uint64(64)))
	})

	It("pairs each queue with its stream decoder", func() {
		_, dec, err := dev.QueueStream(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(dec).To(BeAssignableToTypeOf(&ring.PM4Decoder{}))

		_, dec, err = dev.QueueStream(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(dec).To(BeAssignableToTypeOf(&ring.AQLDecoder{}))

		_, dec, err = dev.QueueStream(3)
		Expect(err).NotTo(HaveOccurred())
		Expect(dec).To(BeAssignableToTypeOf(&ring.SDMADecoder{}))
	})

	It("decodes the pending window of a pm4 queue", func() {
		r, dec, err := dev.QueueStream(1)
		Expect(err).NotTo(HaveOccurred())

		data, from, err := dev.Rings.Window(r)
		Expect(err).NotTo(HaveOccurred())

		pkts, err := dec.Decode(data, from)
		Expect(err).NotTo(HaveOccurred())
		Expect(pkts).To(HaveLen(1))
		Expect(pkts[0].Name).To(Equal("CLEAR_STATE"))
		Expect(pkts[0].Offset).To(Equal(uint64(0x7f0000200000)))
	})

	It("decodes the pending window of an aql queue", func() {
		r, dec, err := dev.QueueStream(2)
		Expect(err).NotTo(HaveOccurred())

		data, from, err := dev.Rings.Window(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(HaveLen(64))

		pkts, err := dec.Decode(data, from)
		Expect(err).NotTo(HaveOccurred())
		Expect(pkts).To(HaveLen(1))
		Expect(pkts[0].Name).To(Equal("KERNEL_DISPATCH"))
		Expect(pkts[0].Shader).NotTo(BeNil())
		Expect(pkts[0].Shader.VA).To(Equal(uint64(0x7f0000208000)))
		Expect(fieldValue(pkts[0], "WORKGROUP_SIZE_X")).To(Equal(uint64(0x100)))
		Expect(fieldValue(pkts[0], "GRID_SIZE_X")).To(Equal(uint64(0x400)))
	})

	It("rejects unknown queue ids", func() {
		_, err := dev.QueueRing(9)
		Expect(err).To(MatchError("no user queue 9"))
	})
})

func fieldValue(p ring.Packet, name string) uint64 {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	Fail("packet has no field " + name)
	return 0
}
