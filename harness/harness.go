// Package harness builds a fully wired fake device from a text
// description: the ASIC shape, register values, memory images, and user
// queues. The CLI and the server run against a harness file exactly as
// they would against a live device, and integration tests load their
// fixtures through it.
package harness

import (
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/devmem"
	"github.com/sarchlab/gpuprobe/regdb"
	"github.com/sarchlab/gpuprobe/ring"
	"github.com/sarchlab/gpuprobe/userq"
	"github.com/sarchlab/gpuprobe/vm"
)

// sysMemCapacity bounds the fake bus address space. System pages are
// sparse, so the capacity costs nothing until a page is touched.
const sysMemCapacity = 1 << 40

// A Device is the object graph a harness file describes. The probe
// layers on top read it exactly as they would read hardware.
type Device struct {
	Asic *amdgpu.Asic
	Regs *regdb.Accessor
	Sys  *devmem.Storage
	VRAM []*devmem.Storage

	Acc    *vm.Accessor
	Rings  *ring.RingReader
	Queues []userq.Queue
	MQDs   map[int]*userq.MQD
}

// A Builder can build harness devices.
type Builder struct {
	sink vm.EventSink
}

// MakeBuilder creates a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{sink: vm.NopSink{}}
}

// WithEventSink sets where the device's walk diagnostics go.
func (b Builder) WithEventSink(s vm.EventSink) Builder {
	b.sink = s
	return b
}

// Load builds the device a harness file describes.
func (b Builder) Load(r io.Reader) (*Device, error) {
	sections, err := parseSections(r)
	if err != nil {
		return nil, err
	}

	d := &Device{MQDs: make(map[int]*userq.MQD)}

	if err := d.buildAsic(sections); err != nil {
		return nil, err
	}
	if err := d.buildRegs(sections); err != nil {
		return nil, err
	}
	if err := d.buildMemory(sections); err != nil {
		return nil, err
	}
	if err := d.buildQueues(sections); err != nil {
		return nil, err
	}

	d.Acc = vm.MakeBuilder().
		WithAsic(d.Asic).
		WithRegisterFile(d.Regs).
		WithSystemMemory(d.Sys).
		WithNodeMemory(nodeSet(d.VRAM)).
		WithEventSink(b.sink).
		Build()
	d.Rings = ring.NewRingReader(d.Acc, d.Regs)

	return d, nil
}

// LoadFile builds the device described by the harness file at path.
func (b Builder) LoadFile(path string) (*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := b.Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return d, nil
}

// Load builds a device with default wiring.
func Load(r io.Reader) (*Device, error) {
	return MakeBuilder().Load(r)
}

// LoadFile builds a device from a file with default wiring.
func LoadFile(path string) (*Device, error) {
	return MakeBuilder().LoadFile(path)
}

func (d *Device) buildAsic(sections []section) error {
	s, ok := findSection(sections, "asic")
	if !ok {
		return fmt.Errorf("harness file has no [asic] section")
	}

	b := amdgpu.MakeBuilder()

	var (
		name     string
		haveGFX  bool
		nodeID   int
		numNodes int
		segSize  uint64
	)

	for _, ln := range s.body {
		key, value, err := keyValue(ln)
		if err != nil {
			return err
		}

		switch key {
		case "name":
			name = value

		case "gfx":
			v, err := amdgpu.ParseIPVersion(value)
			if err != nil {
				return fmt.Errorf("line %d: %w", ln.no, err)
			}
			b = b.WithIPBlock(amdgpu.IPBlock{
				Name: "gfx", Version: v, Instances: 1,
			})
			haveGFX = true

		case "block":
			blk, err := parseBlock(value)
			if err != nil {
				return fmt.Errorf("line %d: %w", ln.no, err)
			}
			if blk.Name == "gfx" {
				haveGFX = true
			}
			b = b.WithIPBlock(blk)

		case "vram":
			n, err := parseSize(value)
			if err != nil {
				return fmt.Errorf("line %d: %w", ln.no, err)
			}
			b = b.WithVRAMSize(n)

		case "apu":
			on, err := parseBool(value)
			if err != nil {
				return fmt.Errorf("line %d: %w", ln.no, err)
			}
			if on {
				b = b.WithAPU()
			}

		case "xgmi_node":
			n, err := parseInt(value)
			if err != nil {
				return fmt.Errorf("line %d: %w", ln.no, err)
			}
			nodeID = n

		case "xgmi_nodes":
			n, err := parseInt(value)
			if err != nil {
				return fmt.Errorf("line %d: %w", ln.no, err)
			}
			numNodes = n

		case "xgmi_seg":
			n, err := parseSize(value)
			if err != nil {
				return fmt.Errorf("line %d: %w", ln.no, err)
			}
			segSize = n

		default:
			return fmt.Errorf("line %d: unknown asic key %q", ln.no, key)
		}
	}

	if name == "" {
		return fmt.Errorf("line %d: [asic] has no name", s.no)
	}
	if !haveGFX {
		return fmt.Errorf("line %d: [asic] has no gfx version", s.no)
	}

	if numNodes > 1 {
		b = b.WithXGMI(nodeID, numNodes)
	}
	if segSize > 0 {
		b = b.WithXGMISegSize(segSize)
	}

	d.Asic = b.Build(name)

	return nil
}

// buildRegs creates the register database and one map-backed MMIO bank
// per declared IP instance, then applies [regdb] additions and [regs]
// values.
func (d *Device) buildRegs(sections []section) error {
	db := regdb.Default()
	d.Regs = regdb.NewAccessor(db)

	for _, blk := range d.Asic.Blocks() {
		insts := blk.Instances
		if insts < 1 {
			insts = 1
		}
		for i := 0; i < insts; i++ {
			d.Regs.BindBank(blk.Name, i, regdb.NewMapMMIO())
		}
	}

	for _, s := range sections {
		if s.name != "regdb" {
			continue
		}
		if len(s.args) != 1 {
			return fmt.Errorf("line %d: [regdb] needs an ip name", s.no)
		}
		if err := addRegisters(db, s.args[0], s.body); err != nil {
			return err
		}
	}

	for _, s := range sections {
		if s.name != "regs" {
			continue
		}

		ip, inst, err := regsTarget(s)
		if err != nil {
			return err
		}

		for _, ln := range s.body {
			key, value, err := keyValue(ln)
			if err != nil {
				return err
			}

			v, err := parseReg32(value)
			if err != nil {
				return fmt.Errorf("line %d: %w", ln.no, err)
			}
			if err := d.Regs.Write(ip, inst, key, v); err != nil {
				return fmt.Errorf("line %d: %w", ln.no, err)
			}
		}
	}

	return nil
}

func (d *Device) buildMemory(sections []section) error {
	d.Sys = devmem.NewStorage(sysMemCapacity)

	nodes := d.Asic.XGMI().NumNodes
	if nodes < 1 {
		nodes = 1
	}
	d.VRAM = make([]*devmem.Storage, nodes)
	for i := range d.VRAM {
		d.VRAM[i] = devmem.NewStorage(d.Asic.VRAMSize())
	}

	for _, s := range sections {
		switch s.name {
		case "sysmem":
			if err := loadImage(d.Sys, s); err != nil {
				return err
			}

		case "vram":
			node := 0
			if len(s.args) > 0 {
				n, err := parseInt(s.args[0])
				if err != nil {
					return fmt.Errorf("line %d: %w", s.no, err)
				}
				node = n
			}
			if node < 0 || node >= len(d.VRAM) {
				return fmt.Errorf(
					"line %d: no vram node %d on %s", s.no, node, d.Asic.Name())
			}
			if err := loadImage(d.VRAM[node], s); err != nil {
				return err
			}
		}
	}

	return nil
}

func (d *Device) buildQueues(sections []section) error {
	for _, s := range sections {
		switch s.name {
		case "userq":
			queues, err := userq.List(sectionReader(s))
			if err != nil {
				return fmt.Errorf("line %d: %w", s.no, err)
			}
			d.Queues = append(d.Queues, queues...)

		case "mqd":
			if len(s.args) != 1 {
				return fmt.Errorf("line %d: [mqd] needs a queue id", s.no)
			}
			id, err := parseInt(s.args[0])
			if err != nil {
				return fmt.Errorf("line %d: %w", s.no, err)
			}

			img, err := userq.ParseMQDDump(sectionReader(s))
			if err != nil {
				return fmt.Errorf("line %d: %w", s.no, err)
			}
			m, err := userq.DecodeMQD(img)
			if err != nil {
				return fmt.Errorf("line %d: %w", s.no, err)
			}

			d.MQDs[id] = &m
		}
	}

	return nil
}

// Queue looks up a loaded user queue by id.
func (d *Device) Queue(id int) (userq.Queue, bool) {
	return userq.Find(d.Queues, id)
}

// QueueRing resolves a user queue's ring through its bound VM context.
// When the harness carries the queue's descriptor image, the descriptor
// supplies the ring geometry and pointer addresses; otherwise the queue
// record does.
func (d *Device) QueueRing(id int) (ring.Ring, error) {
	q, ok := userq.Find(d.Queues, id)
	if !ok {
		return ring.Ring{}, fmt.Errorf("no user queue %d", id)
	}

	snap, err := userq.Bind(d.Acc, q)
	if err != nil {
		return ring.Ring{}, err
	}

	base, size := q.RingBase, q.RingSize
	rptrVA, wptrVA := q.RptrAddr, q.WptrAddr
	unit := q.Type.PointerUnit()

	if m := d.MQDs[q.ID]; m != nil {
		base, size = m.RingBase, m.RingSize
		if m.RptrReportAddr != 0 {
			rptrVA = m.RptrReportAddr
		}
		if m.WptrPollAddr != 0 {
			wptrVA = m.WptrPollAddr
		}
		if m.AQL {
			unit = 64
		}
	}

	name := fmt.Sprintf("userq%d", q.ID)

	return d.Rings.MemoryRing(
		name, amdgpu.HubUser, 0, snap, base, size, rptrVA, wptrVA, unit)
}

// QueueStream resolves a queue's ring and the decoder its content
// needs: SDMA queues carry SDMA streams, AQL queues carry HSA packets,
// everything else is PM4. The decoder fetches indirect content through
// the same shadow context as the ring.
func (d *Device) QueueStream(id int) (ring.Ring, ring.Decoder, error) {
	r, err := d.QueueRing(id)
	if err != nil {
		return ring.Ring{}, nil, err
	}

	q, _ := userq.Find(d.Queues, id)
	m := d.MQDs[id]

	var dec ring.Decoder
	switch {
	case q.Type == userq.QueueSDMA:
		dec = ring.NewSDMADecoder(d.Acc, r.Hub, r.VMID).WithSnapshot(r.Snapshot)
	case m != nil && m.AQL:
		dec = ring.NewAQLDecoder(d.Acc, r.Hub, r.VMID).WithSnapshot(r.Snapshot)
	default:
		dec = ring.NewPM4Decoder(d.Acc, r.Hub, r.VMID).WithSnapshot(r.Snapshot)
	}

	return r, dec, nil
}

// nodeSet serves the per-node VRAM images as a hive.
type nodeSet []*devmem.Storage

func (n nodeSet) Node(i int) (vm.LinearVRAM, error) {
	if i < 0 || i >= len(n) {
		return nil, fmt.Errorf("no vram node %d", i)
	}
	return n[i], nil
}
