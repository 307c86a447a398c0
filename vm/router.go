package vm

import (
	"fmt"

	"github.com/sarchlab/gpuprobe/amdgpu"
)

// A Space names the physical backend class a translated address landed
// in.
type Space int

const (
	SpaceSystem Space = iota
	SpaceVRAM
	SpaceProcess
)

func (s Space) String() string {
	switch s {
	case SpaceSystem:
		return "sys"
	case SpaceVRAM:
		return "vram"
	case SpaceProcess:
		return "proc"
	}
	return fmt.Sprintf("space(%d)", int(s))
}

// A Location is a fully resolved physical address: which backend, which
// XGMI node for VRAM, and the backend-local address.
type Location struct {
	Space Space
	Node  int
	Addr  uint64
}

func (l Location) String() string {
	if l.Space == SpaceVRAM {
		return fmt.Sprintf("vram%d:0x%012x", l.Node, l.Addr)
	}
	return fmt.Sprintf("%s:0x%012x", l.Space, l.Addr)
}

// SingleNode wraps one LinearVRAM as the whole hive.
type SingleNode struct {
	VRAM LinearVRAM
}

func (s SingleNode) Node(i int) (LinearVRAM, error) {
	if i != 0 {
		return nil, fmt.Errorf("no vram node %d", i)
	}
	return s.VRAM, nil
}

// A Router moves bytes to and from resolved Locations. Both the walkers
// (fetching table entries) and the accessor (moving payload) go through
// the same Router, so entry fetches see exactly the routing data reads
// would.
type Router struct {
	asic  *amdgpu.Asic
	regs  RegisterFile
	sys   SystemMemory
	nodes NodeMemory
	proc  ProcessMemory

	seg         uint64
	segResolved bool
}

func NewRouter(
	asic *amdgpu.Asic,
	regs RegisterFile,
	sys SystemMemory,
	nodes NodeMemory,
	proc ProcessMemory,
) *Router {
	return &Router{
		asic:  asic,
		regs:  regs,
		sys:   sys,
		nodes: nodes,
		proc:  proc,
	}
}

func (r *Router) Read(loc Location, n uint64) ([]byte, error) {
	switch loc.Space {
	case SpaceSystem:
		if r.sys == nil {
			return nil, fmt.Errorf("no system memory backend")
		}
		return r.sys.Read(loc.Addr, n)
	case SpaceVRAM:
		node, err := r.node(loc.Node)
		if err != nil {
			return nil, err
		}
		return node.Read(loc.Addr, n)
	case SpaceProcess:
		if r.proc == nil {
			return nil, fmt.Errorf("no process memory backend")
		}
		return r.proc.Read(loc.Addr, n)
	}
	return nil, fmt.Errorf("unroutable location %s", loc)
}

func (r *Router) Write(loc Location, data []byte) error {
	switch loc.Space {
	case SpaceSystem:
		if r.sys == nil {
			return fmt.Errorf("no system memory backend")
		}
		return r.sys.Write(loc.Addr, data)
	case SpaceVRAM:
		node, err := r.node(loc.Node)
		if err != nil {
			return err
		}
		return node.Write(loc.Addr, data)
	case SpaceProcess:
		if r.proc == nil {
			return fmt.Errorf("no process memory backend")
		}
		return r.proc.Write(loc.Addr, data)
	}
	return fmt.Errorf("unroutable location %s", loc)
}

func (r *Router) node(i int) (LinearVRAM, error) {
	if r.nodes == nil {
		return nil, fmt.Errorf("no vram backend")
	}
	return r.nodes.Node(i)
}

// SegSize resolves the XGMI node segment size: an explicit override,
// then the LFB size register under its generational names, then each
// node's VRAM size rounded up to a GiB. Zero means the chip is not in a
// hive.
func (r *Router) SegSize() uint64 {
	if r.segResolved {
		return r.seg
	}
	r.segResolved = true

	x := r.asic.XGMI()
	if !x.Enabled() {
		return 0
	}

	if x.SegSize > 0 {
		r.seg = x.SegSize
		return r.seg
	}

	prefix := amdgpu.HubGFX.RegPrefix()
	v, err := r.regs.ReadAny(amdgpu.HubGFX.IP(), 0,
		prefix+"MC_VM_XGMI_LFB_SIZE",
		prefix+"MC_VM_XGMI_LFB_SIZE_ALDE",
		"regMC_VM_XGMI_LFB_SIZE")
	if err == nil && v&0xFFFF != 0 {
		r.seg = uint64(v&0xFFFF) << 24
		return r.seg
	}

	const gib = 1 << 30
	r.seg = (r.asic.VRAMSize() + gib - 1) / gib * gib

	return r.seg
}
