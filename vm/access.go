package vm

import (
	"fmt"

	"github.com/sarchlab/gpuprobe/amdgpu"
)

// An Accessor reads and writes GPU address ranges. Most hubs walk the
// page tables for each page and move the bytes through whichever
// backend the page resolves to; the linear and process hubs skip
// translation and address their backend directly. PRT holes read as
// zeros and swallow writes, matching what the hardware does for shader
// accesses.
type Accessor struct {
	asic   *amdgpu.Asic
	walker *Walker
	router *Router
}

// Walker exposes the underlying walker for decode-only uses.
func (a *Accessor) Walker() *Walker {
	return a.walker
}

// Router exposes the physical router, for callers that already hold a
// resolved location.
func (a *Accessor) Router() *Router {
	return a.router
}

// ReadVM reads n bytes at va.
func (a *Accessor) ReadVM(
	hub amdgpu.Hub,
	vmid int,
	part int,
	va uint64,
	n uint64,
) ([]byte, error) {
	return a.ReadVMReq(WalkRequest{
		Hub: hub, VMID: vmid, Partition: part, VA: va, Size: n,
	})
}

// ReadVMReq reads req.Size bytes, honoring a snapshot if the request
// carries one.
func (a *Accessor) ReadVMReq(req WalkRequest) ([]byte, error) {
	req.DecodeOnly = false

	pages, err := a.resolve(req)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, req.Size)
	off := uint64(0)

	for _, pm := range pages {
		if !pm.PRT {
			b, err := a.router.Read(pm.Loc, pm.Span)
			if err != nil {
				return nil, classed(ClassBackend,
					req.Hub, req.VMID, pm.VA,
					fmt.Errorf("reading %s: %w", pm.Loc, err))
			}
			copy(buf[off:], b)
		}
		off += pm.Span
	}

	return buf, nil
}

// WriteVM writes data at va.
func (a *Accessor) WriteVM(
	hub amdgpu.Hub,
	vmid int,
	part int,
	va uint64,
	data []byte,
) error {
	return a.WriteVMReq(WalkRequest{
		Hub: hub, VMID: vmid, Partition: part, VA: va,
		Size: uint64(len(data)),
	}, data)
}

// WriteVMReq writes data over the range req describes.
func (a *Accessor) WriteVMReq(req WalkRequest, data []byte) error {
	req.DecodeOnly = false
	req.Size = uint64(len(data))

	pages, err := a.resolve(req)
	if err != nil {
		return err
	}

	off := uint64(0)

	for _, pm := range pages {
		if !pm.PRT {
			err := a.router.Write(pm.Loc, data[off:off+pm.Span])
			if err != nil {
				return classed(ClassBackend,
					req.Hub, req.VMID, pm.VA,
					fmt.Errorf("writing %s: %w", pm.Loc, err))
			}
		}
		off += pm.Span
	}

	return nil
}

// DecodeVM surveys a range without touching data: unmapped pages are
// reported, not failed. For the direct hubs it reports the runs a
// transfer would use.
func (a *Accessor) DecodeVM(req WalkRequest) (WalkResult, error) {
	req.DecodeOnly = true

	if pages, direct, err := a.direct(req); direct {
		if err != nil {
			return WalkResult{}, err
		}
		return WalkResult{
			Pages: pages,
			Capture: &WalkCapture{Scope: Scope{
				Hub:       req.Hub,
				VMID:      req.VMID,
				Partition: req.Partition,
				VA:        req.VA,
			}},
		}, nil
	}

	return a.walker.Walk(req)
}

// resolve produces the physical runs behind a data request. The linear
// and process hubs map one to one; every other hub walks the page
// tables.
func (a *Accessor) resolve(req WalkRequest) ([]PageMapping, error) {
	if pages, direct, err := a.direct(req); direct {
		return pages, err
	}

	res, err := a.walker.Walk(req)
	if err != nil {
		return nil, err
	}
	if res.GFXOff {
		return nil, classed(ClassGFXOff, req.Hub, req.VMID, req.VA, ErrGFXOff)
	}

	return res.Pages, nil
}

// direct handles the two untranslated hubs. Linear addresses are
// physical VRAM, split on node-segment boundaries when the chip sits
// in a hive; process addresses go straight to the client process.
// Both paths carry the hardware word granularity, so the range must
// be 4-byte aligned.
func (a *Accessor) direct(req WalkRequest) ([]PageMapping, bool, error) {
	switch req.Hub {
	case amdgpu.HubLinear, amdgpu.HubProcess:
	default:
		return nil, false, nil
	}

	if req.VA%4 != 0 || req.Size%4 != 0 {
		return nil, true, classed(ClassRegister, req.Hub, req.VMID, req.VA,
			fmt.Errorf("%s access needs 4-byte alignment: va 0x%x, size 0x%x",
				req.Hub, req.VA, req.Size))
	}

	if req.Hub == amdgpu.HubProcess {
		return []PageMapping{{
			VA:   req.VA,
			Span: req.Size,
			Loc:  Location{Space: SpaceProcess, Addr: req.VA},
		}}, true, nil
	}

	return a.linearRuns(req.VA, req.Size), true, nil
}

// linearRuns splits a physical VRAM range on hive node boundaries.
// Outside a hive the whole range belongs to node 0.
func (a *Accessor) linearRuns(addr, n uint64) []PageMapping {
	seg := a.router.SegSize()
	if seg == 0 {
		return []PageMapping{{
			VA:   addr,
			Span: n,
			Loc:  Location{Space: SpaceVRAM, Addr: addr},
		}}
	}

	var runs []PageMapping

	for n > 0 {
		local := addr % seg
		span := seg - local
		if span > n {
			span = n
		}

		runs = append(runs, PageMapping{
			VA:   addr,
			Span: span,
			Loc: Location{
				Space: SpaceVRAM,
				Node:  int(addr / seg),
				Addr:  local,
			},
		})

		addr += span
		n -= span
	}

	return runs
}

// A Builder can build accessors wired to a device's register file and
// memory backends.
type Builder struct {
	asic  *amdgpu.Asic
	regs  RegisterFile
	sys   SystemMemory
	nodes NodeMemory
	proc  ProcessMemory
	sink  EventSink
}

// MakeBuilder creates a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{sink: NopSink{}}
}

// WithAsic sets the ASIC model to translate for.
func (b Builder) WithAsic(a *amdgpu.Asic) Builder {
	b.asic = a
	return b
}

// WithRegisterFile sets where VM and MC registers are read from.
func (b Builder) WithRegisterFile(r RegisterFile) Builder {
	b.regs = r
	return b
}

// WithSystemMemory sets the bus-address backend.
func (b Builder) WithSystemMemory(m SystemMemory) Builder {
	b.sys = m
	return b
}

// WithVRAM sets a single-node local memory backend.
func (b Builder) WithVRAM(v LinearVRAM) Builder {
	b.nodes = SingleNode{VRAM: v}
	return b
}

// WithNodeMemory sets the per-node local memory backends of a hive.
func (b Builder) WithNodeMemory(n NodeMemory) Builder {
	b.nodes = n
	return b
}

// WithProcessMemory sets the client-process backend.
func (b Builder) WithProcessMemory(p ProcessMemory) Builder {
	b.proc = p
	return b
}

// WithEventSink sets where walk diagnostics go.
func (b Builder) WithEventSink(s EventSink) Builder {
	b.sink = s
	return b
}

// Build creates the Accessor. The ASIC and register file are
// mandatory; backends may be left nil when a use never routes to them.
func (b Builder) Build() *Accessor {
	if b.asic == nil {
		panic("accessor built without an asic")
	}
	if b.regs == nil {
		panic("accessor built without a register file")
	}

	router := NewRouter(b.asic, b.regs, b.sys, b.nodes, b.proc)
	walker := NewWalker(b.asic, b.regs, router, b.sink)

	return &Accessor{
		asic:   b.asic,
		walker: walker,
		router: router,
	}
}
