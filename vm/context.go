package vm

import "fmt"

// A ContextSnapshot is the register state one walk runs against:
// everything the hardware would latch for a translation. Walks against
// live hubs harvest one from the register file; user-queue walks run
// against a snapshot the queue binder programs directly.
type ContextSnapshot struct {
	// PageTableBase is the raw base register pair. It is decoded as
	// the root directory entry, flags included.
	PageTableBase uint64

	// PageTableStart and PageTableEnd bound the covered virtual range
	// in bytes, end inclusive.
	PageTableStart uint64
	PageTableEnd   uint64

	Depth     int
	BlockSize uint32
	Enabled   bool

	// MC aperture geometry. Tops are inclusive.
	FBBase   uint64
	FBTop    uint64
	FBOffset uint64
	AGPBase  uint64
	AGPBot   uint64
	AGPTop   uint64

	ApertureLow  uint64
	ApertureHigh uint64

	// SystemAccessMode decides which VMID-0 addresses are physical and
	// which go through the tables, keyed off the system aperture.
	SystemAccessMode uint32
}

// GFXOff reports the all-ones base value a power-gated core returns.
func (s ContextSnapshot) GFXOff() bool {
	return s.PageTableBase == ^uint64(0)
}

// ZFB reports the zero-frame-buffer overlay: a frame buffer whose top
// sits below its base has no VRAM window of its own, and physical
// addresses inside the AGP window belong to system memory.
func (s ContextSnapshot) ZFB() bool {
	return s.FBTop < s.FBBase
}

// Covers reports whether va falls inside the context's range.
func (s ContextSnapshot) Covers(va uint64) bool {
	return va >= s.PageTableStart && va <= s.PageTableEnd
}

// harvestContext reads the VM context registers of one hub/vmid pair.
// Every raw value read is reported to the sink.
func harvestContext(
	regs RegisterFile,
	scope Scope,
	sink EventSink,
) (ContextSnapshot, error) {
	h := harvester{regs: regs, scope: scope, sink: sink}

	ip := scope.Hub.IP()
	prefix := scope.Hub.RegPrefix()
	inst := scope.Partition
	ctx := scope.VMID

	var s ContextSnapshot

	s.PageTableBase = h.read64(ip, inst,
		fmt.Sprintf("%sVM_CONTEXT%d_PAGE_TABLE_BASE_ADDR_LO32", prefix, ctx),
		fmt.Sprintf("%sVM_CONTEXT%d_PAGE_TABLE_BASE_ADDR_HI32", prefix, ctx))

	start := h.read64(ip, inst,
		fmt.Sprintf("%sVM_CONTEXT%d_PAGE_TABLE_START_ADDR_LO32", prefix, ctx),
		fmt.Sprintf("%sVM_CONTEXT%d_PAGE_TABLE_START_ADDR_HI32", prefix, ctx))
	end := h.read64(ip, inst,
		fmt.Sprintf("%sVM_CONTEXT%d_PAGE_TABLE_END_ADDR_LO32", prefix, ctx),
		fmt.Sprintf("%sVM_CONTEXT%d_PAGE_TABLE_END_ADDR_HI32", prefix, ctx))
	s.PageTableStart = start << 12
	s.PageTableEnd = end<<12 | 0xFFF

	cntl := fmt.Sprintf("%sVM_CONTEXT%d_CNTL", prefix, ctx)
	s.Enabled = h.readField(ip, inst, cntl, "ENABLE_CONTEXT") != 0
	s.Depth = int(h.readField(ip, inst, cntl, "PAGE_TABLE_DEPTH"))
	s.BlockSize = h.readField(ip, inst, cntl, "PAGE_TABLE_BLOCK_SIZE")

	s.FBBase = uint64(h.read(ip, inst, prefix+"MC_VM_FB_LOCATION_BASE")) << 24
	s.FBTop = uint64(h.read(ip, inst, prefix+"MC_VM_FB_LOCATION_TOP"))<<24 |
		0xFFFFFF
	s.FBOffset = uint64(h.read(ip, inst, prefix+"MC_VM_FB_OFFSET")) << 22

	s.AGPBase = uint64(h.read(ip, inst, prefix+"MC_VM_AGP_BASE")) << 24
	s.AGPBot = uint64(h.read(ip, inst, prefix+"MC_VM_AGP_BOT")) << 24
	s.AGPTop = uint64(h.read(ip, inst, prefix+"MC_VM_AGP_TOP"))<<24 | 0xFFFFFF

	s.ApertureLow = uint64(h.read(ip, inst,
		prefix+"MC_VM_SYSTEM_APERTURE_LOW_ADDR")) << 18
	s.ApertureHigh = uint64(h.read(ip, inst,
		prefix+"MC_VM_SYSTEM_APERTURE_HIGH_ADDR"))<<18 | 0x3FFFF

	s.SystemAccessMode = h.readField(ip, inst,
		prefix+"MC_VM_MX_L1_TLB_CNTL", "SYSTEM_ACCESS_MODE")

	if h.err != nil {
		return ContextSnapshot{}, classed(ClassRegister,
			scope.Hub, scope.VMID, scope.VA, h.err)
	}

	return s, nil
}

// harvester accumulates the first register error instead of forcing an
// error check per read.
type harvester struct {
	regs  RegisterFile
	scope Scope
	sink  EventSink
	err   error
}

func (h *harvester) read(ip string, inst int, name string) uint32 {
	if h.err != nil {
		return 0
	}

	v, err := h.regs.Read(ip, inst, name)
	if err != nil {
		h.err = err
		return 0
	}

	h.sink.Event(h.scope, RegisterEvent{Name: name, Value: uint64(v)})

	return v
}

func (h *harvester) read64(ip string, inst int, lo, hi string) uint64 {
	if h.err != nil {
		return 0
	}

	v, err := h.regs.Read64(ip, inst, lo, hi)
	if err != nil {
		h.err = err
		return 0
	}

	h.sink.Event(h.scope, RegisterEvent{Name: lo[:len(lo)-5], Value: v})

	return v
}

func (h *harvester) readField(ip string, inst int, name, field string) uint32 {
	if h.err != nil {
		return 0
	}

	v, err := h.regs.ReadField(ip, inst, name, field)
	if err != nil {
		h.err = err
		return 0
	}

	h.sink.Event(h.scope, RegisterEvent{
		Name:  name + "." + field,
		Value: uint64(v),
	})

	return v
}
