package vm

import "fmt"

// Pre-GFX9 chips use one flat page table, optionally fronted by a
// single directory level, with 4 KiB pages throughout. The register
// file is also older: 32-bit table addresses and a combined FB location
// register.

func (w *Walker) harvestVI(
	scope Scope,
	sink EventSink,
) (ContextSnapshot, error) {
	h := harvester{regs: w.regs, scope: scope, sink: sink}

	ip := scope.Hub.IP()
	prefix := scope.Hub.RegPrefix()
	inst := scope.Partition
	ctx := scope.VMID

	var s ContextSnapshot

	s.PageTableBase = uint64(h.read(ip, inst,
		fmt.Sprintf("%sVM_CONTEXT%d_PAGE_TABLE_BASE_ADDR", prefix, ctx))) << 12
	s.PageTableStart = uint64(h.read(ip, inst,
		fmt.Sprintf("%sVM_CONTEXT%d_PAGE_TABLE_START_ADDR", prefix, ctx))) << 12
	s.PageTableEnd = uint64(h.read(ip, inst,
		fmt.Sprintf("%sVM_CONTEXT%d_PAGE_TABLE_END_ADDR", prefix, ctx)))<<12 |
		0xFFF

	cntl := fmt.Sprintf("%sVM_CONTEXT%d_CNTL", prefix, ctx)
	s.Enabled = h.readField(ip, inst, cntl, "ENABLE_CONTEXT") != 0
	s.Depth = int(h.readField(ip, inst, cntl, "PAGE_TABLE_DEPTH"))
	s.BlockSize = h.readField(ip, inst, cntl, "PAGE_TABLE_BLOCK_SIZE")

	fbLoc := h.read(ip, inst, prefix+"MC_VM_FB_LOCATION")
	s.FBBase = uint64(fbLoc&0xFFFF) << 24
	s.FBTop = uint64(fbLoc>>16)<<24 | 0xFFFFFF
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

func (w *Walker) walkPageVI(
	scope Scope,
	s *ContextSnapshot,
	va uint64,
	sink EventSink,
) (PageMapping, error) {
	varel := va - s.PageTableStart

	// The block-size field widens the table block past its 9-bit
	// baseline: one block covers 2^(21+block) bytes of VA.
	pteBits := 9 + uint(s.BlockSize)

	// The base register holds a bare table address; tables live in
	// VRAM on these chips.
	table := s.PageTableBase

	if s.Depth >= 1 {
		pdeIdx := varel >> (12 + pteBits)
		pdeAddr := table + pdeIdx*8

		raw, err := w.fetchEntry(scope, s, false, pdeAddr)
		if err != nil {
			return PageMapping{}, err
		}

		pde := w.codec.DecodePDE(raw)
		sink.Event(scope, LevelEvent{
			Level: 1, Index: pdeIdx, EntryAddr: pdeAddr, Raw: raw, PDE: &pde,
		})

		if !pde.Valid {
			return PageMapping{}, unmappedError{
				level: 1, entryAddr: pdeAddr, raw: raw,
				reason: "invalid directory entry",
			}
		}

		table = pde.BaseAddr
	}

	pteIdx := varel >> 12
	if s.Depth >= 1 {
		pteIdx &= maskBits(pteBits)
	}
	pteAddr := table + pteIdx*8

	raw, err := w.fetchEntry(scope, s, false, pteAddr)
	if err != nil {
		return PageMapping{}, err
	}

	pte := w.codec.DecodePTE(raw)
	sink.Event(scope, LevelEvent{
		Level: 0, Index: pteIdx, EntryAddr: pteAddr, Raw: raw, PTE: &pte,
	})

	if !pte.Valid {
		return PageMapping{}, unmappedError{
			entryAddr: pteAddr, raw: raw,
			reason: "invalid page table entry",
		}
	}

	pa := pte.PageBase | varel&0xFFF

	return PageMapping{
		Loc:   w.locate(s, pte.System, pa),
		Flags: pte,
	}, nil
}
