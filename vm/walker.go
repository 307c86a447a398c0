package vm

import (
	"fmt"
	"math/bits"

	"github.com/sarchlab/gpuprobe/amdgpu"
)

// A WalkRequest describes one translation: where to start and how far
// to go. Snapshot overrides the live registers; it is required for
// HubUser and optional elsewhere.
type WalkRequest struct {
	Hub       amdgpu.Hub
	VMID      int
	Partition int
	VA        uint64
	Size      uint64

	// DecodeOnly walks skip unmapped pages instead of failing, so a
	// whole range can be surveyed.
	DecodeOnly bool

	Snapshot *ContextSnapshot
}

// A PageMapping is one translated step of a request.
type PageMapping struct {
	VA   uint64
	Span uint64
	Loc  Location

	// Flags are the decoded leaf entry's attributes.
	Flags PTEFields

	// PRT marks a hole that translates but has no backing memory.
	PRT bool

	// Unmapped marks a page a decode-only walk skipped.
	Unmapped bool
}

// A WalkResult is the outcome of one Walk.
type WalkResult struct {
	Pages []PageMapping

	// GFXOff reports that the core was power-gated and nothing could
	// be translated. It is not an error; waking the core and retrying
	// is expected to work.
	GFXOff bool

	// Capture holds everything observed while translating the first
	// page.
	Capture *WalkCapture
}

// A WalkCapture records the full trail of one page's translation. It is
// an EventSink, so it can also be attached to any walk by hand.
type WalkCapture struct {
	Scope     Scope
	Registers []RegisterEvent
	Levels    []LevelEvent
	Page      *PageEvent
	Messages  []MessageEvent
}

func (c *WalkCapture) Event(scope Scope, item any) {
	c.Scope = scope

	switch ev := item.(type) {
	case RegisterEvent:
		c.Registers = append(c.Registers, ev)
	case LevelEvent:
		c.Levels = append(c.Levels, ev)
	case PageEvent:
		p := ev
		c.Page = &p
	case MessageEvent:
		c.Messages = append(c.Messages, ev)
	}
}

// A Walker translates virtual addresses by walking page tables in
// software, entry fetch by entry fetch, exactly as the hub's MMU would.
// Every page restarts from the root so the walk reflects the tables as
// they are, not as a TLB remembers them.
//
// A Walker is not safe for concurrent use; create one per goroutine.
type Walker struct {
	asic   *amdgpu.Asic
	regs   RegisterFile
	router *Router
	sink   EventSink
	codec  EntryCodec
	vi     bool
}

func NewWalker(
	asic *amdgpu.Asic,
	regs RegisterFile,
	router *Router,
	sink EventSink,
) *Walker {
	if sink == nil {
		sink = NopSink{}
	}

	v := asic.GFXVersion()

	return &Walker{
		asic:   asic,
		regs:   regs,
		router: router,
		sink:   sink,
		codec:  CodecFor(v),
		vi:     v.Major < 9,
	}
}

// unmappedError is the internal marker for a page with no valid
// translation. Walk converts it to a skip or a classed error depending
// on the request mode.
type unmappedError struct {
	level     int
	entryAddr uint64
	raw       uint64
	reason    string
	sentinel  error
}

func (e unmappedError) Error() string {
	return fmt.Sprintf("%s at level %d (entry @0x%x = 0x%016x)",
		e.reason, e.level, e.entryAddr, e.raw)
}

func (e unmappedError) Unwrap() error {
	if e.sentinel != nil {
		return e.sentinel
	}
	return ErrNoMapping
}

// Walk translates req page by page.
func (w *Walker) Walk(req WalkRequest) (WalkResult, error) {
	scope := Scope{
		Hub:       req.Hub,
		VMID:      req.VMID,
		Partition: req.Partition,
		VA:        req.VA,
	}

	var res WalkResult

	capture := &WalkCapture{}
	firstSink := MultiSink{w.sink, capture}

	snap, err := w.snapshot(req, scope, firstSink)
	if err != nil {
		return res, err
	}

	if !w.vi && snap.GFXOff() {
		firstSink.Event(scope, MessageEvent{
			Severity: SeverityWarn,
			Class:    ClassGFXOff,
			Text:     "page table base reads all ones; core is power-gated",
		})
		res.GFXOff = true
		res.Capture = capture
		return res, nil
	}

	if !snap.Enabled {
		firstSink.Event(scope, MessageEvent{
			Severity: SeverityWarn,
			Class:    ClassNoMapping,
			Text:     fmt.Sprintf("vm context %d is not enabled", req.VMID),
		})
	}

	res.Capture = capture

	va := req.VA
	remaining := req.Size
	if remaining == 0 {
		remaining = 1
	}
	first := true

	for remaining > 0 {
		span := pageSize - va%pageSize
		if span > remaining {
			span = remaining
		}

		sink := w.sink
		if first {
			sink = firstSink
			first = false
		}

		pm, err := w.walkPage(scope, &snap, va, req.Snapshot != nil, sink)
		pm.VA = va
		pm.Span = span

		switch {
		case err == nil && pm.PRT:
			sink.Event(scope, MessageEvent{
				Severity: SeverityInfo,
				Class:    ClassNoMapping,
				Text:     fmt.Sprintf("PRT page at 0x%x, no backing", va),
			})
		case err == nil:
			sink.Event(scope, PageEvent{
				VA:    va,
				Loc:   pm.Loc,
				Span:  span,
				Flags: pm.Flags,
			})
		case isUnmapped(err) && req.DecodeOnly:
			sink.Event(scope, MessageEvent{
				Severity: SeverityInfo,
				Class:    ClassNoMapping,
				Text:     err.Error(),
			})
			pm.Unmapped = true
		case isUnmapped(err):
			return res, classed(ClassNoMapping, req.Hub, req.VMID, va, err)
		default:
			return res, err
		}

		res.Pages = append(res.Pages, pm)

		va += span
		remaining -= span
	}

	return res, nil
}

const pageSize = 4096

func isUnmapped(err error) bool {
	_, ok := err.(unmappedError)
	return ok
}

func (w *Walker) snapshot(
	req WalkRequest,
	scope Scope,
	sink EventSink,
) (ContextSnapshot, error) {
	if req.Snapshot != nil {
		return *req.Snapshot, nil
	}

	if req.Hub == amdgpu.HubUser {
		return ContextSnapshot{}, classed(ClassRegister,
			req.Hub, req.VMID, req.VA,
			fmt.Errorf("the user hub has no registers; a snapshot is required"))
	}

	if w.vi {
		return w.harvestVI(scope, sink)
	}

	return harvestContext(w.regs, scope, sink)
}

// Harvest reads the live context registers of hub/vmid into a
// snapshot without walking anything. Callers that shadow another
// address space start from a harvested snapshot and swap in their own
// page table fields; HubUser has no registers of its own and errors.
func (w *Walker) Harvest(
	hub amdgpu.Hub,
	vmid int,
	part int,
) (ContextSnapshot, error) {
	req := WalkRequest{Hub: hub, VMID: vmid, Partition: part}
	scope := Scope{Hub: hub, VMID: vmid, Partition: part}

	return w.snapshot(req, scope, w.sink)
}

// walkPage resolves a single page. Errors of type unmappedError mean
// the page has no valid translation; everything else is fatal for the
// whole walk.
func (w *Walker) walkPage(
	scope Scope,
	s *ContextSnapshot,
	va uint64,
	shadow bool,
	sink EventSink,
) (PageMapping, error) {
	// The system-aperture policy governs live VMID 0 state only; a
	// caller-supplied snapshot shadows a context of its own.
	if scope.VMID == 0 && !shadow {
		if pm, handled := w.systemAperture(s, va); handled {
			return pm, nil
		}
	}

	if !s.Covers(va) {
		return PageMapping{}, unmappedError{
			reason:   fmt.Sprintf("0x%x is outside [0x%x, 0x%x]", va, s.PageTableStart, s.PageTableEnd),
			sentinel: ErrOutOfRange,
		}
	}

	if w.vi {
		return w.walkPageVI(scope, s, va, sink)
	}

	return w.walkPageGFX9(scope, s, va, sink)
}

// systemAperture applies the VMID 0 system-access-mode policy before
// any table walk. Mode 0 is physical addressing only, mode 1 always
// translates, mode 2 translates inside the system aperture, and mode 3
// translates outside it. Physical addresses resolve against the MC
// windows without touching the tables.
func (w *Walker) systemAperture(
	s *ContextSnapshot,
	va uint64,
) (PageMapping, bool) {
	inside := va >= s.ApertureLow && va <= s.ApertureHigh

	translate := false
	switch s.SystemAccessMode {
	case 1:
		translate = true
	case 2:
		translate = inside
	case 3:
		translate = !inside
	}

	if translate {
		return PageMapping{}, false
	}

	loc := w.directLoc(s, va)

	pm := PageMapping{
		Loc: loc,
		Flags: PTEFields{
			Valid:  true,
			System: loc.Space == SpaceSystem,
			Read:   true,
			Write:  true,
		},
	}

	return pm, true
}

// directLoc classifies a bare MC address against the frame buffer and
// AGP windows.
func (w *Walker) directLoc(s *ContextSnapshot, va uint64) Location {
	switch {
	case va >= s.FBBase && va <= s.FBTop:
		return Location{
			Space: SpaceVRAM,
			Node:  w.asic.XGMI().NodeID,
			Addr:  va - s.FBBase,
		}
	case va >= s.AGPBot && va <= s.AGPTop:
		return Location{Space: SpaceSystem, Addr: va - s.AGPBot + s.AGPBase}
	default:
		return Location{Space: SpaceSystem, Addr: va}
	}
}

// locate turns a leaf MC address into a Location: system addresses pass
// through, carve-out addresses redirect through the AGP window, and
// VRAM addresses either split into hive node plus offset or shed the FB
// offset. The carve-out applies on APUs and whenever the registers read
// zero-frame-buffer.
func (w *Walker) locate(s *ContextSnapshot, system bool, addr uint64) Location {
	if system {
		return Location{Space: SpaceSystem, Addr: addr}
	}

	if (w.asic.IsAPU() || s.ZFB()) && addr >= s.AGPBot && addr <= s.AGPTop {
		return Location{Space: SpaceSystem, Addr: addr - s.AGPBot + s.AGPBase}
	}

	if seg := w.router.SegSize(); seg > 0 {
		return Location{
			Space: SpaceVRAM,
			Node:  int(addr / seg),
			Addr:  addr % seg,
		}
	}

	return Location{Space: SpaceVRAM, Addr: addr - s.FBOffset}
}

// fetchEntry reads one 8-byte table entry through the same routing as
// payload data.
func (w *Walker) fetchEntry(
	scope Scope,
	s *ContextSnapshot,
	system bool,
	addr uint64,
) (uint64, error) {
	loc := w.locate(s, system, addr)

	b, err := w.router.Read(loc, 8)
	if err != nil {
		return 0, classed(ClassBackend, scope.Hub, scope.VMID, scope.VA,
			fmt.Errorf("fetching table entry at %s: %w", loc, err))
	}

	var raw uint64
	for i := 7; i >= 0; i-- {
		raw = raw<<8 | uint64(b[i])
	}

	return raw, nil
}

// walkPageGFX9 runs the multi-level walk used by GFX9 and later.
func (w *Walker) walkPageGFX9(
	scope Scope,
	s *ContextSnapshot,
	va uint64,
	sink EventSink,
) (PageMapping, error) {
	varel := va - s.PageTableStart
	totalBits := spanBits(s.PageTableStart, s.PageTableEnd)

	// The base register is itself the top-level directory entry.
	rootRaw := s.PageTableBase

	if w.codec.PDEActsAsPTE(rootRaw) {
		pte := w.codec.DecodePTE(rootRaw)
		sink.Event(scope, LevelEvent{
			Level: s.Depth, Raw: rootRaw, PTE: &pte,
		})
		return w.leaf(scope, s, pte, varel, maskBits(totalBits), 0)
	}

	cur := w.codec.DecodePDE(rootRaw)
	if !cur.Valid {
		return PageMapping{}, unmappedError{
			level: s.Depth, raw: rootRaw, reason: "invalid root directory entry",
		}
	}

	// Directory levels, top down. lvl counts the directories still to
	// be indexed, so the entry fetched at lvl selects either the next
	// directory (lvl > 1) or the PTB (lvl == 1).
	for lvl := s.Depth; lvl >= 1; lvl-- {
		shift := uint(9*(lvl-1)) + uint(s.BlockSize) + 21

		idxBits := uint(9)
		if lvl == s.Depth {
			idxBits = topIndexBits(totalBits, s.Depth, s.BlockSize)
		}

		idx := varel >> shift & maskBits(idxBits)
		entryAddr := cur.BaseAddr + idx*8

		raw, err := w.fetchEntry(scope, s, cur.System, entryAddr)
		if err != nil {
			return PageMapping{}, err
		}

		if w.codec.PDEActsAsPTE(raw) {
			pte := w.codec.DecodePTE(raw)
			sink.Event(scope, LevelEvent{
				Level: lvl, Index: idx, EntryAddr: entryAddr,
				Raw: raw, PTE: &pte,
			})
			return w.leaf(scope, s, pte, varel, maskBits(shift), 0)
		}

		pde := w.codec.DecodePDE(raw)
		sink.Event(scope, LevelEvent{
			Level: lvl, Index: idx, EntryAddr: entryAddr,
			Raw: raw, PDE: &pde,
		})

		if !pde.Valid {
			return PageMapping{}, unmappedError{
				level: lvl, entryAddr: entryAddr, raw: raw,
				reason: "invalid directory entry",
			}
		}

		cur = pde
	}

	return w.walkPTB(scope, s, cur, varel, totalBits, sink)
}

// walkPTB indexes the page table block cur points at. cur is the PDE0,
// or the decoded base register when the table has no directory levels.
func (w *Walker) walkPTB(
	scope Scope,
	s *ContextSnapshot,
	cur PDEFields,
	varel uint64,
	totalBits uint,
	sink EventSink,
) (PageMapping, error) {
	bfs := uint(cur.FragSize)

	var idxBits uint
	if s.Depth >= 1 {
		if bfs <= 9+uint(s.BlockSize) {
			idxBits = 9 + uint(s.BlockSize) - bfs
		}
	} else if 12+bfs <= totalBits {
		idxBits = totalBits - 12 - bfs
	}

	idx := varel >> (12 + bfs) & maskBits(idxBits)
	entryAddr := cur.BaseAddr + idx*8

	raw, err := w.fetchEntry(scope, s, cur.System, entryAddr)
	if err != nil {
		return PageMapping{}, err
	}

	if w.codec.PTEIsFurther(raw) {
		return w.walkFurther(scope, s, raw, idx, entryAddr, varel, sink)
	}

	pte := w.codec.DecodePTE(raw)
	sink.Event(scope, LevelEvent{
		Level: 0, Index: idx, EntryAddr: entryAddr, Raw: raw, PTE: &pte,
	})

	if bad := w.checkLeaf(pte, 0, entryAddr, raw); bad != nil {
		return PageMapping{}, *bad
	}

	return w.leaf(scope, s, pte, varel, maskBits(12+bfs), 0)
}

// walkFurther takes the single extra hop a further-flagged PTB entry
// requests: the entry re-decodes as a directory entry over one inner
// PTB of 4 KiB pages.
func (w *Walker) walkFurther(
	scope Scope,
	s *ContextSnapshot,
	raw uint64,
	idx uint64,
	entryAddr uint64,
	varel uint64,
	sink EventSink,
) (PageMapping, error) {
	fpde := w.codec.DecodePDE(raw)
	sink.Event(scope, LevelEvent{
		Level: 0, Index: idx, EntryAddr: entryAddr, Raw: raw, PDE: &fpde,
	})

	if !fpde.Valid {
		return PageMapping{}, unmappedError{
			entryAddr: entryAddr, raw: raw,
			reason: "invalid further entry",
		}
	}

	innerIdx := varel >> 12 & 0x1FF
	innerAddr := fpde.BaseAddr + innerIdx*8

	innerRaw, err := w.fetchEntry(scope, s, fpde.System, innerAddr)
	if err != nil {
		return PageMapping{}, err
	}

	pte := w.codec.DecodePTE(innerRaw)
	sink.Event(scope, LevelEvent{
		Level: -1, Index: innerIdx, EntryAddr: innerAddr,
		Raw: innerRaw, PTE: &pte,
	})

	if bad := w.checkLeaf(pte, -1, innerAddr, innerRaw); bad != nil {
		return PageMapping{}, *bad
	}

	// A translate-further-subtree keeps relative page bases; the
	// originating entry's base rebases them.
	tfsBase := uint64(0)
	if fpde.TFSAddr {
		tfsBase = fpde.BaseAddr
	}

	return w.leaf(scope, s, pte, varel, maskBits(12+uint(pte.Fragment)), tfsBase)
}

// checkLeaf validates a leaf PTE. PRT holes pass; they are resolved to
// no location by leaf().
func (w *Walker) checkLeaf(
	pte PTEFields,
	level int,
	entryAddr uint64,
	raw uint64,
) *unmappedError {
	if pte.Valid || pte.PRT {
		return nil
	}
	return &unmappedError{
		level: level, entryAddr: entryAddr, raw: raw,
		reason: "invalid page table entry",
	}
}

// leaf composes the final physical address from a leaf entry and
// resolves it to a backend location.
func (w *Walker) leaf(
	scope Scope,
	s *ContextSnapshot,
	pte PTEFields,
	varel uint64,
	offMask uint64,
	tfsBase uint64,
) (PageMapping, error) {
	if pte.PRT {
		return PageMapping{PRT: true, Flags: pte}, nil
	}

	if !pte.Valid {
		return PageMapping{}, unmappedError{reason: "invalid page table entry"}
	}

	base := pte.PageBase + tfsBase
	pa := base&^offMask | varel&offMask

	return PageMapping{
		Loc:   w.locate(s, pte.System, pa),
		Flags: pte,
	}, nil
}

// spanBits is the ceil-log2 width of an inclusive byte range,
// saturating at 64.
func spanBits(start, end uint64) uint {
	span := end - start
	if span == ^uint64(0) {
		return 64
	}
	return uint(bits.Len64(span))
}

// topIndexBits is the index width of the top directory level.
func topIndexBits(totalBits uint, depth int, blockSize uint32) uint {
	used := uint(9*(depth-1)) + uint(blockSize) + 21
	if used >= totalBits {
		return 0
	}
	return totalBits - used
}

func maskBits(b uint) uint64 {
	if b >= 64 {
		return ^uint64(0)
	}
	return 1<<b - 1
}
