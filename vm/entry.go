package vm

import (
	"fmt"
	"strings"
)

// Address masks shared by every generation. PDEs point at 64-byte
// aligned directories, PTEs at 4 KiB aligned pages.
const (
	PDEBaseMask uint64 = 0x0000FFFFFFFFFFC0
	PTEBaseMask uint64 = 0x0000FFFFFFFFF000
)

// PDEFields is a decoded page directory entry. Not every generation
// populates every field; the codec that produced the fields knows which
// ones are live.
type PDEFields struct {
	Valid    bool
	System   bool
	Coherent bool

	// BaseAddr is the MC address of the next-level table, already
	// masked to 64-byte alignment.
	BaseAddr uint64

	// ActsAsPTE marks a directory entry that terminates the walk and
	// maps its whole span directly.
	ActsAsPTE bool

	// Further marks an entry whose target is one more level of
	// translation below the PTB.
	Further bool

	// TFSAddr marks a further subtree whose leaf page bases are
	// relative to this entry's BaseAddr.
	TFSAddr bool

	// FragSize of a PDE0 sets the block-fragment size of the PTB it
	// points to: each PTE there maps 2^(12+FragSize) bytes.
	FragSize uint32

	MType      uint32
	LLCNoAlloc bool
	MallReuse  uint32
	PARsvd     uint32
}

func (f PDEFields) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "PDE base=0x%012x", f.BaseAddr)
	fmt.Fprintf(&b, " V=%d S=%d C=%d", boolBit(f.Valid), boolBit(f.System),
		boolBit(f.Coherent))
	fmt.Fprintf(&b, " P=%d F=%d", boolBit(f.ActsAsPTE), boolBit(f.Further))

	if f.TFSAddr {
		b.WriteString(" TFS=1")
	}
	fmt.Fprintf(&b, " frag=%d", f.FragSize)
	if f.MType != 0 {
		fmt.Fprintf(&b, " mtype=%d", f.MType)
	}
	if f.LLCNoAlloc {
		b.WriteString(" llc_noalloc=1")
	}
	if f.MallReuse != 0 {
		fmt.Fprintf(&b, " mall=%d", f.MallReuse)
	}
	if f.PARsvd != 0 {
		fmt.Fprintf(&b, " pa_rsvd=0x%x", f.PARsvd)
	}

	return b.String()
}

// PTEFields is a decoded page table entry.
type PTEFields struct {
	Valid    bool
	System   bool
	Coherent bool
	TMZ      bool
	Execute  bool
	Read     bool
	Write    bool

	// PageBase is the MC address of the mapped page, masked to 4 KiB.
	PageBase uint64

	// Fragment gives the mapping size as 2^(12+Fragment) bytes.
	Fragment uint32

	// PRT marks a partially-resident-texture hole: translation
	// succeeds but no memory backs it.
	PRT bool

	// IsPDE marks a PTB entry that is really a directory entry.
	IsPDE bool

	// Further requests one extra level of translation.
	Further bool

	MType    uint32
	Software uint32
	GCR      bool
	DCC      bool
	NoAlloc  bool
	PARsvd   uint32
}

func (f PTEFields) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "PTE base=0x%012x", f.PageBase)
	fmt.Fprintf(&b, " V=%d S=%d C=%d Z=%d X=%d R=%d W=%d",
		boolBit(f.Valid), boolBit(f.System), boolBit(f.Coherent),
		boolBit(f.TMZ), boolBit(f.Execute), boolBit(f.Read),
		boolBit(f.Write))
	fmt.Fprintf(&b, " frag=%d", f.Fragment)

	if f.PRT {
		b.WriteString(" PRT=1")
	}
	if f.IsPDE {
		b.WriteString(" P=1")
	}
	if f.Further {
		b.WriteString(" F=1")
	}
	if f.MType != 0 {
		fmt.Fprintf(&b, " mtype=%d", f.MType)
	}
	if f.Software != 0 {
		fmt.Fprintf(&b, " sw=%d", f.Software)
	}
	if f.GCR {
		b.WriteString(" gcr=1")
	}
	if f.DCC {
		b.WriteString(" dcc=1")
	}
	if f.NoAlloc {
		b.WriteString(" noalloc=1")
	}
	if f.PARsvd != 0 {
		fmt.Fprintf(&b, " pa_rsvd=0x%x", f.PARsvd)
	}

	return b.String()
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

func bit(v uint64, n uint) bool {
	return v>>n&1 == 1
}

func setBit(v *uint64, n uint, on bool) {
	if on {
		*v |= 1 << n
	}
}

func field(v uint64, lo, hi uint) uint32 {
	return uint32(v >> lo & (1<<(hi-lo+1) - 1))
}

func setField(v *uint64, lo, hi uint, val uint32) {
	mask := uint64(1<<(hi-lo+1) - 1)
	*v = *v&^(mask<<lo) | (uint64(val)&mask)<<lo
}
