package ring

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/regdb"
	"github.com/sarchlab/gpuprobe/vm"
)

// A Ring is one command ring plus its current read and write pointers,
// normalized to byte offsets inside the ring.
type Ring struct {
	Name string
	Hub  amdgpu.Hub
	VMID int

	// Base is the GPU virtual address of the ring's first byte; Size
	// is the ring length in bytes, a power of two.
	Base uint64
	Size uint64

	Rptr uint64
	Wptr uint64

	// Snapshot, when set, makes content reads translate through it
	// instead of live context registers.
	Snapshot *vm.ContextSnapshot
}

// Pending returns how many bytes the engine has not consumed yet.
func (r Ring) Pending() uint64 {
	if r.Size == 0 {
		return 0
	}
	return (r.Wptr - r.Rptr) & (r.Size - 1)
}

// RingReader resolves ring geometry and pulls out the pending window.
// Kernel rings publish their pointers in registers, user queues
// publish them in memory next to the ring.
type RingReader struct {
	acc  *vm.Accessor
	regs *regdb.Accessor
}

func NewRingReader(acc *vm.Accessor, regs *regdb.Accessor) *RingReader {
	return &RingReader{acc: acc, regs: regs}
}

// KernelRing resolves a firmware-managed ring from its registers.
// Supported names are "gfx" for the CP's primary ring buffer and
// "sdma<n>" for the copy engines. Kernel rings live in the VMID 0
// address space.
func (r *RingReader) KernelRing(name string) (Ring, error) {
	if name == "gfx" {
		return r.cpRing(name)
	}
	if rest, ok := strings.CutPrefix(name, "sdma"); ok {
		inst, err := strconv.Atoi(rest)
		if err == nil && inst >= 0 {
			return r.sdmaRing(name, inst)
		}
	}
	return Ring{}, fmt.Errorf("unknown ring %q", name)
}

// cpRing reads the CP RB0 geometry. The base register pair holds the
// address in 256-byte units, the size is 8 << RB_BUFSZ bytes, and the
// pointers count dwords, with the write pointer free-running.
func (r *RingReader) cpRing(name string) (Ring, error) {
	ring := Ring{Name: name, Hub: amdgpu.HubGFX}

	base, err := r.regs.Read64(
		"gfx", 0, "mmCP_RB0_BASE", "mmCP_RB0_BASE_HI")
	if err != nil {
		return Ring{}, err
	}
	ring.Base = base << 8

	bufsz, err := r.regs.ReadField("gfx", 0, "mmCP_RB0_CNTL", "RB_BUFSZ")
	if err != nil {
		return Ring{}, err
	}
	ring.Size = 8 << bufsz
	mask := ring.Size/4 - 1

	rptr, err := r.regs.Read("gfx", 0, "mmCP_RB0_RPTR")
	if err != nil {
		return Ring{}, err
	}
	ring.Rptr = (uint64(rptr) & mask) * 4

	wptr, err := r.regs.Read64(
		"gfx", 0, "mmCP_RB0_WPTR", "mmCP_RB0_WPTR_HI")
	if err != nil {
		return Ring{}, err
	}
	ring.Wptr = (wptr & mask) * 4

	return ring, nil
}

// sdmaRing reads an SDMA queue's geometry. The base register pair is
// in 256-byte units, the size is 1 << RB_SIZE dwords, and the pointer
// registers hold free-running byte offsets.
func (r *RingReader) sdmaRing(name string, inst int) (Ring, error) {
	ring := Ring{Name: name, Hub: amdgpu.HubGFX}

	base, err := r.regs.Read64(
		"sdma", inst, "mmSDMA0_GFX_RB_BASE", "mmSDMA0_GFX_RB_BASE_HI")
	if err != nil {
		return Ring{}, err
	}
	ring.Base = base << 8

	rbsz, err := r.regs.ReadField(
		"sdma", inst, "mmSDMA0_GFX_RB_CNTL", "RB_SIZE")
	if err != nil {
		return Ring{}, err
	}
	ring.Size = 4 << rbsz

	rptr, err := r.regs.Read64(
		"sdma", inst, "mmSDMA0_GFX_RB_RPTR", "mmSDMA0_GFX_RB_RPTR_HI")
	if err != nil {
		return Ring{}, err
	}
	ring.Rptr = rptr & (ring.Size - 1)

	wptr, err := r.regs.Read64(
		"sdma", inst, "mmSDMA0_GFX_RB_WPTR", "mmSDMA0_GFX_RB_WPTR_HI")
	if err != nil {
		return Ring{}, err
	}
	ring.Wptr = wptr & (ring.Size - 1)

	return ring, nil
}

// MemoryRing builds a ring whose pointers live in memory, fetched
// through the VM accessor. unit scales the fetched values to bytes: 4
// for dword pointers, 64 for AQL packet indices, 1 for byte offsets.
func (r *RingReader) MemoryRing(
	name string,
	hub amdgpu.Hub,
	vmid int,
	snap *vm.ContextSnapshot,
	base, size uint64,
	rptrVA, wptrVA uint64,
	unit uint64,
) (Ring, error) {
	ring := Ring{
		Name: name, Hub: hub, VMID: vmid,
		Base: base, Size: size,
		Snapshot: snap,
	}
	if size == 0 || size&(size-1) != 0 {
		return Ring{}, fmt.Errorf(
			"ring %s size 0x%x is not a power of two", name, size)
	}
	if unit == 0 {
		unit = 1
	}

	rptr, err := r.pointer(ring, rptrVA)
	if err != nil {
		return Ring{}, fmt.Errorf("ring %s rptr: %w", name, err)
	}
	ring.Rptr = rptr * unit & (size - 1)

	wptr, err := r.pointer(ring, wptrVA)
	if err != nil {
		return Ring{}, fmt.Errorf("ring %s wptr: %w", name, err)
	}
	ring.Wptr = wptr * unit & (size - 1)

	return ring, nil
}

func (r *RingReader) pointer(ring Ring, va uint64) (uint64, error) {
	body, err := r.acc.ReadVMReq(vm.WalkRequest{
		Hub: ring.Hub, VMID: ring.VMID,
		VA: va, Size: 8,
		Snapshot: ring.Snapshot,
	})
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(body), nil
}

// Window fetches the pending [rptr, wptr) bytes and returns them with
// the virtual address of the first byte. A wrapped window comes back
// linearized, so offsets past the wrap point exceed base+size. An
// empty window returns no data and no error.
func (r *RingReader) Window(ring Ring) ([]byte, uint64, error) {
	if ring.Size == 0 {
		return nil, 0, fmt.Errorf("ring %s has no size", ring.Name)
	}

	rp := ring.Rptr & (ring.Size - 1)
	wp := ring.Wptr & (ring.Size - 1)
	from := ring.Base + rp
	if rp == wp {
		return nil, from, nil
	}

	if wp > rp {
		body, err := r.content(ring, ring.Base+rp, wp-rp)
		return body, from, err
	}

	head, err := r.content(ring, ring.Base+rp, ring.Size-rp)
	if err != nil {
		return nil, from, err
	}
	tail, err := r.content(ring, ring.Base, wp)
	if err != nil {
		return nil, from, err
	}
	return append(head, tail...), from, nil
}

// Content fetches the whole ring regardless of pointers.
func (r *RingReader) Content(ring Ring) ([]byte, error) {
	if ring.Size == 0 {
		return nil, fmt.Errorf("ring %s has no size", ring.Name)
	}
	return r.content(ring, ring.Base, ring.Size)
}

func (r *RingReader) content(ring Ring, va, n uint64) ([]byte, error) {
	return r.acc.ReadVMReq(vm.WalkRequest{
		Hub: ring.Hub, VMID: ring.VMID,
		VA: va, Size: n,
		Snapshot: ring.Snapshot,
	})
}
