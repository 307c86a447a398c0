package userq

import (
	"fmt"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/vm"
)

// Bind programs the shadow VM context for one queue: the page table
// fields come from the queue record, the MC aperture geometry from the
// live gfx hub at the moment Bind runs. Walks through the returned
// snapshot use amdgpu.HubUser and need no hardware VMID.
func Bind(acc *vm.Accessor, q Queue) (*vm.ContextSnapshot, error) {
	live, err := acc.Walker().Harvest(amdgpu.HubGFX, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("harvesting mc geometry: %w", err)
	}

	s := live
	s.PageTableBase = q.PageTableBase
	s.PageTableStart = q.VAStart
	s.PageTableEnd = q.VAEnd
	s.Depth = q.Depth
	s.BlockSize = q.BlockSize
	s.Enabled = true

	return &s, nil
}
