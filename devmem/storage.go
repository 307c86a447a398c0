// Package devmem provides a sparse byte store that stands in for device
// memory apertures: fake VRAM images, system DMA windows, and harness
// snapshots all load into a Storage.
package devmem

import "fmt"

// A Storage keeps bytes addressable over a fixed capacity. Data is
// managed in 4 KiB units and units never touched by a Read or Write
// allocate nothing, so a Storage can model a 64 GiB aperture holding a
// few scattered pages.
type Storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a Storage covering [0, capacity).
func NewStorage(capacity uint64) *Storage {
	return &Storage{
		unitSize: 4096,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) unit(addr uint64) []byte {
	base := addr - addr%s.unitSize

	u, ok := s.data[base]
	if !ok {
		u = make([]byte, s.unitSize)
		s.data[base] = u
	}

	return u
}

// Read copies n bytes starting at addr into a fresh slice.
func (s *Storage) Read(addr uint64, n uint64) ([]byte, error) {
	if addr+n > s.capacity || addr+n < addr {
		return nil, fmt.Errorf(
			"read [0x%x, 0x%x) beyond storage capacity 0x%x",
			addr, addr+n, s.capacity)
	}

	out := make([]byte, n)
	done := uint64(0)

	for done < n {
		curr := addr + done
		inUnit := curr % s.unitSize

		chunk := s.unitSize - inUnit
		if n-done < chunk {
			chunk = n - done
		}

		copy(out[done:done+chunk], s.unit(curr)[inUnit:inUnit+chunk])
		done += chunk
	}

	return out, nil
}

// Write stores data starting at addr.
func (s *Storage) Write(addr uint64, data []byte) error {
	n := uint64(len(data))
	if addr+n > s.capacity || addr+n < addr {
		return fmt.Errorf(
			"write [0x%x, 0x%x) beyond storage capacity 0x%x",
			addr, addr+n, s.capacity)
	}

	done := uint64(0)

	for done < n {
		curr := addr + done
		inUnit := curr % s.unitSize

		chunk := s.unitSize - inUnit
		if n-done < chunk {
			chunk = n - done
		}

		copy(s.unit(curr)[inUnit:inUnit+chunk], data[done:done+chunk])
		done += chunk
	}

	return nil
}
