// Package vm re-implements the GPU's VM address translation in
// software: per-generation page-table entry codecs, the multi-level
// table walkers, and the accessor that moves data across translated
// ranges. Everything device-shaped is reached through the narrow
// interfaces in this file, so the whole package runs against mocks,
// storage-backed fakes, or a real platform layer.
package vm

// A RegisterFile reads VM and MC registers by name. It is implemented
// by an adapter over regdb.Accessor and by harness fakes.
type RegisterFile interface {
	Read(ip string, inst int, name string) (uint32, error)
	Read64(ip string, inst int, loName, hiName string) (uint64, error)
	ReadField(ip string, inst int, name, field string) (uint32, error)
	ReadAny(ip string, inst int, names ...string) (uint32, error)
}

// SystemMemory accesses host memory by bus address, the space system
// pages and GART-backed buffers live in.
type SystemMemory interface {
	Read(addr uint64, n uint64) ([]byte, error)
	Write(addr uint64, data []byte) error
}

// LinearVRAM accesses one node's local memory by linearized address,
// after any bank swizzling the platform layer performs.
type LinearVRAM interface {
	Read(addr uint64, n uint64) ([]byte, error)
	Write(addr uint64, data []byte) error
}

// ProcessMemory accesses a client process's address space directly,
// used when a mapping is known to be host-resident and CPU-visible.
type ProcessMemory interface {
	Read(addr uint64, n uint64) ([]byte, error)
	Write(addr uint64, data []byte) error
}

// NodeMemory resolves the LinearVRAM of each node in an XGMI hive.
// Node indices follow the hive's physical-address concatenation order.
type NodeMemory interface {
	Node(i int) (LinearVRAM, error)
}
