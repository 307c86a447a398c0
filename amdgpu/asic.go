package amdgpu

// XGMIConfig describes the chip's position in an XGMI hive. SegSize is
// the size of each node's slice of the concatenated physical address
// space; zero means it must be discovered from registers or estimated
// from VRAM sizes.
type XGMIConfig struct {
	NodeID   int
	NumNodes int
	SegSize  uint64
}

// Enabled reports whether the chip is part of a hive at all.
func (x XGMIConfig) Enabled() bool {
	return x.NumNodes > 1
}

// An Asic is the static model of one GPU that the rest of the toolkit
// operates on. It is assembled by a Builder, from a harness file, or by
// a platform-discovery layer outside this repo.
type Asic struct {
	name     string
	blocks   []IPBlock
	vramSize uint64
	isAPU    bool
	xgmi     XGMIConfig
}

func (a *Asic) Name() string {
	return a.name
}

// IP looks up an IP block by name.
func (a *Asic) IP(name string) (IPBlock, bool) {
	for _, b := range a.blocks {
		if b.Name == name {
			return b, true
		}
	}
	return IPBlock{}, false
}

// Blocks returns all IP blocks in registration order.
func (a *Asic) Blocks() []IPBlock {
	out := make([]IPBlock, len(a.blocks))
	copy(out, a.blocks)
	return out
}

// GFXVersion is the graphics core version, which selects the page-table
// entry format and walker variant.
func (a *Asic) GFXVersion() IPVersion {
	b, ok := a.IP("gfx")
	if !ok {
		return IPVersion{}
	}
	return b.Version
}

func (a *Asic) VRAMSize() uint64 {
	return a.vramSize
}

func (a *Asic) IsAPU() bool {
	return a.isAPU
}

func (a *Asic) XGMI() XGMIConfig {
	return a.xgmi
}

// A Builder can build ASIC models.
type Builder struct {
	blocks   []IPBlock
	vramSize uint64
	isAPU    bool
	xgmi     XGMIConfig
}

// MakeBuilder creates a Builder with no IP blocks registered.
func MakeBuilder() Builder {
	return Builder{}
}

// WithIPBlock registers one IP block. Registering "gfx" is mandatory
// before Build.
func (b Builder) WithIPBlock(block IPBlock) Builder {
	b.blocks = append(b.blocks, block)
	return b
}

// WithVRAMSize sets the local VRAM size in bytes.
func (b Builder) WithVRAMSize(bytes uint64) Builder {
	b.vramSize = bytes
	return b
}

// WithAPU marks the chip as an APU, enabling zero-frame-buffer
// redirection of carve-out addresses to system memory.
func (b Builder) WithAPU() Builder {
	b.isAPU = true
	return b
}

// WithXGMI places the chip in an XGMI hive.
func (b Builder) WithXGMI(nodeID, numNodes int) Builder {
	b.xgmi.NodeID = nodeID
	b.xgmi.NumNodes = numNodes
	return b
}

// WithXGMISegSize overrides the per-node segment size instead of
// leaving it to register discovery.
func (b Builder) WithXGMISegSize(size uint64) Builder {
	b.xgmi.SegSize = size
	return b
}

// Build creates the Asic. It panics if no gfx IP block was registered,
// as nothing downstream can operate without a graphics core version.
func (b Builder) Build(name string) *Asic {
	a := &Asic{
		name:     name,
		blocks:   b.blocks,
		vramSize: b.vramSize,
		isAPU:    b.isAPU,
		xgmi:     b.xgmi,
	}

	if _, ok := a.IP("gfx"); !ok {
		panic("asic " + name + " built without a gfx IP block")
	}

	return a
}
