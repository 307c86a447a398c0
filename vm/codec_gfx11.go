package vm

// gfx11Codec extends the GFX10 layout with a PDE memory type and the
// translate-further-subtree address bit.
type gfx11Codec struct{}

func (gfx11Codec) DecodePDE(raw uint64) PDEFields {
	return PDEFields{
		Valid:      bit(raw, 0),
		System:     bit(raw, 1),
		Coherent:   bit(raw, 2),
		BaseAddr:   raw & PDEBaseMask,
		MType:      field(raw, 48, 50),
		ActsAsPTE:  bit(raw, 54),
		Further:    bit(raw, 56),
		TFSAddr:    bit(raw, 57),
		LLCNoAlloc: bit(raw, 58),
		FragSize:   field(raw, 59, 63),
	}
}

func (gfx11Codec) EncodePDE(f PDEFields) uint64 {
	raw := f.BaseAddr & PDEBaseMask

	setBit(&raw, 0, f.Valid)
	setBit(&raw, 1, f.System)
	setBit(&raw, 2, f.Coherent)
	setField(&raw, 48, 50, f.MType)
	setBit(&raw, 54, f.ActsAsPTE)
	setBit(&raw, 56, f.Further)
	setBit(&raw, 57, f.TFSAddr)
	setBit(&raw, 58, f.LLCNoAlloc)
	setField(&raw, 59, 63, f.FragSize)

	return raw
}

func (gfx11Codec) DecodePTE(raw uint64) PTEFields {
	return PTEFields{
		Valid:    bit(raw, 0),
		System:   bit(raw, 1),
		Coherent: bit(raw, 2),
		TMZ:      bit(raw, 3),
		Execute:  bit(raw, 4),
		Read:     bit(raw, 5),
		Write:    bit(raw, 6),
		Fragment: field(raw, 7, 11),
		PageBase: raw & PTEBaseMask,
		MType:    field(raw, 48, 49),
		PRT:      bit(raw, 51),
		Software: field(raw, 52, 53),
		IsPDE:    bit(raw, 54),
		Further:  bit(raw, 56),
		GCR:      bit(raw, 57),
		NoAlloc:  bit(raw, 58),
	}
}

func (gfx11Codec) EncodePTE(f PTEFields) uint64 {
	raw := f.PageBase & PTEBaseMask

	setBit(&raw, 0, f.Valid)
	setBit(&raw, 1, f.System)
	setBit(&raw, 2, f.Coherent)
	setBit(&raw, 3, f.TMZ)
	setBit(&raw, 4, f.Execute)
	setBit(&raw, 5, f.Read)
	setBit(&raw, 6, f.Write)
	setField(&raw, 7, 11, f.Fragment)
	setField(&raw, 48, 49, f.MType)
	setBit(&raw, 51, f.PRT)
	setField(&raw, 52, 53, f.Software)
	setBit(&raw, 54, f.IsPDE)
	setBit(&raw, 56, f.Further)
	setBit(&raw, 57, f.GCR)
	setBit(&raw, 58, f.NoAlloc)

	return raw
}

func (gfx11Codec) PDEActsAsPTE(raw uint64) bool {
	return bit(raw, 54)
}

func (gfx11Codec) PTEIsFurther(raw uint64) bool {
	return bit(raw, 56)
}
