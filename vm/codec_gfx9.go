package vm

// gfx9Codec covers GFX9 and GFX10. The two differ only in where the PTE
// memory type lives and in GFX10's GCR and (10.3+) LLC_NOALLOC bits.
type gfx9Codec struct {
	tenPlus    bool
	llcNoAlloc bool
}

func (c gfx9Codec) DecodePDE(raw uint64) PDEFields {
	f := PDEFields{
		Valid:     bit(raw, 0),
		System:    bit(raw, 1),
		Coherent:  bit(raw, 2),
		BaseAddr:  raw & PDEBaseMask,
		ActsAsPTE: bit(raw, 54),
		Further:   bit(raw, 56),
		FragSize:  field(raw, 59, 63),
	}

	if c.llcNoAlloc {
		f.LLCNoAlloc = bit(raw, 58)
	}

	return f
}

func (c gfx9Codec) EncodePDE(f PDEFields) uint64 {
	raw := f.BaseAddr & PDEBaseMask

	setBit(&raw, 0, f.Valid)
	setBit(&raw, 1, f.System)
	setBit(&raw, 2, f.Coherent)
	setBit(&raw, 54, f.ActsAsPTE)
	setBit(&raw, 56, f.Further)
	setField(&raw, 59, 63, f.FragSize)

	if c.llcNoAlloc {
		setBit(&raw, 58, f.LLCNoAlloc)
	}

	return raw
}

func (c gfx9Codec) DecodePTE(raw uint64) PTEFields {
	f := PTEFields{
		Valid:    bit(raw, 0),
		System:   bit(raw, 1),
		Coherent: bit(raw, 2),
		TMZ:      bit(raw, 3),
		Execute:  bit(raw, 4),
		Read:     bit(raw, 5),
		Write:    bit(raw, 6),
		Fragment: field(raw, 7, 11),
		PageBase: raw & PTEBaseMask,
		PRT:      bit(raw, 51),
		IsPDE:    bit(raw, 54),
		Further:  bit(raw, 56),
	}

	if c.tenPlus {
		f.MType = field(raw, 48, 49)
		f.GCR = bit(raw, 57)
	} else {
		f.MType = field(raw, 57, 58)
	}

	if c.llcNoAlloc {
		f.NoAlloc = bit(raw, 58)
	}

	return f
}

func (c gfx9Codec) EncodePTE(f PTEFields) uint64 {
	raw := f.PageBase & PTEBaseMask

	setBit(&raw, 0, f.Valid)
	setBit(&raw, 1, f.System)
	setBit(&raw, 2, f.Coherent)
	setBit(&raw, 3, f.TMZ)
	setBit(&raw, 4, f.Execute)
	setBit(&raw, 5, f.Read)
	setBit(&raw, 6, f.Write)
	setField(&raw, 7, 11, f.Fragment)
	setBit(&raw, 51, f.PRT)
	setBit(&raw, 54, f.IsPDE)
	setBit(&raw, 56, f.Further)

	if c.tenPlus {
		setField(&raw, 48, 49, f.MType)
		setBit(&raw, 57, f.GCR)
	} else {
		setField(&raw, 57, 58, f.MType)
	}

	if c.llcNoAlloc {
		setBit(&raw, 58, f.NoAlloc)
	}

	return raw
}

func (c gfx9Codec) PDEActsAsPTE(raw uint64) bool {
	return bit(raw, 54)
}

func (c gfx9Codec) PTEIsFurther(raw uint64) bool {
	return bit(raw, 56)
}
