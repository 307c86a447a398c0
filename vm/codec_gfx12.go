package vm

// gfx12Codec handles the reshuffled GFX12 layout. The directory/page
// distinction moved to bit 63 and flipped sense: a set bit means the
// entry is a PTE, so a clear bit inside a PTB sends the walk further.
type gfx12Codec struct{}

func (gfx12Codec) DecodePDE(raw uint64) PDEFields {
	return PDEFields{
		Valid:     bit(raw, 0),
		System:    bit(raw, 1),
		Coherent:  bit(raw, 2),
		BaseAddr:  raw & PDEBaseMask,
		PARsvd:    field(raw, 48, 51),
		MallReuse: field(raw, 54, 55),
		TFSAddr:   bit(raw, 56),
		FragSize:  field(raw, 58, 62),
		ActsAsPTE: bit(raw, 63),
	}
}

func (gfx12Codec) EncodePDE(f PDEFields) uint64 {
	raw := f.BaseAddr & PDEBaseMask

	setBit(&raw, 0, f.Valid)
	setBit(&raw, 1, f.System)
	setBit(&raw, 2, f.Coherent)
	setField(&raw, 48, 51, f.PARsvd)
	setField(&raw, 54, 55, f.MallReuse)
	setBit(&raw, 56, f.TFSAddr)
	setField(&raw, 58, 62, f.FragSize)
	setBit(&raw, 63, f.ActsAsPTE)

	return raw
}

func (gfx12Codec) DecodePTE(raw uint64) PTEFields {
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
		PARsvd:   field(raw, 48, 51),
		Software: field(raw, 52, 53),
		MType:    field(raw, 54, 55),
		PRT:      bit(raw, 56),
		GCR:      bit(raw, 57),
		DCC:      bit(raw, 58),
	}

	// Bit 63 clear means the entry continues the walk.
	f.IsPDE = !bit(raw, 63)
	f.Further = f.IsPDE

	return f
}

func (gfx12Codec) EncodePTE(f PTEFields) uint64 {
	raw := f.PageBase & PTEBaseMask

	setBit(&raw, 0, f.Valid)
	setBit(&raw, 1, f.System)
	setBit(&raw, 2, f.Coherent)
	setBit(&raw, 3, f.TMZ)
	setBit(&raw, 4, f.Execute)
	setBit(&raw, 5, f.Read)
	setBit(&raw, 6, f.Write)
	setField(&raw, 7, 11, f.Fragment)
	setField(&raw, 48, 51, f.PARsvd)
	setField(&raw, 52, 53, f.Software)
	setField(&raw, 54, 55, f.MType)
	setBit(&raw, 56, f.PRT)
	setBit(&raw, 57, f.GCR)
	setBit(&raw, 58, f.DCC)
	setBit(&raw, 63, !f.IsPDE)

	return raw
}

func (gfx12Codec) PDEActsAsPTE(raw uint64) bool {
	return bit(raw, 63)
}

func (gfx12Codec) PTEIsFurther(raw uint64) bool {
	return !bit(raw, 63)
}
