package vm

// viCodec handles the pre-GFX9 format: 40-bit page bases, no
// directory-as-page shortcut, no further translation.
type viCodec struct{}

const viBaseMask uint64 = 0x000000FFFFFFF000

func (viCodec) DecodePDE(raw uint64) PDEFields {
	return PDEFields{
		Valid:    bit(raw, 0),
		FragSize: field(raw, 59, 63),
		BaseAddr: raw & viBaseMask,
	}
}

func (viCodec) EncodePDE(f PDEFields) uint64 {
	raw := f.BaseAddr & viBaseMask
	setBit(&raw, 0, f.Valid)
	setField(&raw, 59, 63, f.FragSize)
	return raw
}

func (viCodec) DecodePTE(raw uint64) PTEFields {
	return PTEFields{
		Valid:    bit(raw, 0),
		System:   bit(raw, 1),
		Coherent: bit(raw, 2),
		Execute:  bit(raw, 4),
		Read:     bit(raw, 5),
		Write:    bit(raw, 6),
		Fragment: field(raw, 7, 11),
		PageBase: raw & viBaseMask,
	}
}

func (viCodec) EncodePTE(f PTEFields) uint64 {
	raw := f.PageBase & viBaseMask

	setBit(&raw, 0, f.Valid)
	setBit(&raw, 1, f.System)
	setBit(&raw, 2, f.Coherent)
	setBit(&raw, 4, f.Execute)
	setBit(&raw, 5, f.Read)
	setBit(&raw, 6, f.Write)
	setField(&raw, 7, 11, f.Fragment)

	return raw
}

func (viCodec) PDEActsAsPTE(uint64) bool {
	return false
}

func (viCodec) PTEIsFurther(uint64) bool {
	return false
}
