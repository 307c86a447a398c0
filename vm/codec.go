package vm

import "github.com/sarchlab/gpuprobe/amdgpu"

// An EntryCodec translates between raw 64-bit page-table entries and
// decoded fields for one chip generation. The raw-value predicates
// exist because the bit that distinguishes directory entries from page
// entries moved and flipped sense across generations; walkers never
// test bits directly.
type EntryCodec interface {
	DecodePDE(raw uint64) PDEFields
	DecodePTE(raw uint64) PTEFields
	EncodePDE(f PDEFields) uint64
	EncodePTE(f PTEFields) uint64

	// PDEActsAsPTE reports whether a directory-level entry terminates
	// the walk, mapping its whole span.
	PDEActsAsPTE(raw uint64) bool

	// PTEIsFurther reports whether a table-level entry points at one
	// more level of translation instead of a page.
	PTEIsFurther(raw uint64) bool
}

// CodecFor selects the codec matching a graphics core version. Versions
// below 9 use the flat pre-GFX9 format.
func CodecFor(v amdgpu.IPVersion) EntryCodec {
	switch {
	case v.Major >= 12:
		return gfx12Codec{}
	case v.Major == 11:
		return gfx11Codec{}
	case v.Major >= 9:
		return gfx9Codec{
			tenPlus:    v.Major >= 10,
			llcNoAlloc: v.Major == 10 && v.Minor >= 3,
		}
	default:
		return viCodec{}
	}
}
