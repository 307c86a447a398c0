// Package regdb holds the register metadata database and the accessor
// that reads and writes registers by name through a narrow MMIO
// interface. It knows names, offsets, and bitfields; it knows nothing
// about what the registers mean.
package regdb

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound reports that a register or bitfield name is not in the
// database.
var ErrNotFound = errors.New("not found")

// A Bitfield is a contiguous bit range [Lo, Hi] inside a 32-bit
// register.
type Bitfield struct {
	Name string
	Lo   uint
	Hi   uint
}

// Extract returns the field value shifted down to bit 0.
func (f Bitfield) Extract(v uint32) uint32 {
	width := f.Hi - f.Lo + 1
	if width >= 32 {
		return v >> f.Lo
	}
	return (v >> f.Lo) & ((1 << width) - 1)
}

// Insert replaces the field's bits inside v with val.
func (f Bitfield) Insert(v uint32, val uint32) uint32 {
	width := f.Hi - f.Lo + 1
	var mask uint32 = 0xFFFFFFFF
	if width < 32 {
		mask = (1 << width) - 1
	}
	return (v &^ (mask << f.Lo)) | ((val & mask) << f.Lo)
}

// A Register is one 32-bit MMIO register with its dword-aligned byte
// offset inside the owning IP's register aperture.
type Register struct {
	Name      string
	Offset    uint64
	Bitfields []Bitfield
}

// Field looks up a bitfield by name.
func (r *Register) Field(name string) (Bitfield, error) {
	for _, f := range r.Bitfields {
		if f.Name == name {
			return f, nil
		}
	}
	return Bitfield{}, fmt.Errorf("field %s.%s: %w", r.Name, name, ErrNotFound)
}

// A Database resolves register names to metadata, per IP block. All
// instances of an IP share one layout.
type Database interface {
	Lookup(ip string, name string) (*Register, error)
	Registers(ip string) []*Register
}

// StaticDatabase is an in-memory Database populated by registration
// calls, either from the built-in defaults or from a harness file.
type StaticDatabase struct {
	regs    map[string]map[string]*Register
	nextOff map[string]uint64
}

func NewStaticDatabase() *StaticDatabase {
	return &StaticDatabase{
		regs:    make(map[string]map[string]*Register),
		nextOff: make(map[string]uint64),
	}
}

// Add registers reg under ip, assigning the next free offset. It
// returns the stored register so callers can capture the offset.
func (d *StaticDatabase) Add(ip string, reg Register) *Register {
	reg.Offset = d.nextOff[ip]
	d.nextOff[ip] = reg.Offset + 4
	return d.put(ip, reg)
}

// AddAt registers reg under ip at an explicit offset.
func (d *StaticDatabase) AddAt(ip string, offset uint64, reg Register) *Register {
	reg.Offset = offset
	if offset+4 > d.nextOff[ip] {
		d.nextOff[ip] = offset + 4
	}
	return d.put(ip, reg)
}

func (d *StaticDatabase) put(ip string, reg Register) *Register {
	if d.regs[ip] == nil {
		d.regs[ip] = make(map[string]*Register)
	}

	if _, dup := d.regs[ip][reg.Name]; dup {
		panic(fmt.Sprintf("register %s.%s registered twice", ip, reg.Name))
	}

	stored := reg
	d.regs[ip][reg.Name] = &stored

	return &stored
}

func (d *StaticDatabase) Lookup(ip string, name string) (*Register, error) {
	reg, ok := d.regs[ip][name]
	if !ok {
		return nil, fmt.Errorf("register %s.%s: %w", ip, name, ErrNotFound)
	}
	return reg, nil
}

// Registers lists the registers of an IP in offset order.
func (d *StaticDatabase) Registers(ip string) []*Register {
	out := make([]*Register, 0, len(d.regs[ip]))
	for _, r := range d.regs[ip] {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Offset < out[j].Offset
	})

	return out
}
