package regdb

import (
	"errors"
	"fmt"
)

// MMIO is the only device-touching surface in the toolkit. One MMIO
// serves one register bank, the aperture of one (ip, instance) pair.
type MMIO interface {
	ReadReg(offset uint64) (uint32, error)
	WriteReg(offset uint64, value uint32) error
}

// MapMMIO is an MMIO backed by a plain map, used by the harness and by
// tests to stand in for a device aperture.
type MapMMIO struct {
	regs map[uint64]uint32
}

func NewMapMMIO() *MapMMIO {
	return &MapMMIO{regs: make(map[uint64]uint32)}
}

func (m *MapMMIO) ReadReg(offset uint64) (uint32, error) {
	return m.regs[offset], nil
}

func (m *MapMMIO) WriteReg(offset uint64, value uint32) error {
	m.regs[offset] = value
	return nil
}

type bankKey struct {
	ip   string
	inst int
}

// An Accessor reads and writes registers by name. It binds a Database
// to the MMIO bank of each (ip, instance) pair.
type Accessor struct {
	db    Database
	banks map[bankKey]MMIO
}

func NewAccessor(db Database) *Accessor {
	return &Accessor{
		db:    db,
		banks: make(map[bankKey]MMIO),
	}
}

// BindBank attaches the MMIO aperture serving one instance of an IP.
func (a *Accessor) BindBank(ip string, inst int, m MMIO) {
	a.banks[bankKey{ip, inst}] = m
}

// Database exposes the bound metadata database.
func (a *Accessor) Database() Database {
	return a.db
}

func (a *Accessor) bank(ip string, inst int) (MMIO, error) {
	m, ok := a.banks[bankKey{ip, inst}]
	if !ok {
		return nil, fmt.Errorf("no register bank bound for %s[%d]", ip, inst)
	}
	return m, nil
}

// Read reads a register by name.
func (a *Accessor) Read(ip string, inst int, name string) (uint32, error) {
	reg, err := a.db.Lookup(ip, name)
	if err != nil {
		return 0, err
	}

	m, err := a.bank(ip, inst)
	if err != nil {
		return 0, err
	}

	v, err := m.ReadReg(reg.Offset)
	if err != nil {
		return 0, fmt.Errorf("read %s[%d].%s: %w", ip, inst, name, err)
	}

	return v, nil
}

// Write writes a register by name.
func (a *Accessor) Write(ip string, inst int, name string, value uint32) error {
	reg, err := a.db.Lookup(ip, name)
	if err != nil {
		return err
	}

	m, err := a.bank(ip, inst)
	if err != nil {
		return err
	}

	if err := m.WriteReg(reg.Offset, value); err != nil {
		return fmt.Errorf("write %s[%d].%s: %w", ip, inst, name, err)
	}

	return nil
}

// ReadField reads a register and extracts one bitfield.
func (a *Accessor) ReadField(
	ip string,
	inst int,
	name string,
	field string,
) (uint32, error) {
	reg, err := a.db.Lookup(ip, name)
	if err != nil {
		return 0, err
	}

	f, err := reg.Field(field)
	if err != nil {
		return 0, err
	}

	v, err := a.Read(ip, inst, name)
	if err != nil {
		return 0, err
	}

	return f.Extract(v), nil
}

// WriteField read-modify-writes one bitfield of a register.
func (a *Accessor) WriteField(
	ip string,
	inst int,
	name string,
	field string,
	value uint32,
) error {
	reg, err := a.db.Lookup(ip, name)
	if err != nil {
		return err
	}

	f, err := reg.Field(field)
	if err != nil {
		return err
	}

	v, err := a.Read(ip, inst, name)
	if err != nil {
		return err
	}

	return a.Write(ip, inst, name, f.Insert(v, value))
}

// ReadAny tries candidate register names in order and returns the first
// that resolves. Register naming drifts across chip generations; this
// keeps callers out of the renaming business.
func (a *Accessor) ReadAny(
	ip string,
	inst int,
	names ...string,
) (uint32, error) {
	for _, n := range names {
		v, err := a.Read(ip, inst, n)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("register %s.{%v}: %w", ip, names, ErrNotFound)
}

// Read64 combines a LO32/HI32 register pair into one value.
func (a *Accessor) Read64(
	ip string,
	inst int,
	loName string,
	hiName string,
) (uint64, error) {
	lo, err := a.Read(ip, inst, loName)
	if err != nil {
		return 0, err
	}

	hi, err := a.Read(ip, inst, hiName)
	if err != nil {
		return 0, err
	}

	return uint64(hi)<<32 | uint64(lo), nil
}
