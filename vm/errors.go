package vm

import (
	"errors"
	"fmt"

	"github.com/sarchlab/gpuprobe/amdgpu"
)

// A Class sorts translation failures into the buckets callers act on:
// retry, report, or give up.
type Class int

const (
	// ClassRegister covers failures to read or resolve the VM and MC
	// registers a walk needs.
	ClassRegister Class = iota

	// ClassNoMapping covers addresses with no valid translation:
	// invalid entries, addresses outside the context's range, or a
	// disabled context.
	ClassNoMapping

	// ClassBackend covers failures of the physical backends the
	// translated address resolves to.
	ClassBackend

	// ClassDecode covers malformed structures found during
	// translation, such as a further chain that never terminates.
	ClassDecode

	// ClassGFXOff marks the graphics core being power-gated, which
	// makes its registers unreadable until it wakes.
	ClassGFXOff
)

func (c Class) String() string {
	switch c {
	case ClassRegister:
		return "register"
	case ClassNoMapping:
		return "no-mapping"
	case ClassBackend:
		return "backend"
	case ClassDecode:
		return "decode"
	case ClassGFXOff:
		return "gfxoff"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Sentinels wrapped by classed errors. ErrOutOfRange is a kind of
// ErrNoMapping, so matching the broader sentinel catches both.
var (
	ErrNoMapping  = errors.New("no valid mapping")
	ErrOutOfRange = fmt.Errorf("address outside page-table range: %w", ErrNoMapping)
	ErrGFXOff     = errors.New("graphics core is power-gated")
)

// An Error is a classed translation failure carrying the address
// context it happened at.
type Error struct {
	Class Class
	Hub   amdgpu.Hub
	VMID  int
	VA    uint64
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s hub=%s vmid=%d va=0x%x: %v",
		e.Class, e.Hub, e.VMID, e.VA, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify returns the class of a translation error, or ClassBackend
// for errors that did not come out of this package.
func Classify(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassBackend
}

func classed(class Class, hub amdgpu.Hub, vmid int, va uint64, err error) error {
	return &Error{Class: class, Hub: hub, VMID: vmid, VA: va, Err: err}
}
