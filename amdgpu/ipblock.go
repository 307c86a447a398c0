// Package amdgpu models the static shape of an AMD GPU: its IP blocks
// and their discovered versions, the memory hubs that own VM register
// banks, and the XGMI topology the chip participates in.
package amdgpu

import (
	"fmt"
	"strconv"
	"strings"
)

// An IPVersion identifies a discovered IP block revision, e.g. 11.0.2.
type IPVersion struct {
	Major int
	Minor int
	Rev   int
}

func (v IPVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Rev)
}

// AtLeast reports whether the version is at or above major.minor.
func (v IPVersion) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// Cmp returns -1, 0, or 1 comparing v with o in version order.
func (v IPVersion) Cmp(o IPVersion) int {
	a := [3]int{v.Major, v.Minor, v.Rev}
	b := [3]int{o.Major, o.Minor, o.Rev}
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ParseIPVersion parses "major.minor.rev". Minor and rev may be omitted.
func ParseIPVersion(s string) (IPVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) == 0 || len(parts) > 3 {
		return IPVersion{}, fmt.Errorf("malformed ip version %q", s)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return IPVersion{}, fmt.Errorf("malformed ip version %q: %w", s, err)
		}
		nums[i] = n
	}

	return IPVersion{Major: nums[0], Minor: nums[1], Rev: nums[2]}, nil
}

// An IPBlock is one hardware IP instance group on the die, such as the
// graphics core or an SDMA engine, together with its version and the
// number of register-bank instances it exposes.
type IPBlock struct {
	Name      string
	Version   IPVersion
	Instances int
}
