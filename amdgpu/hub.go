package amdgpu

import "fmt"

// A Hub selects which VM register bank translations go through. The GFX
// hub serves the graphics core, the MM hub serves multimedia clients,
// and the VC hubs serve the video codec engines on chips that split
// them out. HubUser is a software-only hub whose registers come from a
// shadow context instead of the device.
//
// Two hubs skip translation entirely: HubLinear addresses are physical
// VRAM, node-concatenated when the chip sits in an XGMI hive, and
// HubProcess addresses are host pointers already mapped into the client
// process.
type Hub int

const (
	HubGFX Hub = iota
	HubMM
	HubVC0
	HubVC1
	HubUser
	HubLinear
	HubProcess
)

func (h Hub) String() string {
	switch h {
	case HubGFX:
		return "gfx"
	case HubMM:
		return "mm"
	case HubVC0:
		return "vc0"
	case HubVC1:
		return "vc1"
	case HubUser:
		return "user"
	case HubLinear:
		return "linear"
	case HubProcess:
		return "process"
	}
	return fmt.Sprintf("hub(%d)", int(h))
}

// IP names the IP block that carries the hub's VM registers. The
// register-less hubs return "".
func (h Hub) IP() string {
	switch h {
	case HubGFX:
		return "gfx"
	case HubMM, HubVC0, HubVC1:
		return "mmhub"
	}
	return ""
}

// RegPrefix is prepended to a bare VM/MC register name to form the full
// register name in the hub's bank, e.g. "mm"+"VM_CONTEXT0_CNTL" for the
// GFX hub and "mmMM"+"VM_CONTEXT0_CNTL" for the MM hub.
func (h Hub) RegPrefix() string {
	switch h {
	case HubGFX:
		return "mm"
	case HubMM:
		return "mmMM"
	case HubVC0:
		return "mmVC0"
	case HubVC1:
		return "mmVC1"
	}
	return ""
}

// ParseHub maps a user-facing hub name to a Hub.
func ParseHub(s string) (Hub, error) {
	switch s {
	case "gfx", "gfxhub", "gc":
		return HubGFX, nil
	case "mm", "mmhub":
		return HubMM, nil
	case "vc0", "vcn0":
		return HubVC0, nil
	case "vc1", "vcn1":
		return HubVC1, nil
	case "user":
		return HubUser, nil
	case "linear", "phys":
		return HubLinear, nil
	case "process", "proc":
		return HubProcess, nil
	}
	return 0, fmt.Errorf("unknown hub %q", s)
}
