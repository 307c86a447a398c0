package vm

import (
	"fmt"
	"io"

	"github.com/sarchlab/gpuprobe/amdgpu"
)

// Severity grades walk diagnostics.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// A Scope identifies the translation a stream of events belongs to.
type Scope struct {
	Hub       amdgpu.Hub
	VMID      int
	Partition int
	VA        uint64
}

// A RegisterEvent reports one register harvested for a walk.
type RegisterEvent struct {
	Name  string
	Value uint64
}

// A LevelEvent reports one page-table entry visited during a walk.
// Exactly one of PDE and PTE is set.
type LevelEvent struct {
	Level     int
	Index     uint64
	EntryAddr uint64
	Raw       uint64
	PDE       *PDEFields
	PTE       *PTEFields
}

// A PageEvent reports one finished page translation.
type PageEvent struct {
	VA    uint64
	Loc   Location
	Span  uint64
	Flags PTEFields
}

// A MessageEvent carries a classed diagnostic that did not stop the
// walk.
type MessageEvent struct {
	Severity Severity
	Class    Class
	Text     string
}

// An EventSink observes walk progress. Implementations must tolerate
// being called for overlapping scopes; walkers serialize events within
// one Walk call only.
type EventSink interface {
	Event(scope Scope, item any)
}

// NopSink drops everything.
type NopSink struct{}

func (NopSink) Event(Scope, any) {}

// MultiSink fans events out in order.
type MultiSink []EventSink

func (m MultiSink) Event(scope Scope, item any) {
	for _, s := range m {
		s.Event(scope, item)
	}
}

// A LogSink renders events as indented text, the format the CLI prints
// for vm-decode.
type LogSink struct {
	W io.Writer
}

func (l LogSink) Event(scope Scope, item any) {
	switch ev := item.(type) {
	case RegisterEvent:
		fmt.Fprintf(l.W, "  %s = 0x%x\n", ev.Name, ev.Value)
	case LevelEvent:
		if ev.PDE != nil {
			fmt.Fprintf(l.W, "  L%d[%d] @0x%012x = 0x%016x  %s\n",
				ev.Level, ev.Index, ev.EntryAddr, ev.Raw, ev.PDE)
		} else {
			fmt.Fprintf(l.W, "  L%d[%d] @0x%012x = 0x%016x  %s\n",
				ev.Level, ev.Index, ev.EntryAddr, ev.Raw, ev.PTE)
		}
	case PageEvent:
		fmt.Fprintf(l.W, "  va=0x%012x -> %s span=0x%x\n",
			ev.VA, ev.Loc, ev.Span)
	case MessageEvent:
		fmt.Fprintf(l.W, "  %s(%s): %s\n", ev.Severity, ev.Class, ev.Text)
	default:
		fmt.Fprintf(l.W, "  %v\n", item)
	}
}
