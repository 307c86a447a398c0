package capture

import (
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sarchlab/gpuprobe/ring"
	"github.com/sarchlab/gpuprobe/vm"
)

// A WalkRecord is one finished page translation.
type WalkRecord struct {
	WalkID string
	Hub    string
	VMID   int
	Part   int
	VA     uint64
	Space  string
	Node   int
	PA     uint64
	Flags  string
}

// A LevelRecord is one page-table entry visited on the way down.
type LevelRecord struct {
	WalkID    string
	Level     int
	Idx       uint64
	EntryAddr uint64
	Raw       string
	Decoded   string
}

// A RegisterRecord is one register harvested for a walk.
type RegisterRecord struct {
	WalkID string
	Name   string
	Value  string
}

// A MessageRecord is one diagnostic a walk produced.
type MessageRecord struct {
	WalkID   string
	Severity string
	Class    string
	Text     string
}

// A PacketRecord is one decoded command packet.
type PacketRecord struct {
	Ring    string
	Offset  uint64
	Name    string
	Opcode  uint32
	Words   int
	Summary string
}

// A Sink streams walker events into a capture database. Wire it in
// with vm.MakeBuilder().WithEventSink; events for a new scope open a
// new walk id, so the records of one translation group together.
type Sink struct {
	rec Recorder

	scope  vm.Scope
	walkID string
}

func NewSink(rec Recorder) *Sink {
	ensureTable(rec, "walks", WalkRecord{})
	ensureTable(rec, "levels", LevelRecord{})
	ensureTable(rec, "registers", RegisterRecord{})
	ensureTable(rec, "messages", MessageRecord{})

	return &Sink{rec: rec}
}

func (s *Sink) Event(scope vm.Scope, item any) {
	if s.walkID == "" || scope != s.scope {
		s.scope = scope
		s.walkID = xid.New().String()
	}

	switch ev := item.(type) {
	case vm.RegisterEvent:
		s.rec.Insert("registers", RegisterRecord{
			WalkID: s.walkID,
			Name:   ev.Name,
			Value:  fmt.Sprintf("0x%x", ev.Value),
		})

	case vm.LevelEvent:
		decoded := ""
		if ev.PDE != nil {
			decoded = ev.PDE.String()
		} else if ev.PTE != nil {
			decoded = ev.PTE.String()
		}

		s.rec.Insert("levels", LevelRecord{
			WalkID:    s.walkID,
			Level:     ev.Level,
			Idx:       ev.Index,
			EntryAddr: ev.EntryAddr,
			Raw:       fmt.Sprintf("0x%016x", ev.Raw),
			Decoded:   decoded,
		})

	case vm.PageEvent:
		s.rec.Insert("walks", WalkRecord{
			WalkID: s.walkID,
			Hub:    scope.Hub.String(),
			VMID:   scope.VMID,
			Part:   scope.Partition,
			VA:     ev.VA,
			Space:  ev.Loc.Space.String(),
			Node:   ev.Loc.Node,
			PA:     ev.Loc.Addr,
			Flags:  ev.Flags.String(),
		})

	case vm.MessageEvent:
		s.rec.Insert("messages", MessageRecord{
			WalkID:   s.walkID,
			Severity: ev.Severity.String(),
			Class:    ev.Class.String(),
			Text:     ev.Text,
		})
	}
}

// RecordPackets stores one decode run. Indirect buffers flatten under
// a derived ring name carrying the buffer address, so nesting stays
// visible in a flat table.
func RecordPackets(rec Recorder, ringName string, pkts []ring.Packet) {
	ensureTable(rec, "packets", PacketRecord{})
	recordPackets(rec, ringName, pkts)
}

func recordPackets(rec Recorder, name string, pkts []ring.Packet) {
	for _, p := range pkts {
		rec.Insert("packets", PacketRecord{
			Ring:    name,
			Offset:  p.Offset,
			Name:    p.Name,
			Opcode:  p.Opcode,
			Words:   len(p.Raw),
			Summary: summarize(p),
		})

		if p.IB != nil {
			recordPackets(rec,
				fmt.Sprintf("%s/ib@0x%x", name, p.IB.VA), p.IB.Packets)
		}
	}
}

func summarize(p ring.Packet) string {
	var parts []string

	for _, f := range p.Fields {
		parts = append(parts, fmt.Sprintf("%s=0x%x", f.Name, f.Value))
	}
	if p.Shader != nil {
		parts = append(parts, fmt.Sprintf("shader=0x%x", p.Shader.VA))
	}
	if len(p.Data) > 0 {
		parts = append(parts, fmt.Sprintf("data=%d bytes", len(p.Data)))
	}
	if p.Err != nil {
		parts = append(parts, "err="+p.Err.Error())
	}

	return strings.Join(parts, " ")
}

func ensureTable(rec Recorder, name string, sample any) {
	for _, t := range rec.ListTables() {
		if t == name {
			return
		}
	}

	rec.CreateTable(name, sample)
}
