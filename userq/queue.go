// Package userq locates user-mode hardware queues and binds their VM
// contexts so the walker can translate a process's address space
// without a live VMID. The kernel exposes the queue list and the MQD
// images as debugfs text files; their line formats are a fixed ABI and
// are parsed exactly as written.
package userq

import (
	"fmt"
	"io"

	"github.com/sarchlab/gpuprobe/amdgpu"
)

// QueueType names the engine a user queue feeds.
type QueueType int

const (
	QueueCompute QueueType = iota
	QueueSDMA
	QueueGFX
)

func (t QueueType) String() string {
	switch t {
	case QueueCompute:
		return "compute"
	case QueueSDMA:
		return "sdma"
	case QueueGFX:
		return "gfx"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// PointerUnit returns the byte width of one rptr/wptr step for the
// engine: sdma pointers count bytes, everything else counts dwords.
// AQL queues override this with their packet-slot stride.
func (t QueueType) PointerUnit() uint64 {
	if t == QueueSDMA {
		return 1
	}
	return 4
}

// ParseQueueType maps the dump's type name to a QueueType.
func ParseQueueType(s string) (QueueType, error) {
	switch s {
	case "compute":
		return QueueCompute, nil
	case "sdma":
		return QueueSDMA, nil
	case "gfx":
		return QueueGFX, nil
	}
	return 0, fmt.Errorf("unknown queue type %q", s)
}

// A Queue is one user-mode queue as the kernel dump reports it: the
// ring the process submits to, where the doorbell and descriptor live,
// and the VM context the queue's addresses translate under.
type Queue struct {
	ID      int
	PID     int
	Process string
	Hub     amdgpu.Hub
	Type    QueueType

	RingBase uint64
	RingSize uint64
	RptrAddr uint64
	WptrAddr uint64
	Doorbell uint64
	MQDAddr  uint64

	// The per-queue VM context, in the same units the context
	// registers would hold after shifting: byte addresses, end
	// inclusive.
	PageTableBase uint64
	VAStart       uint64
	VAEnd         uint64
	Depth         int
	BlockSize     uint32
}

func (q Queue) String() string {
	return fmt.Sprintf("queue %d: %s/%s ring 0x%x+0x%x pid %d (%s)",
		q.ID, q.Hub, q.Type, q.RingBase, q.RingSize, q.PID, q.Process)
}

// Find returns the queue with the given id.
func Find(queues []Queue, id int) (Queue, bool) {
	for _, q := range queues {
		if q.ID == id {
			return q, true
		}
	}
	return Queue{}, false
}

// Describe writes one queue back out in the dump's own stanza format.
func Describe(w io.Writer, q Queue) {
	fmt.Fprintf(w, "queue %d:\n", q.ID)
	fmt.Fprintf(w, "  process: %d (%s)\n", q.PID, q.Process)
	fmt.Fprintf(w, "  hub: %s\n", q.Hub)
	fmt.Fprintf(w, "  type: %s\n", q.Type)
	fmt.Fprintf(w, "  ring_base: 0x%x\n", q.RingBase)
	fmt.Fprintf(w, "  ring_size: 0x%x\n", q.RingSize)
	fmt.Fprintf(w, "  rptr_addr: 0x%x\n", q.RptrAddr)
	fmt.Fprintf(w, "  wptr_addr: 0x%x\n", q.WptrAddr)
	fmt.Fprintf(w, "  doorbell: 0x%x\n", q.Doorbell)
	fmt.Fprintf(w, "  mqd: 0x%x\n", q.MQDAddr)
	fmt.Fprintf(w, "  page_table_base: 0x%x\n", q.PageTableBase)
	fmt.Fprintf(w, "  va_start: 0x%x\n", q.VAStart)
	fmt.Fprintf(w, "  va_end: 0x%x\n", q.VAEnd)
	fmt.Fprintf(w, "  depth: %d\n", q.Depth)
	fmt.Fprintf(w, "  block_size: %d\n", q.BlockSize)
}
