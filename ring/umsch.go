package ring

import "fmt"

// Scheduler API frames start with one dword: type in [3:0], opcode in
// [11:4], frame length in dwords (header included) in [19:12].
const umschTypeScheduler = 1

const (
	umschOpAddQueue    = 2
	umschOpRemoveQueue = 3
	umschOpSuspend     = 6
	umschOpResume      = 7
)

var umschOpcodeNames = map[uint32]string{
	0:  "SET_HW_RSRC",
	1:  "SET_SCHEDULING_CONFIG",
	2:  "ADD_QUEUE",
	3:  "REMOVE_QUEUE",
	4:  "PERFORM_YIELD",
	5:  "SET_GANG_PRIORITY_LEVEL",
	6:  "SUSPEND",
	7:  "RESUME",
	8:  "RESET",
	9:  "SET_LOG_BUFFER",
	10: "CHANGE_GANG_PRIORITY",
	11: "QUERY_SCHEDULER_STATUS",
	12: "PROGRAM_GDS",
	13: "SET_DEBUG_VMID",
	14: "MISC",
	15: "UPDATE_ROOT_PAGE_TABLE",
	16: "AMD_LOG",
}

// UMSCHDecoder decodes the user-mode scheduler's metadata queue, the
// stream of API frames the driver feeds the scheduler firmware. Queue
// management frames carry the per-process VM context, so this is where
// user-queue page-table bases show up on the wire.
type UMSCHDecoder struct{}

func NewUMSCHDecoder() *UMSCHDecoder {
	return &UMSCHDecoder{}
}

// Decode splits data into scheduler API frames. from is the virtual
// address of data's first byte.
func (d *UMSCHDecoder) Decode(data []byte, from uint64) ([]Packet, error) {
	w := words(data)

	var pkts []Packet
	i := 0
	for i < len(w) {
		hdr := w[i]
		typ := hdr & 0xF
		op := hdr >> 4 & 0xFF
		n := int(hdr >> 12 & 0xFF)

		if n <= 0 {
			return pkts, fmt.Errorf(
				"cannot size scheduler frame at 0x%x", from+uint64(i)*4)
		}
		if i+n > len(w) {
			return pkts, fmt.Errorf(
				"scheduler frame at 0x%x runs past the stream",
				from+uint64(i)*4)
		}

		raw := w[i : i+n]
		p := Packet{
			Offset: from + uint64(i)*4,
			Raw:    raw,
			Opcode: op,
		}
		if typ == umschTypeScheduler {
			p.Name = umschOpcodeNames[op]
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("UNK_%X_%02X", typ, op)
		}

		if typ == umschTypeScheduler {
			switch op {
			case umschOpAddQueue:
				decodeAddQueue(&p, raw)
			case umschOpRemoveQueue:
				if len(raw) >= 4 {
					p.Fields = append(p.Fields,
						Field{"DOORBELL_OFFSET", uint64(raw[1])},
						Field{"GANG_CONTEXT", pair(raw[2], raw[3])},
					)
				}
			case umschOpSuspend, umschOpResume:
				if len(raw) >= 4 {
					p.Fields = append(p.Fields,
						Field{"GANG_CONTEXT", pair(raw[2], raw[3])},
					)
				}
			}
		}

		pkts = append(pkts, p)

		i += n
	}

	return pkts, nil
}

// decodeAddQueue pulls the queue descriptor out of an ADD_QUEUE frame.
// The payload is packed to dword alignment, so the mqd and wptr
// addresses straddle dword pairs.
func decodeAddQueue(p *Packet, raw []uint32) {
	if len(raw) < 23 {
		return
	}
	p.Fields = append(p.Fields,
		Field{"PROCESS_ID", uint64(raw[1])},
		Field{"PAGE_TABLE_BASE", pair(raw[2], raw[3])},
		Field{"VA_START", pair(raw[4], raw[5])},
		Field{"VA_END", pair(raw[6], raw[7])},
		Field{"PROCESS_QUANTUM", pair(raw[8], raw[9])},
		Field{"PROCESS_CONTEXT", pair(raw[10], raw[11])},
		Field{"GANG_QUANTUM", pair(raw[12], raw[13])},
		Field{"GANG_CONTEXT", pair(raw[14], raw[15])},
		Field{"INPROCESS_GANG_PRIORITY", uint64(raw[16])},
		Field{"GANG_GLOBAL_PRIORITY_LEVEL", uint64(raw[17])},
		Field{"DOORBELL_OFFSET", uint64(raw[18])},
		Field{"MQD_ADDR", pair(raw[19], raw[20])},
		Field{"WPTR_ADDR", pair(raw[21], raw[22])},
	)
}
