package userq

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/vm"
)

// Dword indices of the fields this tool reads from a v9-layout compute
// descriptor. The full image is 512 dwords; everything past the wptr
// pair is context-save state the walker never needs.
const (
	mqdBaseAddrLo     = 128
	mqdBaseAddrHi     = 129
	mqdActive         = 130
	mqdVMID           = 131
	mqdPQBaseLo       = 136
	mqdPQBaseHi       = 137
	mqdPQRptr         = 138
	mqdPQRptrReportLo = 139
	mqdPQRptrReportHi = 140
	mqdPQWptrPollLo   = 141
	mqdPQWptrPollHi   = 142
	mqdPQDoorbell     = 143
	mqdPQControl      = 145
	mqdAQLControl     = 181
	mqdPQWptrLo       = 182
	mqdPQWptrHi       = 183

	mqdWords = 184
)

// An MQD is the decoded subset of a compute memory queue descriptor:
// the queue state the CP loads into an HQD slot when the queue is
// scheduled.
type MQD struct {
	// BaseAddr is where the descriptor says it lives, so a fetched
	// image can be checked against the address it came from.
	BaseAddr uint64

	Active bool
	VMID   int

	RingBase uint64
	RingSize uint64

	// Rptr and Wptr are free-running dword counters; mask by
	// RingSize/4-1 for ring offsets.
	Rptr uint64
	Wptr uint64

	RptrReportAddr uint64
	WptrPollAddr   uint64
	DoorbellOffset uint32
	AQL            bool
}

// DecodeMQD decodes a v9-layout compute descriptor image.
func DecodeMQD(img []byte) (MQD, error) {
	if len(img) < mqdWords*4 {
		return MQD{}, fmt.Errorf(
			"mqd image is %d bytes, need %d", len(img), mqdWords*4)
	}

	at := func(i int) uint64 {
		return uint64(binary.LittleEndian.Uint32(img[i*4:]))
	}
	pair := func(lo int) uint64 {
		return at(lo+1)<<32 | at(lo)
	}

	// CP_HQD_PQ_CONTROL.QUEUE_SIZE holds log2 of the ring in dwords,
	// minus one.
	ctl := at(mqdPQControl)

	return MQD{
		BaseAddr: pair(mqdBaseAddrLo) &^ 3,
		Active:   at(mqdActive)&1 != 0,
		VMID:     int(at(mqdVMID) & 0xF),

		RingBase: pair(mqdPQBaseLo) << 8,
		RingSize: 8 << (ctl & 0x3F),

		Rptr: at(mqdPQRptr),
		Wptr: pair(mqdPQWptrLo),

		RptrReportAddr: pair(mqdPQRptrReportLo) &^ 3,
		WptrPollAddr:   pair(mqdPQWptrPollLo) &^ 3,
		DoorbellOffset: uint32(at(mqdPQDoorbell) >> 2 & 0x3FFFFFF),
		AQL:            at(mqdAQLControl)&1 != 0,
	}, nil
}

// FetchMQD reads a queue's descriptor image through its bound context
// and decodes it.
func FetchMQD(
	acc *vm.Accessor,
	snap *vm.ContextSnapshot,
	va uint64,
) (MQD, error) {
	img, err := acc.ReadVMReq(vm.WalkRequest{
		Hub:      amdgpu.HubUser,
		VA:       va,
		Size:     mqdWords * 4,
		Snapshot: snap,
	})
	if err != nil {
		return MQD{}, fmt.Errorf("fetching mqd at 0x%x: %w", va, err)
	}

	return DecodeMQD(img)
}

// ParseMQDDump reads the debugfs descriptor dump: one row per line,
// "offset: dword dword ...", byte offsets in hex, contiguous from
// zero.
func ParseMQDDump(r io.Reader) ([]byte, error) {
	sc := bufio.NewScanner(r)

	var img []byte
	line := 0

	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		offStr, rest, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf("mqd dump line %d: no offset", line)
		}

		off, err := strconv.ParseUint(
			strings.TrimPrefix(strings.TrimSpace(offStr), "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf(
				"mqd dump line %d: bad offset %q", line, offStr)
		}
		if off != uint64(len(img)) {
			return nil, fmt.Errorf(
				"mqd dump line %d: offset 0x%x, expected 0x%x",
				line, off, len(img))
		}

		for _, w := range strings.Fields(rest) {
			v, err := strconv.ParseUint(strings.TrimPrefix(w, "0x"), 16, 32)
			if err != nil {
				return nil, fmt.Errorf(
					"mqd dump line %d: bad dword %q", line, w)
			}
			img = binary.LittleEndian.AppendUint32(img, uint32(v))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return img, nil
}

// DescribeMQD writes the decoded descriptor fields.
func DescribeMQD(w io.Writer, m MQD) {
	fmt.Fprintf(w, "mqd at 0x%x:\n", m.BaseAddr)
	fmt.Fprintf(w, "  active: %v\n", m.Active)
	fmt.Fprintf(w, "  vmid: %d\n", m.VMID)
	fmt.Fprintf(w, "  ring: 0x%x+0x%x\n", m.RingBase, m.RingSize)
	fmt.Fprintf(w, "  rptr: %d  wptr: %d\n", m.Rptr, m.Wptr)
	fmt.Fprintf(w, "  rptr_report: 0x%x\n", m.RptrReportAddr)
	fmt.Fprintf(w, "  wptr_poll: 0x%x\n", m.WptrPollAddr)
	fmt.Fprintf(w, "  doorbell: 0x%x\n", m.DoorbellOffset)
	fmt.Fprintf(w, "  aql: %v\n", m.AQL)
}
