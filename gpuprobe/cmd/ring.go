package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarchlab/gpuprobe/capture"
	"github.com/sarchlab/gpuprobe/harness"
	"github.com/sarchlab/gpuprobe/ring"
)

func newRingDecodeCmd(p *probe) *cobra.Command {
	var (
		name   string
		from   uint64
		nWords uint64
	)

	c := &cobra.Command{
		Use:   "ring-decode",
		Short: "Decode the pending window of a command ring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := p.device()
			if err != nil {
				return err
			}

			r, dec, err := resolveRing(dev, name)
			if err != nil {
				return err
			}

			var (
				data   []byte
				fromVA uint64
			)

			if cmd.Flags().Changed("from") || cmd.Flags().Changed("words") {
				data, fromVA, err = ringSlice(dev, r, from, nWords)
			} else {
				data, fromVA, err = dev.Rings.Window(r)
			}
			if err != nil {
				return err
			}

			pkts, err := dec.Decode(data, fromVA)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ring %s base 0x%x size 0x%x rptr 0x%x wptr 0x%x\n",
				r.Name, r.Base, r.Size, r.Rptr, r.Wptr)
			printPackets(out, pkts, 1)

			if rec := p.recorder(); rec != nil {
				capture.RecordPackets(rec, r.Name, pkts)
			}

			return nil
		},
	}

	c.Flags().StringVar(&name, "ring", "",
		"ring to decode: gfx, sdma<n>, or userq<id>")
	_ = c.MarkFlagRequired("ring")
	c.Flags().Uint64Var(&from, "from", 0,
		"decode from this byte offset instead of rptr")
	c.Flags().Uint64Var(&nWords, "words", 0,
		"dwords to decode instead of the pending window")

	return c
}

// resolveRing finds a ring and the decoder its stream needs. Kernel
// rings come from registers, "userq<id>" rings from the loaded queue
// list.
func resolveRing(dev *harness.Device, name string) (ring.Ring, ring.Decoder, error) {
	if rest, ok := strings.CutPrefix(name, "userq"); ok {
		id, err := strconv.Atoi(rest)
		if err != nil {
			return ring.Ring{}, nil, fmt.Errorf("bad queue ring %q", name)
		}
		return dev.QueueStream(id)
	}

	r, err := dev.Rings.KernelRing(name)
	if err != nil {
		return ring.Ring{}, nil, err
	}

	if strings.HasPrefix(name, "sdma") {
		return r, ring.NewSDMADecoder(dev.Acc, r.Hub, r.VMID), nil
	}

	return r, ring.NewPM4Decoder(dev.Acc, r.Hub, r.VMID), nil
}

// ringSlice cuts an explicit window out of the full ring content.
func ringSlice(
	dev *harness.Device,
	r ring.Ring,
	from uint64,
	nWords uint64,
) ([]byte, uint64, error) {
	if from >= r.Size {
		return nil, 0, fmt.Errorf(
			"offset 0x%x is beyond the 0x%x-byte ring", from, r.Size)
	}

	body, err := dev.Rings.Content(r)
	if err != nil {
		return nil, 0, err
	}

	n := nWords * 4
	if n == 0 || from+n > r.Size {
		n = r.Size - from
	}

	return body[from : from+n], r.Base + from, nil
}

// printPackets renders decoded packets one per line, descending into
// indirect buffers.
func printPackets(w io.Writer, pkts []ring.Packet, indent int) {
	pad := strings.Repeat("  ", indent)

	for _, p := range pkts {
		fmt.Fprintf(w, "%s0x%012x %s", pad, p.Offset, p.Name)
		for _, f := range p.Fields {
			fmt.Fprintf(w, " %s=0x%x", f.Name, f.Value)
		}
		if p.Shader != nil {
			fmt.Fprintf(w, " shader=0x%x", p.Shader.VA)
		}
		if len(p.Data) > 0 {
			fmt.Fprintf(w, " data=%d bytes", len(p.Data))
		}
		if p.Err != nil {
			fmt.Fprintf(w, " err=%v", p.Err)
		}
		fmt.Fprintln(w)

		if p.IB != nil {
			fmt.Fprintf(w, "%s  ib 0x%x+0x%x vmid %d",
				pad, p.IB.VA, p.IB.Size, p.IB.VMID)
			if p.IB.Err != nil {
				fmt.Fprintf(w, " err=%v", p.IB.Err)
			}
			fmt.Fprintln(w)
			printPackets(w, p.IB.Packets, indent+2)
		}
	}
}
