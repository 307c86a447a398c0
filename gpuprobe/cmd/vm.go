package cmd

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/vm"
)

// scopeFlags holds the translation-scope flags the vm commands share.
type scopeFlags struct {
	hub  string
	vmid int
	part int
	va   uint64
}

func (f *scopeFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.hub, "hub", "gfx",
		"memory hub: gfx, mm, vc0, vc1, linear, or process")
	c.Flags().IntVar(&f.vmid, "vmid", 0, "VM context id")
	c.Flags().IntVar(&f.part, "part", 0, "register-bank partition")
	c.Flags().Uint64Var(&f.va, "va", 0, "virtual address")
	_ = c.MarkFlagRequired("va")
}

func (f *scopeFlags) parse() (amdgpu.Hub, error) {
	return amdgpu.ParseHub(f.hub)
}

func newVMReadCmd(p *probe) *cobra.Command {
	scope := &scopeFlags{}
	var n uint64

	c := &cobra.Command{
		Use:   "vm-read",
		Short: "Read GPU virtual memory and hex-dump it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := p.device()
			if err != nil {
				return err
			}
			hub, err := scope.parse()
			if err != nil {
				return err
			}

			data, err := dev.Acc.ReadVM(
				hub, scope.vmid, scope.part, scope.va, n)
			if err != nil {
				return err
			}

			dumpHex(cmd.OutOrStdout(), scope.va, data)

			return nil
		},
	}

	scope.register(c)
	c.Flags().Uint64Var(&n, "bytes", 256, "bytes to read")

	return c
}

func newVMWriteCmd(p *probe) *cobra.Command {
	scope := &scopeFlags{}
	var dataHex string

	c := &cobra.Command{
		Use:   "vm-write",
		Short: "Write bytes into GPU virtual memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := p.device()
			if err != nil {
				return err
			}
			hub, err := scope.parse()
			if err != nil {
				return err
			}

			data, err := hex.DecodeString(dataHex)
			if err != nil {
				return fmt.Errorf("bad --data: %v", err)
			}

			err = dev.Acc.WriteVM(hub, scope.vmid, scope.part, scope.va, data)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"wrote %d bytes at 0x%x\n", len(data), scope.va)

			return nil
		},
	}

	scope.register(c)
	c.Flags().StringVar(&dataHex, "data", "", "bytes to write, as hex")
	_ = c.MarkFlagRequired("data")

	return c
}

func newVMDecodeCmd(p *probe) *cobra.Command {
	scope := &scopeFlags{}
	var n uint64

	c := &cobra.Command{
		Use:   "vm-decode",
		Short: "Walk the page tables for a range without touching data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := p.device()
			if err != nil {
				return err
			}
			hub, err := scope.parse()
			if err != nil {
				return err
			}

			res, err := dev.Acc.DecodeVM(vm.WalkRequest{
				Hub:       hub,
				VMID:      scope.vmid,
				Partition: scope.part,
				VA:        scope.va,
				Size:      n,
			})
			if err != nil {
				return err
			}

			printWalk(cmd.OutOrStdout(), hub, scope.vmid, scope.va, res)

			return nil
		},
	}

	scope.register(c)
	c.Flags().Uint64Var(&n, "bytes", 4096, "bytes to survey")

	return c
}

// printWalk renders a decode-only walk: the registers and entries that
// fed the first page, then every page mapping.
func printWalk(w io.Writer, hub amdgpu.Hub, vmid int, va uint64, res vm.WalkResult) {
	fmt.Fprintf(w, "%s vmid %d va 0x%x:\n", hub, vmid, va)

	if res.GFXOff {
		fmt.Fprintln(w, "  gfx core is power-gated")
		return
	}

	ls := vm.LogSink{W: w}
	scope := res.Capture.Scope

	for _, ev := range res.Capture.Registers {
		ls.Event(scope, ev)
	}
	for _, ev := range res.Capture.Levels {
		ls.Event(scope, ev)
	}
	for _, pm := range res.Pages {
		switch {
		case pm.Unmapped:
			fmt.Fprintf(w, "  va=0x%012x unmapped\n", pm.VA)
		case pm.PRT:
			fmt.Fprintf(w, "  va=0x%012x prt hole span=0x%x\n", pm.VA, pm.Span)
		default:
			ls.Event(scope, vm.PageEvent{
				VA: pm.VA, Loc: pm.Loc, Span: pm.Span, Flags: pm.Flags,
			})
		}
	}
	for _, ev := range res.Capture.Messages {
		ls.Event(scope, ev)
	}
}

// dumpHex prints sixteen bytes per line with the virtual address on
// the left.
func dumpHex(w io.Writer, va uint64, data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[off:end]

		fmt.Fprintf(w, "0x%012x: ", va+uint64(off))

		for i := 0; i < 16; i++ {
			if i < len(line) {
				fmt.Fprintf(w, "%02x ", line[i])
			} else {
				fmt.Fprint(w, "   ")
			}
		}

		fmt.Fprint(w, " |")
		for _, b := range line {
			if b < 0x20 || b > 0x7E {
				b = '.'
			}
			fmt.Fprintf(w, "%c", b)
		}
		fmt.Fprintln(w, "|")
	}
}
