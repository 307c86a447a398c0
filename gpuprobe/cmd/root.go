// Package cmd provides the command-line interface for gpuprobe.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sarchlab/gpuprobe/capture"
	"github.com/sarchlab/gpuprobe/harness"
	"github.com/sarchlab/gpuprobe/vm"
)

// A probe is the state one invocation operates on: the device behind
// --device, loaded on first use, and the capture recorder behind
// --capture.
type probe struct {
	devicePath  string
	capturePath string
	verbose     bool

	dev *harness.Device
	rec capture.Recorder
}

// device loads the harness file on first use.
func (p *probe) device() (*harness.Device, error) {
	if p.dev != nil {
		return p.dev, nil
	}
	if p.devicePath == "" {
		return nil, fmt.Errorf(
			"no device file: set --device or GPUPROBE_DEVICE")
	}

	dev, err := harness.MakeBuilder().
		WithEventSink(p.sink()).
		LoadFile(p.devicePath)
	if err != nil {
		return nil, err
	}
	p.dev = dev

	return dev, nil
}

// sink assembles where walk diagnostics go: stderr under --verbose,
// the capture database under --capture.
func (p *probe) sink() vm.EventSink {
	var sinks vm.MultiSink

	if p.verbose {
		sinks = append(sinks, vm.LogSink{W: os.Stderr})
	}
	if rec := p.recorder(); rec != nil {
		sinks = append(sinks, capture.NewSink(rec))
	}

	switch len(sinks) {
	case 0:
		return vm.NopSink{}
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

// recorder opens the capture database for writing on first use.
func (p *probe) recorder() capture.Recorder {
	if p.rec == nil && p.capturePath != "" {
		p.rec = capture.New(p.capturePath)
	}
	return p.rec
}

// reader opens the capture database behind --capture for reading. The
// recorder writes <path>.sqlite3, so a bare recorder path is accepted
// too.
func (p *probe) reader() (*capture.Reader, error) {
	if p.capturePath == "" {
		return nil, fmt.Errorf(
			"no capture database: set --capture or GPUPROBE_CAPTURE")
	}

	path := p.capturePath
	if _, err := os.Stat(path); err != nil {
		alt := path + ".sqlite3"
		if _, err := os.Stat(alt); err != nil {
			return nil, fmt.Errorf("capture database %s does not exist", path)
		}
		path = alt
	}

	return capture.NewReader(path)
}

func (p *probe) close() {
	if p.rec != nil {
		p.rec.Close()
	}
}

// newRootCmd builds the command tree for one invocation. Tests drive
// it directly; Execute runs it against os.Args.
func newRootCmd() *cobra.Command {
	p := &probe{}

	root := &cobra.Command{
		Use:   "gpuprobe",
		Short: "Inspect AMD GPU state: page tables, rings, and queues.",
		Long: `gpuprobe re-implements the GPU page-table walker in software and ` +
			`decodes command streams on top of it. It operates on a device ` +
			`image described by a harness file.`,
		SilenceUsage: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			p.close()
		},
	}

	root.PersistentFlags().StringVar(&p.devicePath, "device",
		os.Getenv("GPUPROBE_DEVICE"), "harness device file")
	root.PersistentFlags().StringVar(&p.capturePath, "capture",
		os.Getenv("GPUPROBE_CAPTURE"), "capture database to record into or read")
	root.PersistentFlags().BoolVar(&p.verbose, "verbose", false,
		"print walk diagnostics to stderr")

	root.AddCommand(
		newVMReadCmd(p),
		newVMWriteCmd(p),
		newVMDecodeCmd(p),
		newRingDecodeCmd(p),
		newUserqCmd(p),
		newRegsCmd(p),
		newServerCmd(p),
		newCaptureCmd(p),
	)

	return root
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	_ = godotenv.Load()

	err := newRootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
