package cmd

import (
	"github.com/sarchlab/gpuprobe/server"
	"github.com/spf13/cobra"
)

func newServerCmd(p *probe) *cobra.Command {
	var port int
	var open bool

	c := &cobra.Command{
		Use:   "server",
		Short: "Serve the device over HTTP",
		Long: `Server exposes the loaded device over an HTTP API: register
reads, address translation, ring decoding, and the user-queue list, plus
state and profiling endpoints for the probe process itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := p.device()
			if err != nil {
				return err
			}

			s := server.NewServer()
			if port > 0 {
				s = s.WithPortNumber(port)
			}
			if open {
				s = s.WithBrowser()
			}

			s.RegisterDevice(dev.Asic, dev.Regs, dev.Acc)
			s.RegisterQueues(dev.Queues)
			s.RegisterObject("device", dev)

			s.StartServer()

			select {}
		},
	}

	c.Flags().IntVar(&port, "port", 0,
		"listen port; 0 picks a free one")
	c.Flags().BoolVar(&open, "open", false,
		"open the served URL in a browser")

	return c
}
