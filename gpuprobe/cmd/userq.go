package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sarchlab/gpuprobe/userq"
)

func newUserqCmd(p *probe) *cobra.Command {
	c := &cobra.Command{
		Use:   "userq",
		Short: "Inspect user-mode queues",
	}

	c.AddCommand(newUserqListCmd(p), newUserqDescribeCmd(p))

	return c
}

func newUserqListCmd(p *probe) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the queues the device carries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := p.device()
			if err != nil {
				return err
			}

			for _, q := range dev.Queues {
				fmt.Fprintln(cmd.OutOrStdout(), q)
			}

			return nil
		},
	}
}

func newUserqDescribeCmd(p *probe) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <id>",
		Short: "Show one queue's record and descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := p.device()
			if err != nil {
				return err
			}

			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("bad queue id %q", args[0])
			}

			q, ok := dev.Queue(id)
			if !ok {
				return fmt.Errorf("no user queue %d", id)
			}

			out := cmd.OutOrStdout()
			userq.Describe(out, q)
			if m := dev.MQDs[id]; m != nil {
				userq.DescribeMQD(out, *m)
			}

			return nil
		},
	}
}
