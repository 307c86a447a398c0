package cmd

import (
	"fmt"
	"strings"

	"github.com/sarchlab/gpuprobe/capture"
	"github.com/spf13/cobra"
)

func newCaptureCmd(p *probe) *cobra.Command {
	c := &cobra.Command{
		Use:   "capture",
		Short: "Inspect a recorded capture database",
	}

	c.AddCommand(newCaptureLsCmd(p), newCaptureDumpCmd(p))

	return c
}

func newCaptureLsCmd(p *probe) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List the tables in the capture database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := p.reader()
			if err != nil {
				return err
			}
			defer r.Close()

			tables, err := r.ListTables(cmd.Context())
			if err != nil {
				return err
			}

			for _, t := range tables {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}

			return nil
		},
	}
}

func newCaptureDumpCmd(p *probe) *cobra.Command {
	var limit int

	c := &cobra.Command{
		Use:   "dump <table>",
		Short: "Dump the rows of one capture table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := p.reader()
			if err != nil {
				return err
			}
			defer r.Close()

			cols, rows, err := r.Dump(
				cmd.Context(), args[0], capture.QueryParams{Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.Join(cols, "\t"))
			for _, row := range rows {
				fmt.Fprintln(out, strings.Join(row, "\t"))
			}

			return nil
		},
	}

	c.Flags().IntVar(&limit, "limit", 0, "stop after this many rows")

	return c
}
