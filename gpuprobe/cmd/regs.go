package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newRegsCmd(p *probe) *cobra.Command {
	c := &cobra.Command{
		Use:   "regs",
		Short: "Read and write registers by name",
	}

	c.AddCommand(newRegsReadCmd(p), newRegsWriteCmd(p))

	return c
}

func newRegsReadCmd(p *probe) *cobra.Command {
	return &cobra.Command{
		Use:   "read <ip.inst.NAME[.FIELD]>",
		Short: "Read a register or one of its bitfields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := p.device()
			if err != nil {
				return err
			}

			ip, inst, name, field, err := parseRegPath(args[0])
			if err != nil {
				return err
			}

			if field != "" {
				v, err := dev.Regs.ReadField(ip, inst, name, field)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "0x%x\n", v)
				return nil
			}

			v, err := dev.Regs.Read(ip, inst, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "0x%08x\n", v)

			return nil
		},
	}
}

func newRegsWriteCmd(p *probe) *cobra.Command {
	return &cobra.Command{
		Use:   "write <ip.inst.NAME[.FIELD]> <value>",
		Short: "Write a register or read-modify-write one bitfield",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := p.device()
			if err != nil {
				return err
			}

			ip, inst, name, field, err := parseRegPath(args[0])
			if err != nil {
				return err
			}

			v, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				return fmt.Errorf("bad value %q", args[1])
			}

			if field != "" {
				err = dev.Regs.WriteField(ip, inst, name, field, uint32(v))
			} else {
				err = dev.Regs.Write(ip, inst, name, uint32(v))
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s = 0x%x\n", args[0], v)

			return nil
		},
	}
}

// parseRegPath splits "ip.inst.NAME" or "ip.inst.NAME.FIELD". Register
// names contain no dots, so a fourth segment is always the field.
func parseRegPath(s string) (ip string, inst int, name, field string, err error) {
	parts := strings.SplitN(s, ".", 4)
	if len(parts) < 3 {
		return "", 0, "", "", fmt.Errorf(
			"register path %q is not ip.inst.NAME[.FIELD]", s)
	}

	inst, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", "", fmt.Errorf("bad instance in %q", s)
	}

	ip, name = parts[0], parts[2]
	if len(parts) == 4 {
		field = parts[3]
	}

	return ip, inst, name, field, nil
}
