package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

type writeFlags struct {
	plcFlags
	verify bool
}

func newWriteCmd() *cobra.Command {
	flags := &writeFlags{}

	cmd := &cobra.Command{
		Use:   "write <address> <value>...",
		Short: "Write holding registers on the PLC",
		Long: `Perform a one-shot register write against the PLC over the host
network. One value uses Write Single Register; more use Write Multiple
Registers. With --verify the registers are read back afterwards.`,
		Example: `  plctl write 100 1234
  plctl write 100 1234 --verify
  plctl write 200 1 2 3 4`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			values := make([]uint16, 0, len(args)-1)
			for _, arg := range args[1:] {
				v, err := strconv.ParseUint(arg, 0, 16)
				if err != nil {
					return fmt.Errorf("invalid register value %q", arg)
				}
				values = append(values, uint16(v))
			}
			return runWrite(flags, address, values)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.verify, "verify", false, "Read the registers back after writing")

	return cmd
}

func runWrite(flags *writeFlags, address uint16, values []uint16) error {
	client, err := flags.newOneShotClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout())
	defer cancel()

	if len(values) == 1 {
		err = client.WriteSingleRegister(ctx, address, values[0])
	} else {
		err = client.WriteMultipleRegisters(ctx, address, values)
	}
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d register(s) at %d\n", len(values), address)

	if flags.verify {
		readBack, err := client.ReadHoldingRegisters(ctx, address, uint16(len(values)))
		if err != nil {
			return fmt.Errorf("verify read failed: %w", err)
		}
		for i, v := range readBack {
			marker := ""
			if v != values[i] {
				marker = "  MISMATCH"
			}
			fmt.Printf("%5d: %5d (0x%04X)%s\n", address+uint16(i), v, v, marker)
		}
	}
	return nil
}
