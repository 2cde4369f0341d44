package main

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nexus-edge/plc-link/internal/adapter/modbus"
	"github.com/nexus-edge/plc-link/internal/hwsock"
	_ "github.com/nexus-edge/plc-link/internal/hwsock/netsock" // register the host-network driver
	"github.com/nexus-edge/plc-link/internal/metrics"
)

type plcFlags struct {
	plcIP     string
	port      uint16
	unitID    uint8
	timeoutMs int
	verbose   bool
}

func (f *plcFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.plcIP, "plc", "192.168.123.10", "PLC IP address")
	cmd.Flags().Uint16Var(&f.port, "port", 502, "PLC Modbus TCP port")
	cmd.Flags().Uint8Var(&f.unitID, "unit", 1, "Modbus unit id")
	cmd.Flags().IntVar(&f.timeoutMs, "timeout-ms", 5000, "Operation timeout in milliseconds")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "Log session activity")
}

// newOneShotClient builds a Modbus client over the host transport for a
// single commissioning operation.
func (f *plcFlags) newOneShotClient() (*modbus.Client, error) {
	addr, err := netip.ParseAddr(f.plcIP)
	if err != nil {
		return nil, fmt.Errorf("invalid PLC address %q: %w", f.plcIP, err)
	}

	transport, err := hwsock.NewTransport("net", hwsock.NetworkConfig{})
	if err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if f.verbose {
		logger = zerolog.New(zerolog.NewConsoleWriter()).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}

	cfg := modbus.DefaultConfig(addr)
	cfg.TargetPort = f.port
	cfg.UnitID = f.unitID
	cfg.RetryCount = 1

	return modbus.New(transport, cfg, logger, metrics.NewRegistry(prometheus.NewRegistry()))
}

func (f *plcFlags) timeout() time.Duration {
	return time.Duration(f.timeoutMs) * time.Millisecond
}

type readFlags struct {
	plcFlags
	input bool
	count uint16
}

func newReadCmd() *cobra.Command {
	flags := &readFlags{}

	cmd := &cobra.Command{
		Use:   "read <address>",
		Short: "Read registers from the PLC",
		Long:  `Perform a one-shot register read against the PLC over the host network.`,
		Example: `  plctl read 100
  plctl read 100 --count 4
  plctl read 30 --input --plc 10.0.0.20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			return runRead(flags, address)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.input, "input", false, "Read input registers instead of holding registers")
	cmd.Flags().Uint16Var(&flags.count, "count", 1, "Number of registers to read")

	return cmd
}

func runRead(flags *readFlags, address uint16) error {
	client, err := flags.newOneShotClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout())
	defer cancel()

	var values []uint16
	if flags.input {
		values, err = client.ReadInputRegisters(ctx, address, flags.count)
	} else {
		values, err = client.ReadHoldingRegisters(ctx, address, flags.count)
	}
	if err != nil {
		return err
	}

	for i, v := range values {
		fmt.Printf("%5d: %5d (0x%04X)\n", address+uint16(i), v, v)
	}
	return nil
}

func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid register address %q", s)
	}
	return uint16(v), nil
}
