// plctl is the operator CLI for the PLC link bridge: it queries a
// running bridge's status API and performs one-shot Modbus reads and
// writes for commissioning.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "plctl",
		Short: "Operator tool for the PLC link bridge",
		Long: `plctl inspects a running PLC link bridge (status, health, points)
and performs one-shot Modbus register reads and writes for commissioning.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newPointsCmd())
	rootCmd.AddCommand(newReadCmd())
	rootCmd.AddCommand(newWriteCmd())
	rootCmd.AddCommand(newArpCmd())
	rootCmd.AddCommand(newPollCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the plctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("plctl %s\n", version)
		},
	}
}
