package main

import (
	"github.com/spf13/cobra"
)

type statusFlags struct {
	bridgeURL string
}

func newStatusCmd() *cobra.Command {
	flags := &statusFlags{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show bridge connection and poll status",
		Long: `Query a running bridge's status API: connection state, socket and
link status, ARP resolver activity, and poll/MQTT statistics.`,
		Example: `  plctl status
  plctl status --bridge http://10.0.0.5:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiGet(flags.bridgeURL, "/api/v1/status")
		},
	}

	cmd.Flags().StringVar(&flags.bridgeURL, "bridge", defaultBridgeURL, "Bridge base URL")

	return cmd
}

func newHealthCmd() *cobra.Command {
	flags := &statusFlags{}

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show bridge component health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiGet(flags.bridgeURL, "/health")
		},
	}

	cmd.Flags().StringVar(&flags.bridgeURL, "bridge", defaultBridgeURL, "Bridge base URL")

	return cmd
}

func newPointsCmd() *cobra.Command {
	flags := &statusFlags{}

	cmd := &cobra.Command{
		Use:   "points",
		Short: "List the bridge's configured points",
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiGet(flags.bridgeURL, "/api/v1/points")
		},
	}

	cmd.Flags().StringVar(&flags.bridgeURL, "bridge", defaultBridgeURL, "Bridge base URL")

	return cmd
}
