package main

import (
	"github.com/spf13/cobra"
)

type arpFlags struct {
	bridgeURL string
	enable    bool
	disable   bool
}

func newArpCmd() *cobra.Command {
	flags := &arpFlags{}

	cmd := &cobra.Command{
		Use:   "arp",
		Short: "Show or toggle the bridge's Force-ARP mode",
		Long: `With no flags, show the current Force-ARP mode. With --enable or
--disable, make the bridge re-resolve the PLC's hardware address before
every connection attempt (or only during recovery).`,
		Example: `  plctl arp
  plctl arp --enable`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.enable && flags.disable {
				return cmd.Help()
			}
			if flags.enable || flags.disable {
				return apiPost(flags.bridgeURL, "/api/v1/arp/force-mode",
					map[string]bool{"enabled": flags.enable})
			}
			return apiGet(flags.bridgeURL, "/api/v1/arp/force-mode")
		},
	}

	cmd.Flags().StringVar(&flags.bridgeURL, "bridge", defaultBridgeURL, "Bridge base URL")
	cmd.Flags().BoolVar(&flags.enable, "enable", false, "Turn Force-ARP mode on")
	cmd.Flags().BoolVar(&flags.disable, "disable", false, "Turn Force-ARP mode off")

	return cmd
}

func newPollCmd() *cobra.Command {
	var bridgeURL string

	cmd := &cobra.Command{
		Use:   "poll [pause|resume]",
		Short: "Pause or resume the bridge's poll loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "pause", "resume":
				return apiPost(bridgeURL, "/api/v1/poll/"+args[0], nil)
			default:
				return cmd.Help()
			}
		},
	}

	cmd.Flags().StringVar(&bridgeURL, "bridge", defaultBridgeURL, "Bridge base URL")

	return cmd
}
