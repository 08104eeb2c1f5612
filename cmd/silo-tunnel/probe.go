package main

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/EternisAI/silo-tunnel/internal/sshclient"
	"github.com/spf13/cobra"
)

const probeTimeout = 3 * time.Second

func newProbeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "probe <server-ip>",
		Short: "Check that a server accepts TCP connections on its SSH port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := netip.ParseAddr(args[0])
			if err != nil || !addr.Is4() {
				return fmt.Errorf("invalid IPv4 address %q", args[0])
			}
			if port == 0 {
				port = config.SSH.Port
			}
			if !sshclient.Probe(cmd.Context(), addr.String(), port, probeTimeout) {
				return fmt.Errorf("%s:%d is not reachable", addr, port)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%d is reachable\n", addr, port)
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to probe (default from ssh.port)")
	return cmd
}
