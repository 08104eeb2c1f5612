package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

var AppVersion string

type rootOptions struct {
	configFile string
	server     string
	apiKey     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "silo-tunnel",
		Short:         "Provision WireGuard servers over SSH and manage the local tunnel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			InitConfig(opts.configFile)
			if opts.server == "" {
				opts.server = "http://" + net.JoinHostPort(config.Http.Host, strconv.FormatUint(uint64(config.Http.Port), 10))
			}
			if opts.apiKey == "" {
				opts.apiKey = config.Http.AdminAPIKey
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", "", "daemon URL (default from http.host and http.port)")
	rootCmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", "", "daemon API key (default from http.admin_api_key)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newClientCmds(opts)...)
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "silo-tunnel", AppVersion)
		},
	})

	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
