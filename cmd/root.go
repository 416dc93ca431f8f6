// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/flowcache/internal/command"
	"firestige.xyz/flowcache/internal/flowcache"
)

const defaultSocket = "/var/run/flowcache.sock"

var (
	// Global flags
	configFile    string
	socketPath    string
	clientTimeout time.Duration
)

// ClientInterface is the part of the control plane client the commands use.
type ClientInterface interface {
	FlowsList(ctx context.Context, offset, limit int) (*command.FlowsListResult, error)
	FlowsGet(ctx context.Context, slot int) (flowcache.Record, error)
	CounterGet(ctx context.Context) (uint32, error)
	FlowHash(ctx context.Context, params command.FlowHashParams) (*command.FlowHashResult, error)
	DaemonStats(ctx context.Context) (*command.DaemonStats, error)
	Shutdown(ctx context.Context) error
}

// newClient is replaced in tests.
var newClient = func() ClientInterface {
	return command.NewUDSClient(socketPath, clientTimeout)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flowcache",
	Short: "flowcache - packet forwarding data plane with a direct-mapped flow cache",
	Long: `flowcache parses Ethernet/IPv4/TCP frames, forwards them through an
ingress port table and an IPv4 longest-prefix-match routing table, and
records every IPv4 flow in a fixed-size flow table indexed by CRC-16 of
the 5-tuple.

The daemon reads frames from a pcap file or an AF_PACKET socket, writes
forwarded frames to per-port pcap files, and periodically exports the
flow table to Kafka or ClickHouse. The other commands inspect a running
daemon over its Unix domain socket.`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/flowcache/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", defaultSocket,
		"daemon socket path")
	rootCmd.PersistentFlags().DurationVar(&clientTimeout, "timeout", 10*time.Second,
		"control socket timeout")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(flowsCmd)
	rootCmd.AddCommand(counterCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(validateCmd)
}
