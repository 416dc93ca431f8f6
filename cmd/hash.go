package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/flowcache/internal/command"
	"firestige.xyz/flowcache/internal/flowcache"
)

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Compute the flow table slot of a 5-tuple",
	Long: `Compute the CRC-16 of a 5-tuple and the slot it maps to.

By default the computation is local and uses --capacity. With --daemon
the running daemon is asked instead, which also reports the flow that
currently occupies the slot and whether it is a different flow.

Examples:
  flowcache hash --src 10.0.0.1 --dst 10.0.1.2 --sport 40000 --dport 80
  flowcache hash --src 10.0.0.1 --dst 10.0.1.2 --sport 40000 --dport 80 --daemon`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if hashDaemon {
			return runHashDaemon(cmd.Context(), newClient(), hashParams, hashOutput, cmd.OutOrStdout())
		}
		return runHashLocal(hashParams, hashCapacity, hashOutput, cmd.OutOrStdout())
	},
}

var (
	hashParams   command.FlowHashParams
	hashCapacity int
	hashDaemon   bool
	hashOutput   string
)

func init() {
	f := hashCmd.Flags()
	f.StringVar(&hashParams.SrcIP, "src", "", "source IPv4 address")
	f.StringVar(&hashParams.DstIP, "dst", "", "destination IPv4 address")
	f.Uint16Var(&hashParams.SrcPort, "sport", 0, "source TCP port")
	f.Uint16Var(&hashParams.DstPort, "dport", 0, "destination TCP port")
	f.Uint8Var(&hashParams.Protocol, "proto", 6, "IP protocol number")
	f.IntVar(&hashCapacity, "capacity", flowcache.MaxCapacity, "flow table capacity for local computation")
	f.BoolVar(&hashDaemon, "daemon", false, "ask the running daemon")
	f.StringVarP(&hashOutput, "output", "o", formatTable, "output format: table/json/yaml")
}

func runHashLocal(params command.FlowHashParams, capacity int, format string, out io.Writer) error {
	key, err := params.Key()
	if err != nil {
		return err
	}
	h, err := flowcache.NewHasher(capacity)
	if err != nil {
		return err
	}
	res := command.HashTuple(h, key)
	return printHashResult(out, format, &res)
}

func runHashDaemon(ctx context.Context, client ClientInterface, params command.FlowHashParams, format string, out io.Writer) error {
	res, err := client.FlowHash(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to hash on daemon: %w", err)
	}
	return printHashResult(out, format, res)
}
