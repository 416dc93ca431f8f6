package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics",
	Long: `Query the flowcache daemon for runtime statistics.

Shows: flow table occupancy and counters, per-pipeline packet counts and
capture drops.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd.Context(), newClient(), statsOutput, cmd.OutOrStdout())
	},
}

var statsOutput string

func init() {
	statsCmd.Flags().StringVarP(&statsOutput, "output", "o", formatTable, "output format: table/json/yaml")
}

func runStats(ctx context.Context, client ClientInterface, format string, out io.Writer) error {
	stats, err := client.DaemonStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}
	if format != formatTable {
		return writeStructured(out, format, stats)
	}

	ft := stats.FlowTable
	fmt.Fprintf(out, "version:      %s\n", stats.Version)
	fmt.Fprintf(out, "uptime:       %ds\n", stats.UptimeSec)
	fmt.Fprintf(out, "flow table:   %d/%d slots occupied\n", ft.Occupied, ft.Capacity)
	fmt.Fprintf(out, "packets:      %d\n", ft.Packets)
	fmt.Fprintf(out, "inserts:      %d\n", ft.Inserts)
	fmt.Fprintf(out, "updates:      %d\n", ft.Updates)
	fmt.Fprintf(out, "regressions:  %d\n", ft.Regressions)

	if stats.Pipelines == nil {
		return nil
	}
	ps := stats.Pipelines
	fmt.Fprintf(out, "\ndispatch: %s", ps.Mode)
	if ps.Strategy != "" {
		fmt.Fprintf(out, " (%s)", ps.Strategy)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PIPELINE\tRECEIVED\tDECODED\tDECODE_ERR\tCSUM_ERR\tPARSE_ERR\tOBSERVED\tFORWARDED\tDROPPED\tEMIT_ERR")
	for _, p := range ps.Pipelines {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			p.ID, p.Received, p.Decoded, p.DecodeErrors, p.ChecksumErrors, p.ParseErrors, p.Observed, p.Forwarded, p.Dropped, p.EmitErrors)
	}
	t := ps.Total
	fmt.Fprintf(tw, "total\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		t.Received, t.Decoded, t.DecodeErrors, t.ChecksumErrors, t.ParseErrors, t.Observed, t.Forwarded, t.Dropped, t.EmitErrors)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(ps.Sources) > 0 {
		fmt.Fprintln(out)
		tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SOURCE\tRECEIVED\tDROPPED")
		for _, s := range ps.Sources {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Name, s.Received, s.Dropped)
		}
		return tw.Flush()
	}
	return nil
}
