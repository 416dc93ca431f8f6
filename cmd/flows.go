package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/flowcache/internal/command"
	"firestige.xyz/flowcache/internal/flowcache"
)

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Show flow table slots",
	Long: `Read the flow table of a running daemon.

Without --slot, occupied slots are listed in slot order starting at
--offset. With --slot, that single slot is shown even if empty.
Timestamps are microseconds since the epoch.

Examples:
  flowcache flows                    # all occupied slots
  flowcache flows --offset 1000 -n 50
  flowcache flows --slot 4242 -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := flowsOptions{
			slot:   flowsSlot,
			offset: flowsOffset,
			limit:  flowsLimit,
			format: flowsOutput,
		}
		if !cmd.Flags().Changed("slot") {
			opts.slot = -1
		}
		return runFlows(cmd.Context(), newClient(), opts, cmd.OutOrStdout())
	},
}

var (
	flowsSlot   int
	flowsOffset int
	flowsLimit  int
	flowsOutput string
)

func init() {
	flowsCmd.Flags().IntVarP(&flowsSlot, "slot", "i", 0, "show a single slot")
	flowsCmd.Flags().IntVar(&flowsOffset, "offset", 0, "first slot to scan")
	flowsCmd.Flags().IntVarP(&flowsLimit, "limit", "n", 0, "maximum number of slots (0 = all)")
	flowsCmd.Flags().StringVarP(&flowsOutput, "output", "o", formatTable, "output format: table/json/yaml")
}

type flowsOptions struct {
	slot   int // -1 lists
	offset int
	limit  int
	format string
}

func runFlows(ctx context.Context, client ClientInterface, opts flowsOptions, out io.Writer) error {
	if opts.slot >= 0 {
		rec, err := client.FlowsGet(ctx, opts.slot)
		if err != nil {
			return fmt.Errorf("failed to read slot %d: %w", opts.slot, err)
		}
		if opts.format != formatTable {
			return writeStructured(out, opts.format, rec)
		}
		return writeRecords(out, []flowcache.Record{rec})
	}

	list, err := client.FlowsList(ctx, opts.offset, opts.limit)
	if err != nil {
		return fmt.Errorf("failed to list flows: %w", err)
	}
	if opts.format != formatTable {
		return writeStructured(out, opts.format, list)
	}
	if err := writeRecords(out, list.Records); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d slot(s) shown, table capacity %d\n", list.Count, list.Capacity)
	return nil
}

func writeRecords(out io.Writer, records []flowcache.Record) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tSRC\tDST\tFIRST_SEEN\tLAST_SEEN\tDURATION\tBYTES")
	for _, r := range records {
		if !r.Exists {
			fmt.Fprintf(tw, "%d\t-\t-\t-\t-\t-\t-\n", r.Slot)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s:%d\t%s:%d\t%s\t%s\t%s\t%d\n",
			r.Slot,
			r.SrcIP(), r.SrcPort,
			r.DstIP(), r.DstPort,
			formatMicros(r.FirstSeen), formatMicros(r.LastSeen),
			time.Duration(r.Duration)*time.Microsecond,
			r.TotalSize)
	}
	return tw.Flush()
}

// formatMicros renders an epoch timestamp in microseconds as UTC.
func formatMicros(us uint64) string {
	return time.UnixMicro(int64(us)).UTC().Format("2006-01-02T15:04:05.000000Z")
}

var counterCmd = &cobra.Command{
	Use:   "counter",
	Short: "Print the global packet counter",
	Long: `Print the daemon's 32-bit packet counter. It counts every IPv4 packet
observed by the flow table and wraps at 2^32.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCounter(cmd.Context(), newClient(), cmd.OutOrStdout())
	},
}

func runCounter(ctx context.Context, client ClientInterface, out io.Writer) error {
	n, err := client.CounterGet(ctx)
	if err != nil {
		return fmt.Errorf("failed to read packet counter: %w", err)
	}
	fmt.Fprintln(out, n)
	return nil
}

// printHashResult is shared by the offline and daemon forms of hash.
func printHashResult(out io.Writer, format string, res *command.FlowHashResult) error {
	if format != formatTable {
		return writeStructured(out, format, res)
	}
	fmt.Fprintf(out, "key:      %s\n", res.Key)
	fmt.Fprintf(out, "crc16:    0x%04x\n", res.CRC)
	fmt.Fprintf(out, "slot:     %d (capacity %d)\n", res.Slot, res.Capacity)
	if res.Occupant == nil {
		return nil
	}
	occ := res.Occupant
	state := "same flow"
	if res.Aliased {
		state = "aliased"
	}
	fmt.Fprintf(out, "occupant: %s:%d -> %s:%d, %d bytes (%s)\n",
		occ.SrcIP(), occ.SrcPort, occ.DstIP(), occ.DstPort, occ.TotalSize, state)
	return nil
}
