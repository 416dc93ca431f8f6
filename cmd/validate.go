package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/flowcache/internal/config"
	"firestige.xyz/flowcache/internal/forward"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply defaults and check it without
starting the daemon. Forwarding tables are built to catch bad prefixes
and MAC addresses.

Examples:
  flowcache validate -c /etc/flowcache/config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	fwd, err := forward.FromConfig(cfg.Forwarding)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	ports, routes := fwd.Size()

	source := cfg.Capture.File
	if cfg.Capture.Type == config.CaptureTypeAFPacket {
		source = cfg.Capture.Interface
	}
	fmt.Fprintf(out, "VALID: capacity %d, capture %s %s (%d worker(s), %s), %d port rule(s), %d route(s), egress %s\n",
		cfg.FlowTable.Capacity,
		cfg.Capture.Type, source,
		cfg.Capture.Workers, cfg.Capture.DispatchMode,
		ports, routes,
		cfg.Egress.Type,
	)
	return nil
}
