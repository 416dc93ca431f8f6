package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/flowcache/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the flowcache daemon in foreground",
	Long: `Run the flowcache daemon process in foreground.

The daemon will:
  1. Load configuration from the config file
  2. Initialize logging and metrics
  3. Build the flow table, forwarding tables and pipelines
  4. Start the export scheduler and the UDS control server
  5. Capture until a signal (SIGTERM, SIGINT), daemon_shutdown, or
     with --exit-on-eof the end of the capture file
SIGHUP reloads the log configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := daemon.Options{
			ConfigPath: configFile,
			PIDFile:    pidFile,
			ExitOnEOF:  exitOnEOF,
		}
		// The config file names the socket unless the flag is set.
		if cmd.Flags().Changed("socket") {
			opts.SocketPath = socketPath
		}
		return runDaemon(opts)
	},
}

var (
	pidFile   string
	exitOnEOF bool
)

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file from config)")
	daemonCmd.Flags().BoolVar(&exitOnEOF, "exit-on-eof", false,
		"exit once the capture source is exhausted")
}

func runDaemon(opts daemon.Options) error {
	d, err := daemon.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
