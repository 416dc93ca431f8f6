package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/flowcache/internal/core"
	"firestige.xyz/flowcache/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the flowcache daemon",
	Long: `Stop the flowcache daemon gracefully.

The daemon_shutdown command is sent over the control socket. The daemon
stops capture, drains its pipelines, runs a final export and exits.
If the socket is unreachable and --pidfile is given, SIGTERM is sent to
the recorded process instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), newClient(), stopPIDFile, cmd.OutOrStdout())
	},
}

var stopPIDFile string

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "",
		"PID file to signal when the socket is unreachable")
}

func runStop(ctx context.Context, client ClientInterface, pidFile string, out io.Writer) error {
	err := client.Shutdown(ctx)
	if err == nil {
		fmt.Fprintln(out, "✓ Shutdown requested")
		return nil
	}
	if !errors.Is(err, core.ErrDaemonNotRunning) || pidFile == "" {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	if err := daemon.SignalStop(pidFile, 10*time.Second); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Fprintln(out, "✓ Daemon stopped (SIGTERM)")
	return nil
}
