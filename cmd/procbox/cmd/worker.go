package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/procbox/pkg/procsig"
)

var (
	startupDelay time.Duration
	runFor       time.Duration
	ignoreStop   bool
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a demo worker process",
	Long: `Run a worker that follows the supervision handshake: it raises the
start-success signal once initialized and exits when the stop request
appears. Useful for trying the daemon out and for integration testing.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().DurationVar(&startupDelay, "startup-delay", 0, "simulated initialization time before confirming start")
	workerCmd.Flags().DurationVar(&runFor, "run-for", 0, "exit on our own after this long (0 runs until stopped)")
	workerCmd.Flags().BoolVar(&ignoreStop, "ignore-stop", false, "never honor the stop request (exercises escalation)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	start, stop, err := procsig.FromEnv()
	if err != nil {
		return fmt.Errorf("not running under a supervisor: %w", err)
	}

	if startupDelay > 0 {
		time.Sleep(startupDelay)
	}
	if err := start.Set(); err != nil {
		return fmt.Errorf("confirm start: %w", err)
	}

	var deadline time.Time
	if runFor > 0 {
		deadline = time.Now().Add(runFor)
	}
	for {
		if !ignoreStop && stop.IsSet() {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}
