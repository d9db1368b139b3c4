package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/procbox/pkg/procutil"
)

var (
	psKill bool
	psPort int
)

// psCmd probes the host process table directly, so it also sees workers
// whose daemon has died.
var psCmd = &cobra.Command{
	Use:   "ps <process-name>",
	Short: "Probe the host for processes by name",
	Long:  `Look up processes by executable name in the host process table. Unlike tasks list, this asks the OS directly and works without a running daemon.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPs,
}

func init() {
	rootCmd.AddCommand(psCmd)
	psCmd.Flags().BoolVar(&psKill, "kill", false, "send SIGTERM to every match (never this process)")
	psCmd.Flags().IntVar(&psPort, "port", 0, "also report whether this TCP port has a listener")
}

func runPs(cmd *cobra.Command, args []string) error {
	name := args[0]
	pids := procutil.FindByName(name)

	if psKill {
		if procutil.TerminateByName(name) {
			fmt.Printf("Sent SIGTERM to %s\n", name)
		} else {
			fmt.Printf("No process named %s to terminate\n", name)
		}
		return nil
	}

	if IsJSONOutput() {
		out := map[string]interface{}{"name": name, "pids": pids}
		if psPort > 0 {
			out["port_in_use"] = procutil.PortInUse(psPort)
		}
		return printJSON(out)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "PID", "Alive")
	for _, pid := range pids {
		table.Append(name, fmt.Sprintf("%d", pid), fmt.Sprintf("%t", procutil.PIDExists(pid)))
	}
	table.Render()
	if len(pids) == 0 {
		fmt.Printf("No process named %s\n", name)
	}
	if psPort > 0 {
		fmt.Printf("Port %d in use: %t\n", psPort, procutil.PortInUse(psPort))
	}
	return nil
}
