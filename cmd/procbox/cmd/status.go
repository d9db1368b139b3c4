package cmd

import (
	"github.com/spf13/cobra"

	"github.com/psantana5/procbox/pkg/control"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show task status",
	Long:  `Show the status of one task, or of all tasks when no ID is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withClient(func(client *control.Client) error {
		req := control.Request{Op: control.OpList}
		if len(args) == 1 {
			req = control.Request{Op: control.OpInfo, ID: args[0]}
		}
		resp, err := doRequest(client, req)
		if err != nil {
			return err
		}
		printTasks(resp.Tasks)
		return nil
	})
}
