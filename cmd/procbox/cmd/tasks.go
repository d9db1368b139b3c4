package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/procbox/pkg/control"
	"github.com/psantana5/procbox/pkg/task"
	"github.com/psantana5/procbox/pkg/timeutil"
)

var (
	// Task create flags
	taskCommand string
	taskArgs    []string
	taskEnv     []string
	taskDir     string

	// Lifecycle flags
	opTimeout time.Duration
)

// tasksCmd represents the tasks command
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage supervised tasks",
	Long:  `Commands for registering, starting, stopping, and inspecting tasks on a running procbox daemon.`,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks",
	RunE:  runTasksList,
}

var tasksCreateCmd = &cobra.Command{
	Use:   "create <task-id>",
	Short: "Register a new task",
	Long:  `Register a new task with the daemon. The task starts in status created; use start to launch it.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksCreate,
}

var tasksStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Start a task",
	Long:  `Launch the task's worker process and wait for it to confirm initialization.`,
	Args:  cobra.ExactArgs(1),
	RunE:  lifecycleRunner(control.OpStart),
}

var tasksStopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop a task",
	Long:  `Request cooperative shutdown and wait for the worker to exit. Workers that overrun the timeout are terminated forcibly.`,
	Args:  cobra.ExactArgs(1),
	RunE:  lifecycleRunner(control.OpStop),
}

var tasksRestartCmd = &cobra.Command{
	Use:   "restart <task-id>",
	Short: "Restart a task",
	Args:  cobra.ExactArgs(1),
	RunE:  lifecycleRunner(control.OpRestart),
}

var tasksRemoveCmd = &cobra.Command{
	Use:   "remove <task-id>",
	Short: "Remove a task",
	Long:  `Remove a task from the daemon. Active tasks must be stopped first.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksRemove,
}

var tasksStopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop all running tasks",
	RunE:  runTasksStopAll,
}

var tasksHistoryCmd = &cobra.Command{
	Use:   "history <task-id>",
	Short: "Show a task's lifecycle history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksHistory,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksCreateCmd)
	tasksCmd.AddCommand(tasksStartCmd)
	tasksCmd.AddCommand(tasksStopCmd)
	tasksCmd.AddCommand(tasksRestartCmd)
	tasksCmd.AddCommand(tasksRemoveCmd)
	tasksCmd.AddCommand(tasksStopAllCmd)
	tasksCmd.AddCommand(tasksHistoryCmd)

	tasksCreateCmd.Flags().StringVar(&taskCommand, "command", "", "command to run (required)")
	tasksCreateCmd.Flags().StringArrayVar(&taskArgs, "arg", nil, "command argument (repeatable)")
	tasksCreateCmd.Flags().StringArrayVar(&taskEnv, "env", nil, "KEY=VALUE environment entry (repeatable)")
	tasksCreateCmd.Flags().StringVar(&taskDir, "dir", "", "working directory")
	tasksCreateCmd.MarkFlagRequired("command")

	for _, c := range []*cobra.Command{tasksStartCmd, tasksStopCmd, tasksRestartCmd, tasksStopAllCmd} {
		c.Flags().DurationVar(&opTimeout, "timeout", 0, "operation timeout (default 10s)")
	}
}

// withClient connects to the daemon, runs fn, and disconnects.
func withClient(fn func(*control.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := control.Connect(ctx, GetControlAddr())
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w", GetControlAddr(), err)
	}
	defer client.Close()
	return fn(client)
}

// doRequest performs one exchange, sizing the reply wait to the op timeout.
func doRequest(client *control.Client, req control.Request) (control.Response, error) {
	wait := 30 * time.Second
	if req.TimeoutMS > 0 {
		wait = req.Timeout() + 10*time.Second
	}
	resp, err := client.Do(req, wait)
	if err != nil {
		return resp, err
	}
	if !resp.OK && resp.Error != "" {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func lifecycleRunner(op string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withClient(func(client *control.Client) error {
			resp, err := doRequest(client, control.Request{
				Op:        op,
				ID:        args[0],
				TimeoutMS: int(opTimeout.Milliseconds()),
			})
			if err != nil {
				return err
			}
			printTasks(resp.Tasks)
			return nil
		})
	}
}

func runTasksList(cmd *cobra.Command, args []string) error {
	return withClient(func(client *control.Client) error {
		resp, err := doRequest(client, control.Request{Op: control.OpList})
		if err != nil {
			return err
		}
		printTasks(resp.Tasks)
		return nil
	})
}

func runTasksCreate(cmd *cobra.Command, args []string) error {
	return withClient(func(client *control.Client) error {
		target := task.Target{Command: taskCommand, Args: taskArgs, Env: taskEnv, Dir: taskDir}
		resp, err := doRequest(client, control.Request{Op: control.OpCreate, ID: args[0], Target: &target})
		if err != nil {
			return err
		}
		printTasks(resp.Tasks)
		return nil
	})
}

func runTasksRemove(cmd *cobra.Command, args []string) error {
	return withClient(func(client *control.Client) error {
		if _, err := doRequest(client, control.Request{Op: control.OpRemove, ID: args[0]}); err != nil {
			return err
		}
		fmt.Printf("Task %s removed\n", args[0])
		return nil
	})
}

func runTasksStopAll(cmd *cobra.Command, args []string) error {
	return withClient(func(client *control.Client) error {
		resp, err := client.Do(control.Request{
			Op:        control.OpStopAll,
			TimeoutMS: int(opTimeout.Milliseconds()),
		}, 60*time.Second)
		if err != nil {
			return err
		}

		if IsJSONOutput() {
			return printJSON(resp.Results)
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Task", "Status", "Error")
		for _, r := range resp.Results {
			errText := r.Error
			if errText == "" {
				errText = "-"
			}
			table.Append(r.ID, string(r.Status), errText)
		}
		table.Render()
		if !resp.OK {
			return fmt.Errorf("some tasks did not stop cleanly")
		}
		return nil
	})
}

func runTasksHistory(cmd *cobra.Command, args []string) error {
	return withClient(func(client *control.Client) error {
		resp, err := doRequest(client, control.Request{Op: control.OpHistory, ID: args[0]})
		if err != nil {
			return err
		}

		if IsJSONOutput() {
			return printJSON(resp.Transitions)
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("When", "From", "To", "PID", "Reason")
		for _, tr := range resp.Transitions {
			pid := "-"
			if tr.PID > 0 {
				pid = fmt.Sprintf("%d", tr.PID)
			}
			table.Append(timeutil.TimestampString(tr.Timestamp), string(tr.From), string(tr.To), pid, tr.Reason)
		}
		table.Render()
		return nil
	})
}

func printTasks(infos []task.Info) {
	if IsJSONOutput() {
		printJSON(infos)
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Task", "Status", "PID", "Command", "Uptime", "Last Error")
	for _, info := range infos {
		pid := "-"
		if info.PID > 0 {
			pid = fmt.Sprintf("%d", info.PID)
		}
		uptime := "-"
		if info.Status == task.StatusRunning {
			uptime = timeutil.Uptime(info.StartedAt)
		}
		lastError := info.LastError
		if lastError == "" {
			lastError = "-"
		}
		table.Append(info.ID, string(info.Status), pid, info.Command, uptime, lastError)
	}
	table.Render()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
