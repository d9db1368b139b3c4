package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/psantana5/procbox/pkg/config"
)

var (
	defCommand   string
	defArgs      []string
	defEnv       []string
	defDir       string
	defAutostart bool
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the daemon config file",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a config value by dotted path",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a config value by dotted path",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configAddTaskCmd = &cobra.Command{
	Use:   "add-task <task-id>",
	Short: "Add a task definition to the config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigAddTask,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configAddTaskCmd)

	configAddTaskCmd.Flags().StringVar(&defCommand, "command", "", "command to run (required)")
	configAddTaskCmd.Flags().StringArrayVar(&defArgs, "arg", nil, "command argument (repeatable)")
	configAddTaskCmd.Flags().StringArrayVar(&defEnv, "env", nil, "KEY=VALUE environment entry (repeatable)")
	configAddTaskCmd.Flags().StringVar(&defDir, "dir", "", "working directory")
	configAddTaskCmd.Flags().BoolVar(&defAutostart, "autostart", false, "start this task when the daemon boots")
	configAddTaskCmd.MarkFlagRequired("command")
}

func openConfig() (*config.Store, error) {
	cfg := config.NewStore(ConfigFilePath())
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cfg, err := openConfig()
	if err != nil {
		return err
	}
	v, err := cfg.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cfg, err := openConfig()
	if err != nil {
		return err
	}
	cfg.Set(args[0], coerce(args[1]))
	return cfg.Save()
}

func runConfigAddTask(cmd *cobra.Command, args []string) error {
	cfg, err := openConfig()
	if err != nil {
		return err
	}

	defs, err := cfg.Tasks()
	if err != nil {
		return err
	}
	for _, d := range defs {
		if d.ID == args[0] {
			return fmt.Errorf("task %s already defined in %s", args[0], cfg.Path())
		}
	}
	defs = append(defs, config.TaskDef{
		ID:        args[0],
		Command:   defCommand,
		Args:      defArgs,
		Env:       defEnv,
		Dir:       defDir,
		Autostart: defAutostart,
	})
	cfg.Set("tasks", defs)
	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Printf("Task %s added to %s\n", args[0], cfg.Path())
	return nil
}

// coerce interprets bools and numbers so config values keep their YAML types.
func coerce(raw string) interface{} {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
