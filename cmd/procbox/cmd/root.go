package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/procbox/pkg/control"
)

var (
	cfgFile      string
	controlAddr  string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "procbox",
	Short: "Task process supervisor",
	Long:  `procbox manages long-running worker processes: it starts them, confirms their initialization, stops them cooperatively, and escalates to forced termination when they overrun their shutdown window.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.procbox/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&controlAddr, "control", "", "daemon control address (default from config or "+control.DefaultAddr+")")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".procbox"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.BindEnv("control_addr", "PROCBOX_CONTROL_ADDR")

	_ = viper.ReadInConfig()

	if controlAddr == "" {
		controlAddr = viper.GetString("control_addr")
	}
	if controlAddr == "" {
		controlAddr = control.DefaultAddr
	}
}

// ConfigFilePath returns the resolved daemon config file path
func ConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".procbox", "config.yaml")
}

// GetControlAddr returns the configured daemon control address
func GetControlAddr() string {
	return controlAddr
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}
