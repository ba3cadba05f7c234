// Package cli implements the cortex command line interface.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/dbhq-uk/cortex/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"   ___ ___  _ __| |_ _____  __\n" +
		"  / __/ _ \\| '__| __/ _ \\ \\/ /\n" +
		" | (_| (_) | |  | ||  __/>  <\n" +
		"  \\___\\___/|_|   \\__\\___/_/\\_\\\n"
)

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Cortex - multi-agent task orchestration",
	Long:  color.CyanString(logo) + "\nA multi-agent task-orchestration runtime: decompose, delegate, fan in.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(learnCmd)
}
