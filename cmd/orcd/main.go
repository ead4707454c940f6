package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowcraft/orcd/cmd/orcd/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "orcd",
	Short:   "Declarative flow orchestrator",
	Long:    "orcd compiles and drives declarative flow documents: hierarchical states, templated actions, and capability-backed side effects.",
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

func init() {
	rootCmd.SetVersionTemplate("orcd version {{.Version}}\n")

	rootCmd.PersistentFlags().StringP("host-config", "c", "orcd.yaml", "Path to host config profile")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug mode")

	rootCmd.AddCommand(commands.NewValidateCmd())
	rootCmd.AddCommand(commands.NewRunCmd())
	rootCmd.AddCommand(commands.NewServeCmd())
	rootCmd.AddCommand(commands.NewInspectCmd())
	rootCmd.AddCommand(commands.NewResumeCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
