package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	repoDir    string
	rootCmd    = &cobra.Command{
		Use:   "gba",
		Short: "gba - plan-driven feature implementation with Claude Code",
		Long: `gba executes the phase plan of a feature with Claude Code in an isolated
git worktree. Every phase is gated by the project's pre-commit checks and
committed; afterwards the change is reviewed, verified and turned into a
pull request. Interrupted runs resume at the first unfinished phase.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo", ".", "repository root")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
