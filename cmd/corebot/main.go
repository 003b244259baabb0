// Package main provides the CLI entry point for the corebot Request
// Execution Core: the dispatcher that serialises per-channel agent
// invocations, runs the scheduled-skill clock, and delivers reminders.
//
// # Basic Usage
//
// Start the dispatcher:
//
//	corebot serve --config corebot.yaml
//
// Check scheduler/skill status without starting the process:
//
//	corebot status --config corebot.yaml
//
// Force an immediate schedule/skill reload against a running process is
// done in-chat via "/reload-schedule"; this binary's own reload-schedule
// subcommand only validates the documents parse cleanly.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "corebot",
		Short: "corebot - personal AI-assistant request execution core",
		Long: `corebot drives one chat platform's requests through an external LLM agent
subprocess, chunks the agent's output into platform-safe messages, and runs
scheduled skills on a cron/interval clock alongside a durable reminder store.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
		buildReloadScheduleCmd(),
		buildSkillCmd(),
	)

	return rootCmd
}
