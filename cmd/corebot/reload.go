package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildReloadScheduleCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "reload-schedule",
		Short: "Validate the schedule document and skill directory parse cleanly",
		Long: `reload-schedule builds the same bindings a running process would build on
"/reload-schedule", then exits. It does not reach into a running process —
use the in-chat command for that; this is a standalone validation pass for
CI and pre-deploy checks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "schedule document and skill directory parsed cleanly")
			fmt.Fprint(cmd.OutOrStdout(), a.statusText())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "corebot.yaml", "path to YAML configuration file")
	return cmd
}
