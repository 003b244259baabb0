package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildSkillCmd() *cobra.Command {
	var configPath string
	var channelID string
	cmd := &cobra.Command{
		Use:   "skill <name>",
		Short: "Manually fire a skill against a channel, bypassing trigger resolution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if channelID == "" {
				return fmt.Errorf("--channel is required")
			}
			a, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.dispatcher.Handle(cmd.Context(), channelID, "cli", "/skill "+args[0])
			switch {
			case result.Failed:
				return fmt.Errorf("skill run failed: %s", result.Message)
			case result.Suppressed:
				fmt.Fprintf(cmd.OutOrStdout(), "suppressed: %s\n", result.Message)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "delivered %d chunk(s) to %s\n", result.Chunks, channelID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "corebot.yaml", "path to YAML configuration file")
	cmd.Flags().StringVar(&channelID, "channel", "", "target channel id")
	return cmd
}
