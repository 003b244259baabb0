package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print scheduler bindings and next-run times without starting the dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprint(cmd.OutOrStdout(), a.statusText())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "corebot.yaml", "path to YAML configuration file")
	return cmd
}
