// File: cmd/login.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in to the portal once and print the landing page title",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			cfg.SetEngineWorkers(1)

			_, components, err := buildComponents(cmd)
			if err != nil {
				return err
			}
			defer components.Shutdown(cmd.Context())

			title, err := components.Registry.SelfTest(cmd.Context())
			if err != nil {
				return fmt.Errorf("login test failed: %w", err)
			}
			cmd.Printf("login test succeeded: %s\n", title)
			return nil
		},
	}
}
