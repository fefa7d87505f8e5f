package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thywilljoshua/slidegen/internal/invoker"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

func verifyCmd() *cobra.Command {
	var kind string
	var flagSettings invoker.Settings

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the model credentials with the generation service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Backend != "http" {
				return fmt.Errorf("verify needs the http backend, backend is %s", cfg.Backend)
			}
			profile, err := workflow.Lookup(workflow.Kind(kind))
			if err != nil {
				return err
			}
			a := newApp(cfg, logger)
			s := a.settings(profile.Kind, flagSettings)
			if err := invoker.NewHTTPBackend(a.client, logger).Verify(cmd.Context(), s); err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success("credentials accepted for model %s", s.Model)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(workflow.KindPaper2PPT), "workflow whose saved settings to use")
	registerSettingsFlags(cmd, &flagSettings)
	return cmd
}
