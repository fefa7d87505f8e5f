package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func outlineCmd() *cobra.Command {
	var flags runFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "outline [source]",
		Short: "Draft the slide outline without rendering",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, src, err := flags.resolve(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a := newApp(cfg, logger)
			defer a.Close()
			if err := a.wire(ctx); err != nil {
				return err
			}
			c, err := a.controller(kind, true)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer p.Follow(ctx, c.Progress)()

			s := a.settings(kind, flags.settings)
			if err := c.Submit(ctx, src, s); err != nil {
				return err
			}
			a.remember(kind, s)
			snap := c.Snapshot()

			if asJSON {
				b, _ := json.MarshalIndent(&runResult{Kind: kind, Token: snap.Token, Slides: snap.Units}, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}
			p.Success("outline ready: %d slides (run %s)", len(snap.Units), snap.Token)
			return renderSlides(cmd.OutOrStdout(), snap.Units)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outline as JSON")
	return cmd
}
