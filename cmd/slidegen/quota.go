package main

import (
	"github.com/spf13/cobra"

	"github.com/thywilljoshua/slidegen/internal/quota"
)

func quotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show today's generation quota for this machine or account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := newApp(cfg, logger)
			defer a.Close()
			if err := a.initQuota(); err != nil {
				return err
			}
			id, err := a.ids.Identity(ctx)
			if err != nil {
				return err
			}
			st, err := a.gate.Check(ctx, id)
			if err != nil {
				return err
			}
			var kinds map[string]int
			if b, ok := a.store.(quota.Breakdown); ok {
				if kinds, err = b.Kinds(ctx, id.Key, st.Day); err != nil {
					logger.Warn("quota breakdown unavailable", "error", err)
				}
			}
			if a.cfg.Quota.Store == "memory" {
				newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Warn("quota.store is memory, counts reset with every process")
			}
			return renderQuota(cmd.OutOrStdout(), id.Key, st, kinds)
		},
	}
}
