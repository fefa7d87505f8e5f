package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/thywilljoshua/slidegen/internal/config"
	"github.com/thywilljoshua/slidegen/internal/logging"
)

var (
	cfgFile string
	verbose bool
	noColor bool
	cfg     *config.Config
	logger  *slog.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "slidegen",
		Short:         "Turn papers, PDFs and decks into slide decks with a generation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .slidegen.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(generateCmd())
	root.AddCommand(outlineCmd())
	root.AddCommand(quotaCmd())
	root.AddCommand(verifyCmd())
	return root
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger, err = logging.New(os.Stderr, level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded",
		"backend", cfg.Backend,
		"quota_store", cfg.Quota.Store,
		"prefs", cfg.Prefs.Path)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		newPrinter(os.Stdout, os.Stderr).Error(err)
		os.Exit(1)
	}
}
