package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ddevcap/viewstats/catalog"
	"github.com/ddevcap/viewstats/config"
)

// newRootCmd builds the command tree. Configuration is loaded once before
// any subcommand runs.
func newRootCmd() *cobra.Command {
	var (
		cfg   config.Config
		debug bool
	)

	root := &cobra.Command{
		Use:           "viewcounts",
		Short:         "Inspect and regenerate view-count snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			level := cfg.SlogLevel()
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newShowCmd(func() config.Config { return cfg }),
		newSnapshotCmd(func() config.Config { return cfg }),
	)
	return root
}

// loadCatalog reads CATALOG_FILE, or the embedded catalog when unset.
func loadCatalog(cfg config.Config) (catalog.Catalog, error) {
	return catalog.Load(cfg.CatalogFile)
}
