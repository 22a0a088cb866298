package main

import (
	"fmt"
	"os"

	"searchsync/internal/app"
	"searchsync/internal/config"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "searchsyncd",
	Short: "Keeps a full-text search replica in sync with the primary record store",
	Long: `searchsyncd stores records in SQLite, publishes a change event for every committed
mutation and applies those events to a bleve search index by re-reading the record.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "searchsync.yaml", "path to config file")
}

func loadApp(opts ...app.Option) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(cfg, opts...)
}
