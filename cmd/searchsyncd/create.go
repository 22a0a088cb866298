package main

import (
	"encoding/json"

	"searchsync/internal/app"
	"searchsync/internal/config"

	"github.com/spf13/cobra"
)

var (
	createTitle    string
	createContents string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a record and publish its change event",
	Long: `Inserts a record into the primary store. With a broker transport or the outbox the event
is left for a running serve process; in-process mode indexes it immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		var opts []app.Option
		if cfg.Transport.Mode != config.TransportInProcess || cfg.Transport.Outbox.Enabled {
			opts = append(opts, app.WriteOnly())
		}
		a, err := app.New(cfg, opts...)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Records.Create(cmd.Context(), createTitle, createContents)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVar(&createTitle, "title", "", "record title (1-200 characters)")
	createCmd.Flags().StringVar(&createContents, "contents", "", "record contents")
	_ = createCmd.MarkFlagRequired("title")
}
