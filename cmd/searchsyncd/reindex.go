package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the primary store",
	Long: `Walks every record in id order and upserts it into the search index. Stop serve first; the index is opened exclusively.

Delete tombstones in the index never expire. A record whose id is tombstoned, or whose
indexed version is newer, is skipped with a warning in the log. To rebuild from scratch,
remove the index directory (index.path) before running reindex.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Reindex(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d records\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}
