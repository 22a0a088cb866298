package main

import (
	"encoding/json"
	"strings"
	"time"

	"searchsync/internal/config"
	"searchsync/internal/domain"
	"searchsync/internal/transport/socket"

	"github.com/spf13/cobra"
)

var (
	searchPage   int
	searchSize   int
	searchRemote bool
)

var searchCmd = &cobra.Command{
	Use:   "search [keyword]",
	Short: "Search records by keyword in title or contents",
	Long:  `Prints one page of matching documents as JSON. With --remote the query goes to a running serve process over the socket endpoint.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyword := strings.Join(args, " ")
		var (
			page domain.Page[domain.SearchDocument]
			err  error
		)
		if searchRemote {
			page, err = remoteSearch(cmd, keyword)
		} else {
			page, err = localSearch(cmd, keyword)
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	},
}

func localSearch(cmd *cobra.Command, keyword string) (domain.Page[domain.SearchDocument], error) {
	a, err := loadApp()
	if err != nil {
		return domain.Page[domain.SearchDocument]{}, err
	}
	defer a.Close()
	return a.Search.Search(cmd.Context(), keyword, searchPage, searchSize)
}

func remoteSearch(cmd *cobra.Command, keyword string) (domain.Page[domain.SearchDocument], error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return domain.Page[domain.SearchDocument]{}, err
	}
	c := &socket.Client{Network: cfg.Socket.Network, Address: cfg.Socket.Address, AuthToken: cfg.Socket.AuthToken, Timeout: 10 * time.Second}
	return c.Search(cmd.Context(), keyword, searchPage, searchSize)
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchPage, "page", 0, "zero-based page number")
	searchCmd.Flags().IntVar(&searchSize, "size", 10, "page size (1-100)")
	searchCmd.Flags().BoolVar(&searchRemote, "remote", false, "query a running serve process")
}
