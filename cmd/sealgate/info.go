package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"sealgate/internal/api"
	"sealgate/internal/config"
)

func newInfoCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show ledger, key server and blob store info",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.GetInfo(cmd.Context())
				if err != nil {
					return err
				}
				if resp.DBPath == "" {
					resp.DBPath = cfg.DBPath
				}

				if opts.structured() {
					return writeJSON(resp)
				}

				lines := []string{
					fmt.Sprintf("network: %s", resp.Network),
					fmt.Sprintf("package_id: %s", resp.PackageID),
					fmt.Sprintf("db_path: %s", resp.DBPath),
					fmt.Sprintf("schema_version: %d", resp.SchemaVersion),
					fmt.Sprintf("transactions: %d", resp.Transactions),
					fmt.Sprintf("key_servers: %d", resp.KeyServers),
					fmt.Sprintf("blob_epoch: %d", resp.BlobEpoch),
					"objects:",
				}
				types := make([]string, 0, len(resp.ObjectCounts))
				for typ := range resp.ObjectCounts {
					types = append(types, typ)
				}
				sort.Strings(types)
				for _, typ := range types {
					lines = append(lines, fmt.Sprintf("  %s: %d", typ, resp.ObjectCounts[typ]))
				}
				return writeLines(lines)
			})
		},
	}
	return cmd
}
