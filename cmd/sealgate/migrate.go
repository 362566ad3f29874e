package main

import (
	"database/sql"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"sealgate/internal/config"
	"sealgate/internal/ledger"

	_ "modernc.org/sqlite"
)

func newMigrateCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect ledger schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dryRun {
				// Opening the ledger applies pending migrations.
				st, err := ledger.Open(cfg.DBPath, cfg.PackageID)
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				if err := st.Close(); err != nil {
					return err
				}
			}

			plan, err := migrationPlan(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("inspect migrations: %w", err)
			}
			if opts.structured() {
				return writeJSON(plan)
			}

			lines := []string{
				fmt.Sprintf("current_version: %d", plan.CurrentVersion),
				fmt.Sprintf("available_version: %d", plan.AvailableVersion),
			}
			if len(plan.Pending) == 0 {
				return writeLines(append(lines, "pending: none"))
			}
			lines = append(lines, fmt.Sprintf("pending: %d", len(plan.Pending)))
			for _, m := range plan.Pending {
				lines = append(lines, fmt.Sprintf("  %d: %s", m.Version, m.Description))
			}
			return writeLines(lines)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show pending migrations without applying them")
	return cmd
}

func migrationPlan(path string) (*ledger.MigrationStatus, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return ledger.MigrationPlan(db)
}
