package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"finplan/internal/log"
	"finplan/internal/storage"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the SQLite database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.bootstrap()
			if err != nil {
				return err
			}
			if cfg.DataBackend != "sqlite" {
				return fmt.Errorf("migrate requires DATA_BACKEND=sqlite, got %q", cfg.DataBackend)
			}

			if err := os.MkdirAll(filepath.Dir(cfg.SQLiteDBPath), 0755); err != nil {
				return fmt.Errorf("create db directory: %w", err)
			}
			version, err := storage.RunMigrations(storage.DSN(cfg.SQLiteDBPath))
			if err != nil {
				return err
			}

			logger.WithComponent(log.ComponentStorage).Info("Migrations applied",
				log.FieldOperation, log.OpMigrate,
				"path", cfg.SQLiteDBPath,
				"version", version)
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}
