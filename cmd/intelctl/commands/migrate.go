package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fail(err, "load config")
		}
		if cfg.Database.URL == "" {
			return fail(errors.New("database.url is empty"), "migrate")
		}

		pool, err := storage.Open(cmd.Context(), cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fail(err, "connect")
		}
		defer pool.Close()

		if err := storage.RunMigrations(cmd.Context(), pool); err != nil {
			return fail(err, "migrate")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}
