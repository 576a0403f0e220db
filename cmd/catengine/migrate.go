package main

import (
	"fmt"

	"github.com/mohammad-safakhou/catengine/internal/store"
	"github.com/spf13/cobra"
)

func migrateCMD(cfgPath *string) *cobra.Command {
	var migDir string
	var direction string
	var steps int

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply item bank schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			pg := a.cfg.Storage.Postgres
			if pg.Driver == store.DriverSQLite {
				// opening a sqlite bank applies the bundled schema
				st, err := a.openStore(cmd.Context())
				if err != nil {
					return err
				}
				a.log.Info("sqlite schema ensured", "path", pg.SQLitePath)
				return st.Close()
			}
			if err := store.Migrate(migDir, pg.DSN(), direction, steps); err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}
			v, dirty, err := store.MigrationVersion(migDir, pg.DSN())
			if err != nil {
				return err
			}
			a.log.Info("migrations applied", "direction", direction, "version", v, "dirty", dirty)
			return nil
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "", "migrations source, e.g. file://migrations (default: embedded)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	return migrate
}
