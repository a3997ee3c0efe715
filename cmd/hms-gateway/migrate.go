package main

import (
	"github.com/spf13/cobra"

	pgInfra "github.com/fastygo/hms-gateway/internal/infrastructure/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the gateway database schema",
	}
	cmd.PersistentFlags().Int("steps", 0, "number of migrations to apply (0 = all)")
	cmd.PersistentFlags().String("path", "", "migrations directory (overrides MIGRATIONS_PATH)")

	cmd.AddCommand(
		migrateDirectionCmd("up", "Apply pending migrations", pgInfra.Up),
		migrateDirectionCmd("down", "Roll back migrations", pgInfra.Down),
	)
	return cmd
}

func migrateDirectionCmd(use, short string, dir pgInfra.Direction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, zapLogger, err := bootstrap()
			if err != nil {
				return err
			}
			defer zapLogger.Sync()

			steps, _ := cmd.Flags().GetInt("steps")
			if path, _ := cmd.Flags().GetString("path"); path != "" {
				cfg.Migrations.Path = path
			}
			return pgInfra.RunMigrations(cfg.Database, cfg.Migrations, dir, steps, zapLogger)
		},
	}
}
