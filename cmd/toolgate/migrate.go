package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // migrate driver
	_ "github.com/golang-migrate/migrate/v4/source/file"       // file source
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/toolgate/internal/config"
)

func migrateCmd() *cobra.Command {
	var dir string
	var direction string
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			return runMigrations(dir, cfg.Database.URL(), direction, steps)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	return cmd
}

func runMigrations(dir, dsn, direction string, steps int) error {
	m, err := migrate.New(dir, dsn)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Msg("migrations: no change")
		return nil
	}
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	log.Info().Str("direction", direction).Msg("migrations applied")
	return nil
}
