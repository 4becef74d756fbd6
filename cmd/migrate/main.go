package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/config"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/telemetry"
)

func main() {
	var (
		action = flag.String("action", "up", "migration action: up, down, version, force")
		steps  = flag.Int("steps", 0, "number of migrations to apply (0 = all)")
		path   = flag.String("path", "migrations", "path to migration files")
	)
	flag.Parse()

	logger := telemetry.SetupLogger(os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		logger.Error("database URL is required for migrations")
		os.Exit(1)
	}

	m, err := migrate.New("file://"+*path, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to initialize migrator", "error", err)
		os.Exit(1)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("closing migration source", "error", srcErr)
		}
		if dbErr != nil {
			logger.Warn("closing migration database", "error", dbErr)
		}
	}()

	if err := run(m, logger, *action, *steps, flag.Args()); err != nil {
		logger.Error("migration failed", "action", *action, "error", err)
		os.Exit(1)
	}
}

func run(m *migrate.Migrate, logger *slog.Logger, action string, steps int, args []string) error {
	switch action {
	case "up":
		var err error
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("schema already up to date")
			return nil
		}
		if err != nil {
			return err
		}
		return report(m, logger, "migrations applied")

	case "down":
		if steps == 0 {
			steps = 1
		}
		if err := m.Steps(-steps); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				logger.Info("nothing to roll back")
				return nil
			}
			return err
		}
		return report(m, logger, "migrations rolled back")

	case "version":
		return report(m, logger, "current schema")

	case "force":
		if len(args) != 1 {
			return fmt.Errorf("force requires a target version argument")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		if err := m.Force(v); err != nil {
			return err
		}
		return report(m, logger, "schema version forced")

	default:
		return fmt.Errorf("unknown action %q (want up, down, version, or force)", action)
	}
}

func report(m *migrate.Migrate, logger *slog.Logger, msg string) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info(msg, "version", "none")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info(msg, "version", version, "dirty", dirty)
	return nil
}
