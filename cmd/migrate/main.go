package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/config"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/database"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/env"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

func main() {
	env.SetupEnvFile()
	logging.Setup(env.GetEnv("APP_ENV", "prod"))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	// Migrations only need the database settings, not the service secrets.
	dbCfg := config.DatabaseConfig{
		Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
		Port:     env.GetEnv("DB_PORT", "3306"),
		User:     env.GetEnv("DB_USER", "reflectcoach"),
		Password: env.GetEnv("DB_PASSWORD", ""),
		Name:     env.GetEnv("DB_NAME", "reflectcoach"),
	}
	dbURL := "mysql://" + database.DSN(dbCfg) + "&multiStatements=true"

	log.Info().
		Str("user", dbCfg.User).
		Str("host", dbCfg.Host).
		Str("port", dbCfg.Port).
		Str("database", dbCfg.Name).
		Msg("Connecting to database")

	m, err := migrate.New(
		"file://"+env.GetEnv("MIGRATIONS_DIR", "migrations"),
		dbURL,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not initialize migrations")
	}

	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Error().AnErr("source", sourceErr).AnErr("database", dbErr).Msg("Could not close migration resources")
		}
	}()

	switch command {
	case "up":
		if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("No changes: database is up to date")
		} else if err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		} else {
			log.Info().Msg("Migrations applied")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatal().Err(err).Msg("Could not roll back last migration")
		}
		log.Info().Msg("Rolled back last migration")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatal().Msg("Please provide a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid version number")
		}

		if err := m.Migrate(uint(version)); errors.Is(err, migrate.ErrNoChange) {
			log.Info().Uint64("version", version).Msg("No changes: database already at version")
		} else if err != nil {
			log.Fatal().Err(err).Uint64("version", version).Msg("Migration to version failed")
		} else {
			log.Info().Uint64("version", version).Msg("Migrated to version")
		}

	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("No migrations have been applied yet")
		} else if err != nil {
			log.Fatal().Err(err).Msg("Could not read migration version")
		} else {
			log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current migration version")
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the current migration version")
}
