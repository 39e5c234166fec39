package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/cassiomorais/paygate/internal/infrastructure/config"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const usage = `usage: migrate [flags] <command>

commands:
  up [N]      apply all (or N) pending migrations
  down [N]    roll back all (or N) migrations
  version     print the current schema version
  force V     mark version V as applied and clear the dirty flag
`

// migrateLogger routes golang-migrate output through zerolog.
type migrateLogger struct {
	logger  zerolog.Logger
	verbose bool
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info().Msgf(format, v...)
}

func (l migrateLogger) Verbose() bool { return l.verbose }

func main() {
	dbURL := flag.String("db", "", "database URL (default: DATABASE_URL, then PAYGATE_DATABASE_* settings)")
	path := flag.String("path", "internal/repository/postgres/migrations", "migration source directory")
	verbose := flag.Bool("v", false, "verbose migration logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage); flag.PrintDefaults() }
	flag.Parse()

	_ = godotenv.Load()
	logger := observability.InitLogger("info", "console", "paygate-migrate", os.Stderr)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := migrate.New("file://"+*path, resolveURL(*dbURL))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open migration source")
	}
	defer m.Close()
	m.Log = migrateLogger{logger: logger, verbose: *verbose}

	if err := run(m, flag.Arg(0), flag.Arg(1)); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info().Msg("Schema already up to date")
		} else {
			logger.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("Migration failed")
		}
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info().Msg("No migrations applied")
	case err != nil:
		logger.Fatal().Err(err).Msg("Failed to read schema version")
	default:
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
	}
}

func run(m *migrate.Migrate, cmd, arg string) error {
	n := 0
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v < 0 {
			return fmt.Errorf("invalid argument %q", arg)
		}
		n = v
	}

	switch cmd {
	case "up":
		if n > 0 {
			return m.Steps(n)
		}
		return m.Up()
	case "down":
		if n > 0 {
			return m.Steps(-n)
		}
		return m.Down()
	case "force":
		if arg == "" {
			return errors.New("force needs a version")
		}
		return m.Force(n)
	case "version":
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func resolveURL(flagURL string) string {
	if flagURL != "" {
		return flagURL
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env
	}
	db := config.DatabaseConfig{
		Host:     envOr("PAYGATE_DATABASE_HOST", "localhost"),
		Port:     5432,
		User:     envOr("PAYGATE_DATABASE_USER", "paygate"),
		Password: envOr("PAYGATE_DATABASE_PASSWORD", "paygate"),
		Database: envOr("PAYGATE_DATABASE_DATABASE", "paygate"),
		SSLMode:  envOr("PAYGATE_DATABASE_SSL_MODE", "disable"),
	}
	if p, err := strconv.Atoi(os.Getenv("PAYGATE_DATABASE_PORT")); err == nil {
		db.Port = p
	}
	return db.DatabaseURL()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
