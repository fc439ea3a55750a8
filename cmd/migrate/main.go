// Package main applies the embedded schema migrations.
//
//	migrate            apply every pending migration
//	migrate down <n>   roll back n migrations
//	migrate force <v>  mark version v as applied without running it
//	migrate version    print the current version
package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/config"
	"github.com/drfirst/go-clinic/internal/observability/logging"
	"github.com/drfirst/go-clinic/migrations"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New("migrate", cfg.IsDevelopment(), cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("ping db", zap.Error(err))
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Fatal("db driver", zap.Error(err))
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Fatal("source driver", zap.Error(err))
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Fatal("create migrator", zap.Error(err))
	}
	defer m.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-argInt(logger, 1))
	case "force":
		err = m.Force(argInt(logger, -1))
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			logger.Fatal("read version", zap.Error(verr))
		}
		logger.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migration failed", zap.String("command", cmd), zap.Error(err))
	}
	version, dirty, _ := m.Version()
	logger.Info("migrations complete", zap.String("command", cmd), zap.Uint("version", version), zap.Bool("dirty", dirty))
}

// argInt reads os.Args[2]. A negative def means the argument is required.
func argInt(logger *zap.Logger, def int) int {
	if len(os.Args) < 3 {
		if def < 0 {
			logger.Fatal("missing numeric argument")
		}
		return def
	}
	n, err := strconv.Atoi(os.Args[2])
	if err != nil {
		logger.Fatal("invalid numeric argument", zap.String("arg", os.Args[2]), zap.Error(err))
	}
	return n
}
