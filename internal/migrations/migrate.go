// Package migrations applies the embedded comparison-table schema with golang-migrate.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	mysqlmigrate "github.com/golang-migrate/migrate/v4/database/mysql"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"mana-sync-service/internal/config"
	"mana-sync-service/internal/logger"
)

//go:embed mysql/*.sql postgres/*.sql
var files embed.FS

// Up applies every pending migration for the configured storage backend.
func Up(ctx context.Context, cfg config.StateStorage) error {
	return run(ctx, cfg, func(m *migrate.Migrate) error { return m.Up() })
}

// Down rolls back steps migrations.
func Down(ctx context.Context, cfg config.StateStorage, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("down steps must be positive, got %d", steps)
	}
	return run(ctx, cfg, func(m *migrate.Migrate) error { return m.Steps(-steps) })
}

func run(ctx context.Context, cfg config.StateStorage, apply func(*migrate.Migrate) error) error {
	m, closeDB, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			logger.Log.Warn("migrations source close", zap.Error(sourceErr))
		}
		if dbErr != nil {
			logger.Log.Warn("migrations db close", zap.Error(dbErr))
		}
		closeDB()
	}()

	logger.Log.Info("Running database migrations", zap.String("storage", cfg.Type))
	if err := apply(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Log.Info("Database migrations up-to-date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	logger.Log.Info("Database migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func open(ctx context.Context, cfg config.StateStorage) (*migrate.Migrate, func(), error) {
	var (
		driverName string
		dsn        string
		dir        string
	)
	switch cfg.Type {
	case "mysql":
		driverName, dsn, dir = "mysql", cfg.MySQLDSN()+"&multiStatements=true", "mysql"
	case "postgres":
		driverName, dsn, dir = "pgx", cfg.DSN, "postgres"
	default:
		return nil, nil, fmt.Errorf("storage type %q has no migrations", cfg.Type)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open migrations connection: %w", err)
	}
	closeDB := func() { _ = db.Close() }

	if err := db.PingContext(ctx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("ping migrations database: %w", err)
	}

	var driver database.Driver
	if cfg.Type == "mysql" {
		driver, err = mysqlmigrate.WithInstance(db, &mysqlmigrate.Config{})
	} else {
		driver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	}
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("initialise %s migrate driver: %w", cfg.Type, err)
	}

	source, err := iofs.New(files, dir)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, cfg.Type, driver)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("initialise migrate instance: %w", err)
	}
	return m, closeDB, nil
}
