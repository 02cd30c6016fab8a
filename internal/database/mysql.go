package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"mana-sync-service/internal/config"
	"mana-sync-service/internal/logger"
)

type Database struct {
	DB     *sql.DB
	Config config.StateStorage
}

// NewDatabase opens a MySQL pool and waits, with exponential backoff bounded
// by cfg.ConnectTimeout, until the server answers a ping.
func NewDatabase(ctx context.Context, cfg config.StateStorage) (*Database, error) {
	db, err := sql.Open("mysql", cfg.MySQLDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := waitForPing(ctx, cfg.ConnectTimeout, db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(time.Hour)

	logger.Log.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	return &Database{
		DB:     db,
		Config: cfg,
	}, nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// ExecTx executes a function within a transaction
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %w, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

func waitForPing(ctx context.Context, limit time.Duration, ping func(context.Context) error) error {
	if limit <= 0 {
		limit = 30 * time.Second
	}
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := ping(ctx)
		if err != nil {
			logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", attempt))
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(limit),
	)
	return err
}
