package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// roomsSchema is applied at startup. Collections live in jsonb columns so
// every room mutation is a single atomic UPDATE keyed by room_id.
const roomsSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id          text PRIMARY KEY,
	members          jsonb NOT NULL DEFAULT '[]'::jsonb,
	files            jsonb NOT NULL DEFAULT '[]'::jsonb,
	folders          jsonb NOT NULL DEFAULT '[]'::jsonb,
	explorer_files   jsonb NOT NULL DEFAULT '[]'::jsonb,
	expanded_folders jsonb NOT NULL DEFAULT '[]'::jsonb,
	active_file      integer NOT NULL DEFAULT 0,
	current_language jsonb NOT NULL,
	current_code     text NOT NULL DEFAULT '',
	output_details   jsonb,
	created_at       timestamptz NOT NULL DEFAULT now(),
	updated_at       timestamptz NOT NULL DEFAULT now()
)`

// New creates a connection pool from a Postgres URL and ensures the rooms
// table exists. Pool limits are sized for a room-sync workload: each socket
// event borrows a connection briefly, so a small pool goes a long way.
func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 20 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}

	if _, err := pool.Exec(ctx, roomsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure rooms table: %w", err)
	}

	logger.Info("DB connection established",
		zap.String("dsn", poolConfig.ConnString()),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)
	return &DB{
		pool:   pool,
		logger: logger,
	}, nil
}

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.pool.Close()
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}
