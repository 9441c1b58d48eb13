// Package db reads a GTFS feed from a Postgres import.
package db

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// feedSchema is where imports place the GTFS tables.
const feedSchema = "public"

// Open returns a pgx-backed pool sized for a single startup read.
func Open(dsn string) (*sql.DB, error) {
	pool, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(4)
	pool.SetMaxIdleConns(2)
	pool.SetConnMaxLifetime(30 * time.Minute)
	return pool, nil
}

// Ping checks the connection, giving up after five seconds.
func Ping(ctx context.Context, pool *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return pool.PingContext(ctx)
}

// columnsOf reports which of cols exist on a feed table.
func columnsOf(ctx context.Context, pool *sql.DB, table string, cols ...string) (map[string]bool, error) {
	found := make(map[string]bool, len(cols))
	for _, c := range cols {
		found[c] = false
	}
	if len(cols) == 0 {
		return found, nil
	}
	err := query(ctx, pool, `
SELECT column_name FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`,
		func(rows *sql.Rows) error {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			found[name] = true
			return nil
		}, feedSchema, table, cols)
	return found, err
}

// tableExists reports whether a feed table is present.
func tableExists(ctx context.Context, pool *sql.DB, table string) (bool, error) {
	var ok bool
	err := pool.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, feedSchema+"."+table).Scan(&ok)
	return ok, err
}
