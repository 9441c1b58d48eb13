package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// metaDatabase holds the import bookkeeping table on a feed cluster.
const metaDatabase = "postgres"

// ErrNoImport is returned when no imported feed database matches a city.
var ErrNoImport = errors.New("no imported feed database")

// Source describes where a feed database lives.
type Source struct {
	DSN  string
	City string
}

// Open connects to the feed database. With a city set, the newest
// successful import for that city is looked up in the meta database
// and the DSN is pointed at it.
func (s Source) Open(ctx context.Context, logger *slog.Logger) (*sql.DB, error) {
	dsn := s.DSN
	if s.City != "" {
		name, err := s.latestImport(ctx)
		if err != nil {
			return nil, err
		}
		if dsn, err = withDatabase(s.DSN, name); err != nil {
			return nil, fmt.Errorf("compose feed DSN: %w", err)
		}
		logger.Info("using city feed database", "database", name, "city", s.City)
	}

	feedDB, err := Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := Ping(ctx, feedDB); err != nil {
		feedDB.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return feedDB, nil
}

func (s Source) latestImport(ctx context.Context) (string, error) {
	metaDSN, err := withDatabase(s.DSN, metaDatabase)
	if err != nil {
		return "", fmt.Errorf("invalid base DSN: %w", err)
	}
	meta, err := Open(metaDSN)
	if err != nil {
		return "", fmt.Errorf("db open (meta): %w", err)
	}
	defer meta.Close()
	if err := Ping(ctx, meta); err != nil {
		return "", fmt.Errorf("db ping (meta): %w", err)
	}
	name, err := latestImportName(ctx, meta, s.City)
	if err != nil {
		return "", fmt.Errorf("resolve feed database for city %q: %w", s.City, err)
	}
	return name, nil
}

const latestImportQuery = `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`

func latestImportName(ctx context.Context, meta *sql.DB, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", errors.New("city is required")
	}
	var name sql.NullString
	err := meta.QueryRowContext(ctx, latestImportQuery, city).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && name.String == "") {
		return "", fmt.Errorf("%w like %q", ErrNoImport, city)
	}
	if err != nil {
		return "", err
	}
	return name.String, nil
}

// withDatabase swaps the database path of a postgres DSN. A DSN without a
// scheme is read as postgres://.
func withDatabase(dsn, database string) (string, error) {
	if dsn == "" {
		return "", errors.New("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}
