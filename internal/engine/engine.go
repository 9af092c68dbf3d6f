// Package engine is the embedded query engine. One SQLite database holds a
// table per materialized cache key plus the hydrofabric index table. The
// catalog is shared by every caller; table creation is guarded by existence
// checks rather than locks.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
)

var (
	// ErrTableNotFound is returned when a query names a table that was never
	// materialized or has been dropped. Callers must run EnsureTable first.
	ErrTableNotFound = errors.New("table not materialized")
	// ErrUnknownVariable is returned for a variable that is not a column.
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrSparseGrid is returned when a table is not a dense feature x time grid.
	ErrSparseGrid = errors.New("table is not a dense feature x time grid")
	// ErrFeatureNotFound is returned by FeatureProperties for an unknown id.
	ErrFeatureNotFound = errors.New("feature not found")
)

// Engine wraps the SQLite database.
type Engine struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Open connects to dsn. The pool holds a single connection so an in-memory
// database is shared by every query.
func Open(ctx context.Context, dsn string, logger *slog.Logger, metrics *observability.Metrics) (*Engine, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Engine{db: db, logger: logger, metrics: metrics}, nil
}

var (
	sharedOnce sync.Once
	shared     *Engine
	sharedErr  error
)

// Shared returns the process-wide engine, opening it on first use. Later calls
// ignore their arguments.
func Shared(ctx context.Context, dsn string, logger *slog.Logger, metrics *observability.Metrics) (*Engine, error) {
	sharedOnce.Do(func() {
		shared, sharedErr = Open(ctx, dsn, logger, metrics)
	})
	return shared, sharedErr
}

// Close releases the database.
func (e *Engine) Close() error {
	return e.db.Close()
}

// withConn runs fn on a connection-scoped handle that is closed afterwards.
func (e *Engine) withConn(ctx context.Context, query string, fn func(*sql.Conn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		e.metrics.QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	}()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

// HasTable reports whether a table exists in the catalog.
func (e *Engine) HasTable(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := e.withConn(ctx, "has_table", func(c *sql.Conn) error {
		var err error
		ok, err = hasTable(ctx, c, name)
		return err
	})
	return ok, err
}

// Tables lists every table in the catalog.
func (e *Engine) Tables(ctx context.Context) ([]string, error) {
	var names []string
	err := e.withConn(ctx, "tables", func(c *sql.Conn) error {
		var err error
		names, err = listTables(ctx, c)
		return err
	})
	return names, err
}

// DropTable drops the table of a cache key. Dropping a missing table is not an error.
func (e *Engine) DropTable(ctx context.Context, key string) error {
	name := domain.TableName(key)
	return e.withConn(ctx, "drop_table", func(c *sql.Conn) error {
		if _, err := c.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
		e.logger.Info("table dropped", "table", name)
		return nil
	})
}

// DropAllSpatialTables drops every per-path table and keeps the index table.
// It returns the dropped table names.
func (e *Engine) DropAllSpatialTables(ctx context.Context) ([]string, error) {
	var dropped []string
	err := e.withConn(ctx, "drop_all", func(c *sql.Conn) error {
		names, err := listTables(ctx, c)
		if err != nil {
			return err
		}
		for _, name := range names {
			if !domain.IsSpatialTable(name) {
				continue
			}
			if _, err := c.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
				return fmt.Errorf("drop table %s: %w", name, err)
			}
			dropped = append(dropped, name)
		}
		return nil
	})
	if err == nil {
		e.logger.Info("spatial tables dropped", "count", len(dropped))
	}
	return dropped, err
}

func hasTable(ctx context.Context, c *sql.Conn, name string) (bool, error) {
	var n int
	err := c.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

func requireTable(ctx context.Context, c *sql.Conn, name string) error {
	ok, err := hasTable(ctx, c, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return nil
}

func listTables(ctx context.Context, c *sql.Conn) ([]string, error) {
	rows, err := c.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func columns(ctx context.Context, c *sql.Conn, table string) ([]string, error) {
	rows, err := c.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, n)
	}
	return cols, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
