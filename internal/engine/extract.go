package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
)

// identifierColumns are structural columns that are never offered as variables.
var identifierColumns = []string{"ngen_id", "usgs_id", "nwm_id", "feature_id", "time", "type"}

// Variables returns the plottable columns of key's table in schema order.
func (e *Engine) Variables(ctx context.Context, key string) ([]string, error) {
	table := domain.TableName(key)
	var vars []string
	err := e.withConn(ctx, "variables", func(c *sql.Conn) error {
		if err := requireTable(ctx, c, table); err != nil {
			return err
		}
		cols, err := columns(ctx, c, table)
		if err != nil {
			return err
		}
		vars = make([]string, 0, len(cols))
		for _, col := range cols {
			if !slices.Contains(identifierColumns, col) {
				vars = append(vars, col)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("variables %s: %w", table, err)
	}
	return vars, nil
}

// Timeseries returns variable for one feature ordered by time. A feature with
// no rows yields an empty series.
func (e *Engine) Timeseries(ctx context.Context, key string, featureID int64, variable string) ([]domain.Point, error) {
	table := domain.TableName(key)
	series := []domain.Point{}
	err := e.withConn(ctx, "timeseries", func(c *sql.Conn) error {
		if err := requireVariable(ctx, c, table, variable); err != nil {
			return err
		}
		q := fmt.Sprintf("SELECT time, %s FROM %s WHERE feature_id = ? ORDER BY time",
			quoteIdent(variable), quoteIdent(table))
		rows, err := c.QueryContext(ctx, q, featureID)
		if err != nil {
			return fmt.Errorf("query timeseries: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				raw any
				v   sql.NullFloat64
			)
			if err := rows.Scan(&raw, &v); err != nil {
				return fmt.Errorf("scan timeseries row: %w", err)
			}
			ts, err := toTime(raw)
			if err != nil {
				return err
			}
			p := domain.Point{Time: ts}
			if v.Valid {
				val := v.Float64
				p.Value = &val
			}
			series = append(series, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("timeseries %s: %w", table, err)
	}
	return series, nil
}

// DistinctFeatureIDs returns the feature ids of key's table in ascending order.
func (e *Engine) DistinctFeatureIDs(ctx context.Context, key string) ([]int64, error) {
	table := domain.TableName(key)
	var ids []int64
	err := e.withConn(ctx, "distinct_features", func(c *sql.Conn) error {
		if err := requireTable(ctx, c, table); err != nil {
			return err
		}
		rows, err := c.QueryContext(ctx, fmt.Sprintf(
			"SELECT DISTINCT feature_id FROM %s WHERE feature_id IS NOT NULL ORDER BY feature_id", quoteIdent(table)))
		if err != nil {
			return fmt.Errorf("query feature ids: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan feature id: %w", err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("distinct feature ids %s: %w", table, err)
	}
	return ids, nil
}

// DistinctTimes returns the time steps of key's table in ascending order.
func (e *Engine) DistinctTimes(ctx context.Context, key string) ([]time.Time, error) {
	table := domain.TableName(key)
	var times []time.Time
	err := e.withConn(ctx, "distinct_times", func(c *sql.Conn) error {
		if err := requireTable(ctx, c, table); err != nil {
			return err
		}
		rows, err := c.QueryContext(ctx, fmt.Sprintf(
			"SELECT DISTINCT time FROM %s WHERE time IS NOT NULL ORDER BY time", quoteIdent(table)))
		if err != nil {
			return fmt.Errorf("query times: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var raw any
			if err := rows.Scan(&raw); err != nil {
				return fmt.Errorf("scan time: %w", err)
			}
			ts, err := toTime(raw)
			if err != nil {
				return err
			}
			times = append(times, ts)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("distinct times %s: %w", table, err)
	}
	return times, nil
}

// FlatVariable returns every value of variable ordered by (feature_id, time),
// so the value of feature f at time t sits at f*numTimes+t. Nulls become NaN.
//
// The table must be a dense grid: every feature has exactly one row for every
// time, and no row lacks a feature_id or time.
// Sparse tables are rejected with ErrSparseGrid because positional addressing
// would silently misalign them.
func (e *Engine) FlatVariable(ctx context.Context, key, variable string) ([]float32, error) {
	table := domain.TableName(key)
	var flat []float32
	err := e.withConn(ctx, "flat_variable", func(c *sql.Conn) error {
		if err := requireVariable(ctx, c, table, variable); err != nil {
			return err
		}

		var features, times, total, cells, unkeyed int64
		q := quoteIdent(table)
		err := c.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT COUNT(DISTINCT feature_id), COUNT(DISTINCT time), COUNT(*),
				(SELECT COUNT(*) FROM (SELECT DISTINCT feature_id, time FROM %s)),
				COALESCE(SUM(feature_id IS NULL OR time IS NULL), 0)
			FROM %s`, q, q),
		).Scan(&features, &times, &total, &cells, &unkeyed)
		if err != nil {
			return fmt.Errorf("count rows: %w", err)
		}
		switch {
		case unkeyed > 0:
			return fmt.Errorf("%w: %d rows without feature_id or time", ErrSparseGrid, unkeyed)
		case cells != total:
			return fmt.Errorf("%w: %d rows for %d distinct (feature_id, time) cells", ErrSparseGrid, total, cells)
		case total != features*times:
			return fmt.Errorf("%w: %d rows for %d features x %d times", ErrSparseGrid, total, features, times)
		}

		flat = make([]float32, total)
		rows, err := c.QueryContext(ctx, fmt.Sprintf(
			"SELECT %s FROM %s ORDER BY feature_id, time", quoteIdent(variable), quoteIdent(table)))
		if err != nil {
			return fmt.Errorf("query values: %w", err)
		}
		defer rows.Close()

		n := 0
		for rows.Next() {
			if n >= len(flat) {
				break
			}
			var v sql.NullFloat64
			if err := rows.Scan(&v); err != nil {
				return fmt.Errorf("scan value: %w", err)
			}
			if v.Valid {
				flat[n] = float32(v.Float64)
			} else {
				flat[n] = float32(math.NaN())
			}
			n++
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if n != len(flat) {
			e.logger.Warn("row count changed while streaming", "table", table, "declared", len(flat), "written", n)
			flat = flat[:n]
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("flat variable %s.%s: %w", table, variable, err)
	}
	return flat, nil
}

func requireVariable(ctx context.Context, c *sql.Conn, table, variable string) error {
	if err := requireTable(ctx, c, table); err != nil {
		return err
	}
	cols, err := columns(ctx, c, table)
	if err != nil {
		return err
	}
	if variable == "" || slices.Contains(identifierColumns, variable) || !slices.Contains(cols, variable) {
		return fmt.Errorf("%w: %q", ErrUnknownVariable, variable)
	}
	return nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case time.Time:
		return t.UTC(), nil
	case string:
		ts, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time %q: %w", t, err)
		}
		return ts.UTC(), nil
	case []byte:
		return toTime(string(t))
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", v)
}
