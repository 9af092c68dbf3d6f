package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
)

// LoadIndex materializes the hydrofabric index table from a Parquet file.
// The index table is never dropped by DropAllSpatialTables.
func (e *Engine) LoadIndex(ctx context.Context, path string) error {
	return e.EnsureTable(ctx, domain.IndexKey, path)
}

// FeatureProperties returns the index table row whose id matches, independent
// of the active selection.
func (e *Engine) FeatureProperties(ctx context.Context, id string) (map[string]any, error) {
	var props map[string]any
	err := e.withConn(ctx, "feature_properties", func(c *sql.Conn) error {
		if err := requireTable(ctx, c, domain.IndexTable); err != nil {
			return err
		}
		rows, err := c.QueryContext(ctx,
			fmt.Sprintf("SELECT * FROM %s WHERE id = ? LIMIT 1", quoteIdent(domain.IndexTable)), id)
		if err != nil {
			return fmt.Errorf("query feature: %w", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", ErrFeatureNotFound, id)
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan feature: %w", err)
		}
		props = make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				props[col] = string(b)
				continue
			}
			props[col] = vals[i]
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("feature properties %s: %w", id, err)
	}
	return props, nil
}
