package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"go.opentelemetry.io/otel/attribute"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
)

const parquetBatchSize = 64 * 1024

// EnsureTable imports the cached blob at path as the table of key. It does
// nothing when the table already exists, including when another caller
// created it between the check and the import.
func (e *Engine) EnsureTable(ctx context.Context, key, path string) error {
	ctx, span := observability.Tracer().Start(ctx, "engine.EnsureTable")
	defer span.End()

	table := domain.TableName(key)
	span.SetAttributes(attribute.String("table", table))

	format, err := domain.FormatOf(key)
	if err != nil {
		return err
	}

	start := time.Now()
	err = e.withConn(ctx, "ensure_table", func(c *sql.Conn) error {
		exists, err := hasTable(ctx, c, table)
		if err != nil {
			return err
		}
		if exists {
			e.metrics.Materializations.WithLabelValues("exists").Inc()
			return nil
		}

		var rows int64
		switch format {
		case domain.FormatArrow:
			rows, err = importArrow(ctx, c, table, path)
		case domain.FormatParquet:
			rows, err = importParquet(ctx, c, table, path)
		default:
			return fmt.Errorf("materialize %s: %w", key, domain.ErrUnsupportedFormat)
		}
		if errors.Is(err, errTableExists) {
			e.metrics.Materializations.WithLabelValues("exists").Inc()
			return nil
		}
		if err != nil {
			return err
		}

		e.metrics.Materializations.WithLabelValues("created").Inc()
		e.metrics.MaterializeDuration.Observe(time.Since(start).Seconds())
		e.logger.Info("table materialized", "table", table, "format", format, "rows", rows, "duration", time.Since(start))
		return nil
	})
	if err != nil {
		e.metrics.Materializations.WithLabelValues("error").Inc()
		span.RecordError(err)
		return fmt.Errorf("ensure table %s: %w", table, err)
	}
	return nil
}

// importArrow reads an Arrow IPC stream batch by batch.
func importArrow(ctx context.Context, c *sql.Conn, table, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open arrow blob: %w", err)
	}
	defer f.Close()

	rdr, err := ipc.NewReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return 0, fmt.Errorf("read arrow stream: %w", err)
	}
	defer rdr.Release()

	return importRecords(ctx, c, table, rdr)
}

// importParquet scans a Parquet file from disk. The file is memory-mapped and
// decoded one row batch at a time.
func importParquet(ctx context.Context, c *sql.Conn, table, path string) (int64, error) {
	pf, err := file.OpenParquetFile(path, true)
	if err != nil {
		return 0, fmt.Errorf("open parquet blob: %w", err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: parquetBatchSize}, memory.DefaultAllocator)
	if err != nil {
		return 0, fmt.Errorf("read parquet: %w", err)
	}
	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("read parquet records: %w", err)
	}
	defer rr.Release()

	return importRecords(ctx, c, table, rr)
}

var errTableExists = errors.New("table already exists")

// importRecords creates table from the reader's schema and inserts every
// record inside one transaction, so a failed import leaves no table behind.
func importRecords(ctx context.Context, c *sql.Conn, table string, rr array.RecordReader) (int64, error) {
	schema := rr.Schema()
	if len(schema.Fields()) == 0 {
		return 0, errors.New("import: schema has no columns")
	}

	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, createTableSQL(table, schema)); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return 0, errTableExists
		}
		return 0, fmt.Errorf("create table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(table, schema))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var total int64
	args := make([]any, len(schema.Fields()))
	for rr.Next() {
		rec := rr.Record()
		for row := 0; row < int(rec.NumRows()); row++ {
			for col := range args {
				args[col] = cellValue(rec.Column(col), row)
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, fmt.Errorf("insert row %d: %w", total, err)
			}
			total++
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return total, nil
}

func createTableSQL(table string, schema *arrow.Schema) string {
	cols := make([]string, len(schema.Fields()))
	for i, f := range schema.Fields() {
		cols[i] = quoteIdent(f.Name) + " " + sqlType(f.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
}

func insertSQL(table string, schema *arrow.Schema) string {
	names := make([]string, len(schema.Fields()))
	marks := make([]string, len(schema.Fields()))
	for i, f := range schema.Fields() {
		names[i] = quoteIdent(f.Name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(names, ", "), strings.Join(marks, ", "))
}

// sqlType maps an Arrow type to a SQLite column affinity. Timestamps and dates
// are stored as Unix seconds.
func sqlType(dt arrow.DataType) string {
	switch dt.ID() {
	case arrow.BOOL,
		arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return "INTEGER"
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return "REAL"
	case arrow.BINARY, arrow.LARGE_BINARY:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func cellValue(col arrow.Array, i int) any {
	if col.IsNull(i) {
		return nil
	}
	switch a := col.(type) {
	case *array.Boolean:
		if a.Value(i) {
			return int64(1)
		}
		return int64(0)
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Uint8:
		return int64(a.Value(i))
	case *array.Uint16:
		return int64(a.Value(i))
	case *array.Uint32:
		return int64(a.Value(i))
	case *array.Uint64:
		return int64(a.Value(i))
	case *array.Float32:
		return finite(float64(a.Value(i)))
	case *array.Float64:
		return finite(a.Value(i))
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).Unix()
	case *array.Date32:
		return a.Value(i).ToTime().Unix()
	case *array.Date64:
		return a.Value(i).ToTime().Unix()
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Binary:
		return a.Value(i)
	default:
		return col.ValueStr(i)
	}
}

func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
