// Package troute builds and writes t-route output tables: long-format rows of
// (feature_id, time, type, variables...) as produced by the NetCDF converter.
// The generator and the validator commands use it, and so do tests that need
// a real Arrow or Parquet blob.
package troute

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
)

// DefaultVariables are the variables t-route writes for every flowpath.
var DefaultVariables = []string{"flow", "velocity", "depth", "nudge"}

// Grid describes a feature x time table.
type Grid struct {
	FeatureIDs []int64
	Times      []time.Time
	Variables  []string
	// Value returns the value of a variable at feature index f and time index t.
	// Nil uses DefaultValue.
	Value func(variable string, f, t int) float32
	// Skip drops the row of feature index f at time index t, producing a
	// sparse table. Nil keeps every row.
	Skip func(f, t int) bool
}

// NewGrid returns a dense grid of n features starting at id firstID and m
// hourly steps starting at start.
func NewGrid(firstID int64, n, m int, start time.Time) Grid {
	g := Grid{Variables: DefaultVariables}
	for i := range n {
		g.FeatureIDs = append(g.FeatureIDs, firstID+int64(i))
	}
	for j := range m {
		g.Times = append(g.Times, start.Add(time.Duration(j)*time.Hour))
	}
	return g
}

// DefaultValue encodes the position so tests can recognise it: variable
// index*1000 + f*10 + t.
func (g Grid) DefaultValue(variable string, f, t int) float32 {
	vi := 0
	for i, v := range g.Variables {
		if v == variable {
			vi = i
		}
	}
	return float32(vi*1000 + f*10 + t)
}

// Schema returns the Arrow schema of the grid's table.
func (g Grid) Schema() *arrow.Schema {
	fields := []arrow.Field{
		{Name: "feature_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "time", Type: &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}},
		{Name: "type", Type: arrow.BinaryTypes.String},
	}
	for _, v := range g.Variables {
		fields = append(fields, arrow.Field{Name: v, Type: arrow.PrimitiveTypes.Float32, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// Record builds the grid as a single record. Rows are written time-major so
// that readers cannot rely on physical order. The caller releases it.
func (g Grid) Record(mem memory.Allocator) arrow.Record {
	value := g.Value
	if value == nil {
		value = g.DefaultValue
	}

	b := array.NewRecordBuilder(mem, g.Schema())
	defer b.Release()

	for t, ts := range g.Times {
		for f, id := range g.FeatureIDs {
			if g.Skip != nil && g.Skip(f, t) {
				continue
			}
			b.Field(0).(*array.Int64Builder).Append(id)
			b.Field(1).(*array.TimestampBuilder).Append(arrow.Timestamp(ts.UnixMilli()))
			b.Field(2).(*array.StringBuilder).Append("wb")
			for k, v := range g.Variables {
				val := value(v, f, t)
				fb := b.Field(3 + k).(*array.Float32Builder)
				if math.IsNaN(float64(val)) {
					fb.AppendNull()
					continue
				}
				fb.Append(val)
			}
		}
	}
	return b.NewRecord()
}

// Write encodes rec in format.
func Write(w io.Writer, format domain.Format, rec arrow.Record) error {
	switch format {
	case domain.FormatArrow:
		return WriteArrowStream(w, rec)
	case domain.FormatParquet:
		return WriteParquet(w, rec)
	}
	return fmt.Errorf("write: %w: %q", domain.ErrUnsupportedFormat, format)
}

// WriteArrowStream encodes rec as an Arrow IPC stream.
func WriteArrowStream(w io.Writer, rec arrow.Record) error {
	iw := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(memory.DefaultAllocator))
	if err := iw.Write(rec); err != nil {
		iw.Close()
		return fmt.Errorf("write arrow record: %w", err)
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("close arrow stream: %w", err)
	}
	return nil
}

// WriteParquet encodes rec as a Snappy-compressed Parquet file.
func WriteParquet(w io.Writer, rec arrow.Record) error {
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(rec.Schema(), w, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("write parquet record: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet file: %w", err)
	}
	return nil
}
