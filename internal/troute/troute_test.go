package troute_test

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/troute"
)

var start = time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)

func TestNewGrid(t *testing.T) {
	g := troute.NewGrid(100, 3, 4, start)
	assert.Equal(t, []int64{100, 101, 102}, g.FeatureIDs)
	require.Len(t, g.Times, 4)
	assert.Equal(t, start.Add(3*time.Hour), g.Times[3])
	assert.Equal(t, float32(1000+2*10+3), g.DefaultValue("velocity", 2, 3))
}

func TestRecord_DenseAndSparse(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	g := troute.NewGrid(100, 3, 4, start)
	rec := g.Record(mem)
	assert.Equal(t, int64(12), rec.NumRows())
	assert.Equal(t, int64(3+len(troute.DefaultVariables)), rec.NumCols())
	// Time-major: the second row is the second feature at the first time.
	ids := rec.Column(0).(*array.Int64)
	assert.Equal(t, int64(101), ids.Value(1))
	rec.Release()

	g.Skip = func(f, t int) bool { return f == 0 && t == 0 }
	sparse := g.Record(mem)
	assert.Equal(t, int64(11), sparse.NumRows())
	sparse.Release()
}

func TestRecord_NaNBecomesNull(t *testing.T) {
	g := troute.NewGrid(1, 1, 2, start)
	g.Value = func(string, int, int) float32 { return float32(math.NaN()) }
	rec := g.Record(memory.DefaultAllocator)
	defer rec.Release()

	flow := rec.Column(3).(*array.Float32)
	assert.Equal(t, 2, flow.NullN())
}

func TestWrite_ArrowStream(t *testing.T) {
	rec := troute.NewGrid(100, 2, 3, start).Record(memory.DefaultAllocator)
	defer rec.Release()

	var buf bytes.Buffer
	require.NoError(t, troute.Write(&buf, domain.FormatArrow, rec))

	r, err := ipc.NewReader(&buf)
	require.NoError(t, err)
	defer r.Release()

	var rows int64
	for r.Next() {
		rows += r.Record().NumRows()
	}
	require.NoError(t, r.Err())
	assert.Equal(t, int64(6), rows)
	assert.True(t, r.Schema().Equal(rec.Schema()))
}

func TestWrite_Parquet(t *testing.T) {
	rec := troute.NewGrid(100, 2, 3, start).Record(memory.DefaultAllocator)
	defer rec.Release()

	var buf bytes.Buffer
	require.NoError(t, troute.Write(&buf, domain.FormatParquet, rec))

	pf, err := file.NewParquetReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer pf.Close()
	assert.Equal(t, int64(6), pf.NumRows())

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	tbl, err := fr.ReadTable(context.Background())
	require.NoError(t, err)
	defer tbl.Release()
	assert.Equal(t, "feature_id", tbl.Schema().Field(0).Name)
	assert.Equal(t, arrow.PrimitiveTypes.Int64, tbl.Schema().Field(0).Type)
}

func TestWrite_UnsupportedFormat(t *testing.T) {
	rec := troute.NewGrid(1, 1, 1, start).Record(memory.DefaultAllocator)
	defer rec.Release()

	err := troute.Write(&bytes.Buffer{}, domain.Format("netcdf"), rec)
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestIndexRecord(t *testing.T) {
	rec := troute.IndexRecord(memory.DefaultAllocator, []troute.Feature{
		{ID: "wb-1", VPU: "01", DivideID: "cat-1", ToID: "nex-2", AreaSqKm: 1.5, LengthKm: 0.4, HasFlowln: true},
	})
	defer rec.Release()

	assert.Equal(t, int64(1), rec.NumRows())
	assert.Equal(t, "wb-1", rec.Column(0).(*array.String).Value(0))
	assert.True(t, rec.Column(6).(*array.Boolean).Value(0))
}
