package troute

import (
	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
)

// Feature is one row of the hydrofabric index.
type Feature struct {
	ID        string
	VPU       string
	DivideID  string
	ToID      string
	AreaSqKm  float64
	LengthKm  float64
	HasFlowln bool
}

var indexSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.BinaryTypes.String},
	{Name: "vpuid", Type: arrow.BinaryTypes.String},
	{Name: "divide_id", Type: arrow.BinaryTypes.String},
	{Name: "toid", Type: arrow.BinaryTypes.String},
	{Name: "areasqkm", Type: arrow.PrimitiveTypes.Float64},
	{Name: "lengthkm", Type: arrow.PrimitiveTypes.Float64},
	{Name: "has_flowline", Type: arrow.FixedWidthTypes.Boolean},
}, nil)

// IndexRecord builds a hydrofabric index table. The caller releases it.
func IndexRecord(mem memory.Allocator, features []Feature) arrow.Record {
	b := array.NewRecordBuilder(mem, indexSchema)
	defer b.Release()

	for _, f := range features {
		b.Field(0).(*array.StringBuilder).Append(f.ID)
		b.Field(1).(*array.StringBuilder).Append(f.VPU)
		b.Field(2).(*array.StringBuilder).Append(f.DivideID)
		b.Field(3).(*array.StringBuilder).Append(f.ToID)
		b.Field(4).(*array.Float64Builder).Append(f.AreaSqKm)
		b.Field(5).(*array.Float64Builder).Append(f.LengthKm)
		b.Field(6).(*array.BooleanBuilder).Append(f.HasFlowln)
	}
	return b.NewRecord()
}
