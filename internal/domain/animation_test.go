package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestComputeBounds(t *testing.T) {
	assert.Equal(t, Bounds{Min: 5, Max: 10}, ComputeBounds([]float32{-9999, 5, 10, -9998}))
	assert.Equal(t, Bounds{Min: 0, Max: 1}, ComputeBounds([]float32{-9999, -9998}))
	assert.Equal(t, Bounds{Min: 0, Max: 1}, ComputeBounds(nil))
	assert.Equal(t, Bounds{Min: -3, Max: -3}, ComputeBounds([]float32{float32(math.NaN()), -3}))
}

func TestValueToColor(t *testing.T) {
	b := Bounds{Min: 0, Max: 10}

	assert.Equal(t, NoDataColor, ValueToColor(nil, b))
	assert.Equal(t, NoDataColor, ValueToColor(ptr(-9998), b))
	assert.Equal(t, RGBA{0, 119, 187, 255}, ValueToColor(ptr(0), b))
	assert.Equal(t, RGBA{208, 0, 0, 255}, ValueToColor(ptr(10), b))
	// t=0.5 sits halfway between the pale and amber stops.
	assert.Equal(t, RGBA{200, 205, 124, 255}, ValueToColor(ptr(5), b))
	// Out of range values clamp to the end stops.
	assert.Equal(t, RGBA{0, 119, 187, 255}, ValueToColor(ptr(-5), b))
	assert.Equal(t, RGBA{208, 0, 0, 255}, ValueToColor(ptr(50), b))
	// A zero-width range yields the first stop.
	assert.Equal(t, RGBA{0, 119, 187, 255}, ValueToColor(ptr(3), Bounds{Min: 3, Max: 3}))
}

func TestWidthFor(t *testing.T) {
	b := Bounds{Min: 0, Max: 10}
	assert.InDelta(t, 2.0, WidthFor(nil, b), 1e-9)
	assert.InDelta(t, 3.0, WidthFor(ptr(0), b), 1e-9)
	assert.InDelta(t, 11.0, WidthFor(ptr(10), b), 1e-9)
}

func TestValueAt(t *testing.T) {
	// 3 features x 4 times; value encodes feature*10 + time.
	flat := make([]float32, 12)
	for f := range 3 {
		for tm := range 4 {
			flat[f*4+tm] = float32(f*10 + tm)
		}
	}

	v := ValueAt(flat, 4, 1, 2)
	if assert.NotNil(t, v) {
		assert.InDelta(t, 12.0, *v, 1e-9)
	}
	assert.Nil(t, ValueAt(flat, 4, 3, 0))
	assert.Nil(t, ValueAt(flat, 4, 0, 4))
	assert.Nil(t, ValueAt(flat, 4, -1, 0))
	assert.Nil(t, ValueAt(flat, 0, 0, 0))
	assert.Nil(t, ValueAt([]float32{float32(math.NaN())}, 1, 0, 0))
}

func TestAnimationIndex(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := NewAnimationIndex(testKey, []int64{101, 205}, []time.Time{t0, t0.Add(time.Hour), t0.Add(6 * time.Hour)})

	assert.Equal(t, 6, idx.Size())
	assert.Equal(t, 1, idx.FeatureIDToIndex[205])
	assert.Equal(t, "T+0h", idx.TimeLabel(0))
	assert.Equal(t, "T+6h", idx.TimeLabel(2))
	assert.Empty(t, idx.TimeLabel(3))

	flat := []float32{1, 2, 3, 4, 5, 6}
	v := idx.Value(flat, 205, 2)
	if assert.NotNil(t, v) {
		assert.InDelta(t, 6.0, *v, 1e-9)
	}
	assert.Nil(t, idx.Value(flat, 999, 0))
}
