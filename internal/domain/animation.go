package domain

import (
	"fmt"
	"math"
	"time"
)

// SentinelThreshold is the largest value treated as "no data".
const SentinelThreshold = -9998

// Bounds is the value range used to normalize a variable for coloring.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// RGBA is an 8-bit color with alpha.
type RGBA [4]uint8

// NoDataColor is drawn for sentinel and null values.
var NoDataColor = RGBA{100, 100, 100, 150}

// colorRamp runs blue, cyan, pale, amber, orange, red.
var colorRamp = [...][3]float64{
	{0, 119, 187},
	{0, 180, 216},
	{144, 224, 239},
	{255, 186, 8},
	{255, 107, 53},
	{208, 0, 0},
}

// IsNoData reports whether v is a sentinel or missing value.
func IsNoData(v float64) bool {
	return math.IsNaN(v) || v <= SentinelThreshold
}

// ComputeBounds returns the min and max of the valid values in flat. A domain
// with no valid values collapses to {0, 1}.
func ComputeBounds(flat []float32) Bounds {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, f := range flat {
		v := float64(f)
		if IsNoData(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return Bounds{Min: 0, Max: 1}
	}
	return Bounds{Min: lo, Max: hi}
}

// Normalize maps v into [0, 1] against b. A zero-width range maps to 0.
func (b Bounds) Normalize(v float64) float64 {
	if b.Max == b.Min {
		return 0
	}
	t := (v - b.Min) / (b.Max - b.Min)
	return math.Max(0, math.Min(1, t))
}

// ValueToColor interpolates v across the color ramp. Sentinel and null values
// get NoDataColor.
func ValueToColor(v *float64, b Bounds) RGBA {
	if v == nil || IsNoData(*v) {
		return NoDataColor
	}
	if b.Max == b.Min {
		c := colorRamp[0]
		return RGBA{uint8(c[0]), uint8(c[1]), uint8(c[2]), 255}
	}
	t := b.Normalize(*v)
	pos := t * float64(len(colorRamp)-1)
	i := int(math.Floor(pos))
	if i >= len(colorRamp)-1 {
		i = len(colorRamp) - 2
	}
	frac := pos - float64(i)
	lo, hi := colorRamp[i], colorRamp[i+1]
	var out RGBA
	for k := range 3 {
		out[k] = uint8(math.Round(lo[k] + (hi[k]-lo[k])*frac))
	}
	out[3] = 255
	return out
}

// WidthFor returns the line width in pixels used to draw a value.
func WidthFor(v *float64, b Bounds) float64 {
	if v == nil || IsNoData(*v) {
		return 2
	}
	return 3 + b.Normalize(*v)*8
}

// ValueAt reads the value of one feature at one time from a flattened array.
// It returns nil when the address falls outside the array.
func ValueAt(flat []float32, numTimes, featureIndex, timeIndex int) *float64 {
	if numTimes <= 0 || featureIndex < 0 || timeIndex < 0 || timeIndex >= numTimes {
		return nil
	}
	i := featureIndex*numTimes + timeIndex
	if i >= len(flat) {
		return nil
	}
	v := float64(flat[i])
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// AnimationIndex maps features and times to positions in a flattened array.
type AnimationIndex struct {
	Key              string
	FeatureIDs       []int64
	Times            []time.Time
	FeatureIDToIndex map[int64]int
}

// NewAnimationIndex builds the index of a table's distinct features and times.
func NewAnimationIndex(key string, featureIDs []int64, times []time.Time) *AnimationIndex {
	idx := make(map[int64]int, len(featureIDs))
	for i, id := range featureIDs {
		idx[id] = i
	}
	return &AnimationIndex{Key: key, FeatureIDs: featureIDs, Times: times, FeatureIDToIndex: idx}
}

// NumTimes returns the number of time steps.
func (a *AnimationIndex) NumTimes() int { return len(a.Times) }

// Size returns the length of a dense flattened array for this index.
func (a *AnimationIndex) Size() int { return len(a.FeatureIDs) * len(a.Times) }

// Value returns the value of feature id at timeIndex.
func (a *AnimationIndex) Value(flat []float32, id int64, timeIndex int) *float64 {
	fi, ok := a.FeatureIDToIndex[id]
	if !ok {
		return nil
	}
	return ValueAt(flat, a.NumTimes(), fi, timeIndex)
}

// TimeLabel renders a time step as hours after the first step, e.g. "T+6h".
func (a *AnimationIndex) TimeLabel(timeIndex int) string {
	if timeIndex < 0 || timeIndex >= len(a.Times) {
		return ""
	}
	hours := a.Times[timeIndex].Sub(a.Times[0]).Hours()
	return fmt.Sprintf("T+%dh", int(math.Round(hours)))
}
