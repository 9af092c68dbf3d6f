package domain

import "fmt"

// Axis names one level of the selection hierarchy.
type Axis string

const (
	AxisNone         Axis = ""
	AxisModel        Axis = "model"
	AxisDate         Axis = "date"
	AxisForecastType Axis = "forecastType"
	AxisCycle        Axis = "cycle"
	AxisEnsemble     Axis = "ensemble"
	AxisSpatialUnit  Axis = "spatialUnit"
	AxisOutputFile   Axis = "outputFile"
)

// MediumRange is the only forecast type that has an ensemble level.
const MediumRange = "medium_range"

// allAxes lists every axis in hierarchy order, including the conditional
// ensemble axis. Downstream invalidation walks this list so that changing the
// forecast type clears ensemble whichever way the order changes.
var allAxes = []Axis{
	AxisModel,
	AxisDate,
	AxisForecastType,
	AxisCycle,
	AxisEnsemble,
	AxisSpatialUnit,
	AxisOutputFile,
}

// AllAxes returns every known axis in hierarchy order.
func AllAxes() []Axis {
	out := make([]Axis, len(allAxes))
	copy(out, allAxes)
	return out
}

// ParseAxis validates an axis name.
func ParseAxis(s string) (Axis, error) {
	for _, a := range allAxes {
		if string(a) == s {
			return a, nil
		}
	}
	return AxisNone, fmt.Errorf("unknown axis %q", s)
}

// Order returns the active axis order for a forecast type.
func Order(forecastType string) []Axis {
	order := make([]Axis, 0, len(allAxes))
	for _, a := range allAxes {
		if a == AxisEnsemble && forecastType != MediumRange {
			continue
		}
		order = append(order, a)
	}
	return order
}

// After returns the axis following a in order, or AxisNone when a is terminal
// or absent from order.
func After(order []Axis, a Axis) Axis {
	for i, x := range order {
		if x == a {
			if i+1 < len(order) {
				return order[i+1]
			}
			return AxisNone
		}
	}
	return AxisNone
}

func indexOf(order []Axis, a Axis) int {
	for i, x := range order {
		if x == a {
			return i
		}
	}
	return -1
}

func contains(order []Axis, a Axis) bool {
	return indexOf(order, a) >= 0
}
