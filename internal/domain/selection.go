package domain

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrAxisInactive is returned when an axis is not part of the current order,
	// such as ensemble for a short_range forecast.
	ErrAxisInactive = errors.New("axis is not active for the current forecast type")
	// ErrUpstreamUnset is returned when an axis is set before its predecessors.
	ErrUpstreamUnset = errors.New("upstream axis is not set")
	// ErrUnresolved is returned when a fully-resolved path is required.
	ErrUnresolved = errors.New("selection path is not fully resolved")
)

// Option is one selectable value for an axis.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// NewOption returns an option whose label equals its value.
func NewOption(v string) Option { return Option{Value: v, Label: v} }

// Path holds the selected value of every axis. The zero value is an empty
// selection. Path is a value type; the With method returns a modified copy.
type Path struct {
	Model        string `json:"model,omitempty"`
	Date         string `json:"date,omitempty"`
	ForecastType string `json:"forecastType,omitempty"`
	Cycle        string `json:"cycle,omitempty"`
	Ensemble     string `json:"ensemble,omitempty"`
	SpatialUnit  string `json:"spatialUnit,omitempty"`
	OutputFile   string `json:"outputFile,omitempty"`
}

// Get returns the value of axis a.
func (p Path) Get(a Axis) string {
	switch a {
	case AxisModel:
		return p.Model
	case AxisDate:
		return p.Date
	case AxisForecastType:
		return p.ForecastType
	case AxisCycle:
		return p.Cycle
	case AxisEnsemble:
		return p.Ensemble
	case AxisSpatialUnit:
		return p.SpatialUnit
	case AxisOutputFile:
		return p.OutputFile
	}
	return ""
}

// With returns a copy of p with axis a set to v.
func (p Path) With(a Axis, v string) Path {
	switch a {
	case AxisModel:
		p.Model = v
	case AxisDate:
		p.Date = v
	case AxisForecastType:
		p.ForecastType = v
	case AxisCycle:
		p.Cycle = v
	case AxisEnsemble:
		p.Ensemble = v
	case AxisSpatialUnit:
		p.SpatialUnit = v
	case AxisOutputFile:
		p.OutputFile = v
	}
	return p
}

// Order returns the active axis order for this path.
func (p Path) Order() []Axis { return Order(p.ForecastType) }

// Resolved reports whether every axis in the active order is set.
func (p Path) Resolved() bool {
	for _, a := range p.Order() {
		if p.Get(a) == "" {
			return false
		}
	}
	return true
}

// Next returns the first unset axis in the active order, or AxisNone when the
// path is fully resolved.
func (p Path) Next() Axis {
	for _, a := range p.Order() {
		if p.Get(a) == "" {
			return a
		}
	}
	return AxisNone
}

// upstreamSet reports whether every axis before a in the active order is set.
func (p Path) upstreamSet(a Axis) bool {
	order := p.Order()
	for _, x := range order[:max(indexOf(order, a), 0)] {
		if p.Get(x) == "" {
			return false
		}
	}
	return true
}

// State is the complete resolver state: the selection, the option set of every
// axis fetched so far, the axis the user is being asked about, and the map
// feature located by search, if any.
type State struct {
	Path    Path              `json:"path"`
	Options map[Axis][]Option `json:"options"`
	Active  Axis              `json:"active"`
	Feature string            `json:"feature,omitempty"`
}

// NewState returns an empty state positioned at the model axis.
func NewState() State {
	return State{Options: map[Axis][]Option{}, Active: AxisModel}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{Path: s.Path, Active: s.Active, Feature: s.Feature, Options: make(map[Axis][]Option, len(s.Options))}
	for a, opts := range s.Options {
		out.Options[a] = slices.Clone(opts)
	}
	return out
}

// OptionsFor returns the option set of axis a, or nil when none is loaded.
func (s State) OptionsFor(a Axis) []Option { return s.Options[a] }

// Order returns the active axis order of the state's path.
func (s State) Order() []Axis { return s.Path.Order() }

// Apply sets axis to value and clears every axis strictly downstream of it,
// values and option sets alike. It returns the new state and the axis that
// follows axis in the recomputed order, which becomes active. AxisNone means
// axis was terminal.
func Apply(s State, axis Axis, value string) (State, Axis, error) {
	if value == "" {
		return s, AxisNone, fmt.Errorf("apply %s: empty value", axis)
	}
	next := s.Clone()
	next.Path = next.Path.With(axis, value)
	if !contains(next.Order(), axis) {
		return s, AxisNone, fmt.Errorf("apply %s: %w", axis, ErrAxisInactive)
	}
	if !next.Path.upstreamSet(axis) {
		return s, AxisNone, fmt.Errorf("apply %s: %w", axis, ErrUpstreamUnset)
	}
	next = clearAfter(next, axis)
	following := After(next.Order(), axis)
	if following != AxisNone {
		next.Active = following
	} else {
		next.Active = axis
	}
	return next, following, nil
}

// ResetFrom clears every axis after axis. With includeSelf the axis itself is
// cleared too and becomes active; otherwise the axis following it becomes
// active. The model option set survives any reset.
func ResetFrom(s State, axis Axis, includeSelf bool) State {
	next := s.Clone()
	if includeSelf {
		next = clearAxis(next, axis)
	}
	next = clearAfter(next, axis)
	if includeSelf {
		next.Active = axis
		return next
	}
	if following := After(next.Order(), axis); following != AxisNone {
		next.Active = following
	} else {
		next.Active = axis
	}
	return next
}

// WithOptions returns a copy of s with the option set of axis replaced.
func WithOptions(s State, axis Axis, opts []Option) State {
	next := s.Clone()
	if len(opts) == 0 {
		delete(next.Options, axis)
		if axis == AxisModel {
			next.Options[axis] = []Option{}
		}
		return next
	}
	next.Options[axis] = slices.Clone(opts)
	return next
}

func clearAfter(s State, axis Axis) State {
	i := indexOf(allAxes, axis)
	if i < 0 {
		return s
	}
	for _, a := range allAxes[i+1:] {
		s = clearAxis(s, a)
	}
	return s
}

func clearAxis(s State, a Axis) State {
	s.Path = s.Path.With(a, "")
	if a != AxisModel {
		delete(s.Options, a)
	}
	return s
}

// DefaultOption picks the option selected when an axis is first loaded:
// index 0, except the date axis prefers index 1 because the newest date is
// often still being written. An empty set has no default.
func DefaultOption(axis Axis, opts []Option) (Option, bool) {
	if len(opts) == 0 {
		return Option{}, false
	}
	if axis == AxisDate && len(opts) > 1 {
		return opts[1], true
	}
	return opts[0], true
}

// PresentOptions applies the per-axis presentation rules to a catalog listing:
// the test model is hidden and dates and forecast types are shown newest or
// shortest range first.
func PresentOptions(axis Axis, opts []Option) []Option {
	out := make([]Option, 0, len(opts))
	for _, o := range opts {
		if axis == AxisModel && o.Value == "test" {
			continue
		}
		out = append(out, o)
	}
	switch axis {
	case AxisDate, AxisForecastType:
		slices.Reverse(out)
	}
	return out
}
