// Package resolver drives the cascading selection. It owns one domain.State,
// fetches option sets from a Lister, applies the default and auto-advance
// rules, and drops responses that arrive after the selection has moved on.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
)

// Lister lists the children of a catalog prefix. A prefix ending in the t-route
// output directory yields leaf files instead of directories.
type Lister interface {
	List(ctx context.Context, prefix string) ([]domain.Option, error)
}

var (
	// ErrNotSelected is returned by Breadcrumb for an axis with no value.
	ErrNotSelected = errors.New("axis has no selected value")
	// ErrNotOffered is returned by Locate when the feature's spatial unit is
	// not among the loaded options.
	ErrNotOffered = errors.New("spatial unit is not offered")
)

// Resolver holds the selection state. Every mutation bumps a generation
// counter; a fetch captures the generation at issue time and its result is
// committed only if the counter has not moved since.
type Resolver struct {
	lister  Lister
	logger  *slog.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	state domain.State
	gen   uint64
	// pendingUnit is a spatial unit requested by Locate before the axes above
	// it were resolved. The cascade selects it when it reaches the axis.
	pendingUnit string
}

// New creates a Resolver with an empty selection.
func New(lister Lister, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		lister:  lister,
		logger:  logger,
		metrics: metrics,
		state:   domain.NewState(),
	}
}

// State returns a snapshot of the current state.
func (r *Resolver) State() domain.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Resolved returns the selected path and whether every active axis is set.
func (r *Resolver) Resolved() (domain.Path, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Path, r.state.Path.Resolved()
}

// Bootstrap loads the model options and cascades default selections down the
// hierarchy until an axis has no options or the terminal axis is reached.
func (r *Resolver) Bootstrap(ctx context.Context) (domain.State, error) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.state = domain.ResetFrom(r.state, domain.AxisModel, true)
	r.state.Feature = ""
	r.pendingUnit = ""
	r.mu.Unlock()

	return r.advance(ctx, gen, domain.AxisModel, true)
}

// Select sets axis to value. Selecting the value that is already selected
// changes nothing and fetches nothing. Otherwise every downstream axis is
// cleared, the options of the following axis are fetched, and single-option
// axes are selected automatically.
func (r *Resolver) Select(ctx context.Context, axis domain.Axis, value string) (domain.State, error) {
	r.mu.Lock()
	if value != "" && r.state.Path.Get(axis) == value {
		snap := r.state.Clone()
		r.mu.Unlock()
		return snap, nil
	}
	next, following, err := domain.Apply(r.state, axis, value)
	if err != nil {
		r.mu.Unlock()
		return r.State(), err
	}
	r.gen++
	gen := r.gen
	r.state = next
	r.mu.Unlock()

	r.logger.Debug("axis selected", "axis", axis, "value", value, "next", following)
	if following == domain.AxisNone {
		return r.State(), nil
	}
	return r.advance(ctx, gen, following, false)
}

// Locate points the selection at the spatial unit holding a feature found by
// search and remembers the feature for the next load. When the axes above the
// spatial unit are not resolved yet, the unit is selected as soon as the
// cascade reaches it.
func (r *Resolver) Locate(ctx context.Context, featureID, vpuid string) (domain.State, error) {
	unit := domain.SpatialUnitFor(vpuid)
	if unit == "" {
		return r.State(), fmt.Errorf("locate %s: no vpuid: %w", featureID, ErrNotOffered)
	}

	r.mu.Lock()
	if opts := r.state.OptionsFor(domain.AxisSpatialUnit); len(opts) > 0 && !hasValue(opts, unit) {
		r.mu.Unlock()
		return r.State(), fmt.Errorf("locate %s: %w: %s", featureID, ErrNotOffered, unit)
	}
	r.state.Feature = featureID
	r.pendingUnit = unit
	r.mu.Unlock()

	st, err := r.Select(ctx, domain.AxisSpatialUnit, unit)
	if errors.Is(err, domain.ErrUpstreamUnset) {
		r.logger.Debug("spatial unit deferred", "feature", featureID, "spatial_unit", unit)
		return r.State(), nil
	}
	if err != nil {
		return st, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Path.SpatialUnit == unit {
		r.pendingUnit = ""
	}
	return r.state.Clone(), nil
}

// Restore replays a saved path. Values that are still offered by the catalog
// are kept without re-selecting them; the first value that is no longer
// offered is dropped together with everything after it.
func (r *Resolver) Restore(ctx context.Context, p domain.Path) (domain.State, error) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	next := domain.ResetFrom(r.state, domain.AxisModel, true)
	for _, a := range p.Order() {
		v := p.Get(a)
		if v == "" {
			break
		}
		next.Path = next.Path.With(a, v)
	}
	r.state = next
	r.mu.Unlock()

	return r.advance(ctx, gen, domain.AxisModel, false)
}

// Breadcrumb returns to a previously resolved axis: everything after it is
// cleared and the options of the following axis are fetched eagerly so the
// next control is never blank. No auto-advance happens; the user asked to
// stop here.
func (r *Resolver) Breadcrumb(ctx context.Context, axis domain.Axis) (domain.State, error) {
	r.mu.Lock()
	if r.state.Path.Get(axis) == "" {
		r.mu.Unlock()
		return r.State(), fmt.Errorf("breadcrumb %s: %w", axis, ErrNotSelected)
	}
	r.gen++
	gen := r.gen
	r.state = domain.ResetFrom(r.state, axis, false)
	following := domain.After(r.state.Order(), axis)
	path := r.state.Path
	r.mu.Unlock()

	if following == domain.AxisNone {
		return r.State(), nil
	}
	opts := r.fetch(ctx, path, following)
	if err := ctx.Err(); err != nil {
		return r.State(), err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.current(gen) {
		return r.state.Clone(), nil
	}
	r.state = domain.WithOptions(r.state, following, opts)
	r.state.Active = following
	return r.state.Clone(), nil
}

// Root clears the whole selection. The model options are kept and fetched
// only when none are loaded.
func (r *Resolver) Root(ctx context.Context) (domain.State, error) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.state = domain.ResetFrom(r.state, domain.AxisModel, true)
	r.state.Feature = ""
	r.pendingUnit = ""
	loaded := len(r.state.OptionsFor(domain.AxisModel)) > 0
	r.mu.Unlock()

	if loaded {
		return r.State(), nil
	}
	opts := r.fetch(ctx, domain.Path{}, domain.AxisModel)
	if err := ctx.Err(); err != nil {
		return r.State(), err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current(gen) {
		r.state = domain.WithOptions(r.state, domain.AxisModel, opts)
	}
	return r.state.Clone(), nil
}

// advance fetches the options of axis and keeps walking down the order while
// an axis can be resolved without the user: its value is already selected and
// still offered, it has exactly one option, or withDefaults is set and the
// default policy picks one. It stops at an empty option set, a choice the user
// must make, the terminal axis, or a newer generation.
func (r *Resolver) advance(ctx context.Context, gen uint64, axis domain.Axis, withDefaults bool) (domain.State, error) {
	for axis != domain.AxisNone {
		r.mu.Lock()
		if !r.current(gen) {
			snap := r.state.Clone()
			r.mu.Unlock()
			return snap, nil
		}
		path := r.state.Path
		r.mu.Unlock()

		opts := r.fetch(ctx, path, axis)
		if err := ctx.Err(); err != nil {
			return r.State(), err
		}

		r.mu.Lock()
		if !r.current(gen) {
			snap := r.state.Clone()
			r.mu.Unlock()
			return snap, nil
		}
		axis = r.commit(axis, opts, withDefaults)
		r.mu.Unlock()
	}
	return r.State(), nil
}

// commit stores opts for axis and decides whether to move on. It returns the
// axis to fetch next or AxisNone to stop. Callers hold r.mu.
func (r *Resolver) commit(axis domain.Axis, opts []domain.Option, withDefaults bool) domain.Axis {
	selected := r.state.Path.Get(axis)
	if selected != "" && !hasValue(opts, selected) {
		r.state = domain.ResetFrom(r.state, axis, true)
		selected = ""
	}
	r.state = domain.WithOptions(r.state, axis, opts)
	r.state.Active = axis

	if selected != "" {
		following := domain.After(r.state.Order(), axis)
		if following != domain.AxisNone {
			r.state.Active = following
		}
		return following
	}

	var choice domain.Option
	switch {
	case axis == domain.AxisSpatialUnit && r.pendingUnit != "" && hasValue(opts, r.pendingUnit):
		choice = domain.NewOption(r.pendingUnit)
		r.pendingUnit = ""
	case len(opts) == 1:
		choice = opts[0]
	case withDefaults:
		var ok bool
		if choice, ok = domain.DefaultOption(axis, opts); !ok {
			return domain.AxisNone
		}
	default:
		return domain.AxisNone
	}

	next, following, err := domain.Apply(r.state, axis, choice.Value)
	if err != nil {
		r.logger.Warn("automatic selection rejected", "axis", axis, "value", choice.Value, "error", err)
		return domain.AxisNone
	}
	r.state = next
	r.logger.Debug("axis selected automatically", "axis", axis, "value", choice.Value, "options", len(opts))
	return following
}

// current reports whether gen is still the latest generation and counts a
// stale response otherwise. Callers hold r.mu.
func (r *Resolver) current(gen uint64) bool {
	if gen == r.gen {
		return true
	}
	r.metrics.StaleResponses.Inc()
	return false
}

// fetch lists the options of axis for path. Failures and empty listings both
// produce an empty set; they never abort the resolver.
func (r *Resolver) fetch(ctx context.Context, path domain.Path, axis domain.Axis) []domain.Option {
	ctx, span := observability.Tracer().Start(ctx, "resolver.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("axis", string(axis)))

	prefix, err := domain.CatalogPrefix(path, axis)
	if err != nil {
		r.logger.Warn("cannot build catalog prefix", "axis", axis, "error", err)
		return nil
	}
	span.SetAttributes(attribute.String("prefix", prefix))

	start := time.Now()
	opts, err := r.lister.List(ctx, prefix)
	r.metrics.CatalogDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("catalog listing failed", "axis", axis, "prefix", prefix, "error", err)
			span.RecordError(err)
		}
		r.metrics.CatalogRequests.WithLabelValues("error").Inc()
		return nil
	}
	opts = domain.PresentOptions(axis, opts)
	if len(opts) == 0 {
		r.metrics.CatalogRequests.WithLabelValues("empty").Inc()
		r.logger.Info("no options", "axis", axis, "prefix", prefix)
		return nil
	}
	r.metrics.CatalogRequests.WithLabelValues("success").Inc()
	return opts
}

func hasValue(opts []domain.Option, v string) bool {
	return slices.ContainsFunc(opts, func(o domain.Option) bool { return o.Value == v })
}
