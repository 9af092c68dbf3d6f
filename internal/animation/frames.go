// Package animation turns a materialized table into per-frame styles for every
// feature at once: color and width by value, one frame per time step.
package animation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
)

// ErrTimeIndex is returned for a frame outside the dataset's timeline.
var ErrTimeIndex = errors.New("time index out of range")

// Source is the subset of the extraction API the animation needs.
type Source interface {
	DistinctFeatureIDs(ctx context.Context, key string) ([]int64, error)
	DistinctTimes(ctx context.Context, key string) ([]time.Time, error)
	FlatVariable(ctx context.Context, key, variable string) ([]float32, error)
}

// Layer is one variable's flattened values and their bounds.
type Layer struct {
	Key      string
	Variable string
	Values   []float32
	Bounds   domain.Bounds
}

// FeatureStyle is how one feature is drawn in a frame.
type FeatureStyle struct {
	FeatureID int64       `json:"feature_id"`
	Value     *float64    `json:"value"`
	Color     domain.RGBA `json:"color"`
	Width     float64     `json:"width"`
}

// Frame is the rendering of one time step.
type Frame struct {
	Key       string         `json:"key"`
	Variable  string         `json:"variable"`
	TimeIndex int            `json:"time_index"`
	NumTimes  int            `json:"num_times"`
	Time      time.Time      `json:"time"`
	Label     string         `json:"label"`
	Bounds    domain.Bounds  `json:"bounds"`
	Features  []FeatureStyle `json:"features"`
}

// Frames serves animation frames for the dataset currently on screen. It keeps
// the index of one key and at most a fixed number of variable layers.
type Frames struct {
	source  Source
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	index  *domain.AnimationIndex
	layers *lruCache[*Layer]
}

// New creates a Frames service holding at most resident variable layers.
func New(source Source, resident int, logger *slog.Logger, metrics *observability.Metrics) *Frames {
	return &Frames{
		source:  source,
		logger:  logger,
		metrics: metrics,
		layers:  newLRUCache[*Layer](resident),
	}
}

// Index returns the feature and time index of key. Switching to a new key
// drops every resident layer of the previous one.
func (f *Frames) Index(ctx context.Context, key string) (*domain.AnimationIndex, error) {
	f.mu.Lock()
	if f.index != nil && f.index.Key == key {
		idx := f.index
		f.mu.Unlock()
		return idx, nil
	}
	f.mu.Unlock()

	var (
		ids   []int64
		times []time.Time
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ids, err = f.source.DistinctFeatureIDs(gctx, key)
		return err
	})
	g.Go(func() error {
		var err error
		times, err = f.source.DistinctTimes(gctx, key)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build animation index %s: %w", key, err)
	}
	idx := domain.NewAnimationIndex(key, ids, times)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index == nil || f.index.Key != key {
		f.layers.clear()
		f.metrics.ResidentVariables.Set(0)
	}
	f.index = idx
	f.logger.Info("animation index built", "key", key, "features", len(ids), "times", len(times))
	return idx, nil
}

// Layer returns the flattened values of variable, loading them on a miss and
// evicting the least recently used layer when the limit is exceeded.
func (f *Frames) Layer(ctx context.Context, key, variable string) (*Layer, error) {
	idx, err := f.Index(ctx, key)
	if err != nil {
		return nil, err
	}
	if l, ok := f.layers.get(layerKey(key, variable)); ok {
		return l, nil
	}

	values, err := f.source.FlatVariable(ctx, key, variable)
	if err != nil {
		return nil, fmt.Errorf("load layer %s: %w", variable, err)
	}
	if len(values) != idx.Size() {
		f.logger.Warn("layer size differs from index",
			"key", key, "variable", variable, "values", len(values), "expected", idx.Size())
	}
	l := &Layer{Key: key, Variable: variable, Values: values, Bounds: domain.ComputeBounds(values)}

	if evicted, ok := f.layers.put(layerKey(key, variable), l); ok {
		f.logger.Debug("layer evicted", "layer", evicted)
	}
	f.metrics.ResidentVariables.Set(float64(f.layers.len()))
	return l, nil
}

// Frame styles every feature of key at timeIndex by the value of variable.
func (f *Frames) Frame(ctx context.Context, key, variable string, timeIndex int) (Frame, error) {
	l, err := f.Layer(ctx, key, variable)
	if err != nil {
		return Frame{}, err
	}
	idx, err := f.Index(ctx, key)
	if err != nil {
		return Frame{}, err
	}
	if timeIndex < 0 || timeIndex >= idx.NumTimes() {
		return Frame{}, fmt.Errorf("%w: %d not in [0, %d)", ErrTimeIndex, timeIndex, idx.NumTimes())
	}

	fr := Frame{
		Key:       key,
		Variable:  variable,
		TimeIndex: timeIndex,
		NumTimes:  idx.NumTimes(),
		Time:      idx.Times[timeIndex],
		Label:     idx.TimeLabel(timeIndex),
		Bounds:    l.Bounds,
		Features:  make([]FeatureStyle, len(idx.FeatureIDs)),
	}
	for fi, id := range idx.FeatureIDs {
		v := domain.ValueAt(l.Values, idx.NumTimes(), fi, timeIndex)
		fr.Features[fi] = FeatureStyle{
			FeatureID: id,
			Value:     v,
			Color:     domain.ValueToColor(v, l.Bounds),
			Width:     domain.WidthFor(v, l.Bounds),
		}
	}
	return fr, nil
}

// Resident lists the resident layers, most recently used first.
func (f *Frames) Resident() []string {
	return f.layers.keys()
}

// Reset drops the index and every layer, e.g. after the table was evicted.
func (f *Frames) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = nil
	f.layers.clear()
	f.metrics.ResidentVariables.Set(0)
}

func layerKey(key, variable string) string {
	return key + "|" + variable
}
