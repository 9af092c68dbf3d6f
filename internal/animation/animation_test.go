package animation_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/animation"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
)

// --- mocks ---

type fakeSource struct {
	mu        sync.Mutex
	ids       []int64
	times     []time.Time
	values    map[string][]float32
	flatCalls map[string]int
	err       error
}

func newFakeSource() *fakeSource {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeSource{
		ids:   []int64{101, 102},
		times: []time.Time{t0, t0.Add(time.Hour), t0.Add(2 * time.Hour)},
		values: map[string][]float32{
			// feature 101 then 102, three times each.
			"flow":     {0, 5, 10, -9999, 2.5, float32(math.NaN())},
			"velocity": {1, 1, 1, 1, 1, 1},
			"depth":    {0, 1, 2, 3, 4, 5},
			"nudge":    {0, 0, 0, 0, 0, 0},
		},
		flatCalls: map[string]int{},
	}
}

func (f *fakeSource) DistinctFeatureIDs(_ context.Context, _ string) ([]int64, error) {
	return f.ids, f.err
}

func (f *fakeSource) DistinctTimes(_ context.Context, _ string) ([]time.Time, error) {
	return f.times, f.err
}

func (f *fakeSource) FlatVariable(_ context.Context, _, variable string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flatCalls[variable]++
	v, ok := f.values[variable]
	if !ok {
		return nil, errors.New("unknown variable")
	}
	return v, nil
}

func newFrames(src animation.Source) (*animation.Frames, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return animation.New(src, 3, observability.DiscardLogger(), m), m
}

const key = "cfe_nom_ngen_20240101_short_range_00_VPU_01_troute_arrow"

// --- tests ---

func TestFrames_Frame(t *testing.T) {
	frames, _ := newFrames(newFakeSource())

	fr, err := frames.Frame(context.Background(), key, "flow", 1)
	require.NoError(t, err)

	assert.Equal(t, domain.Bounds{Min: 0, Max: 10}, fr.Bounds)
	assert.Equal(t, "T+1h", fr.Label)
	assert.Equal(t, 3, fr.NumTimes)
	require.Len(t, fr.Features, 2)

	first := fr.Features[0]
	assert.Equal(t, int64(101), first.FeatureID)
	require.NotNil(t, first.Value)
	assert.InDelta(t, 5, *first.Value, 0)
	assert.Equal(t, domain.RGBA{200, 205, 124, 255}, first.Color)
	assert.InDelta(t, 7, first.Width, 1e-9)

	second := fr.Features[1]
	require.NotNil(t, second.Value)
	assert.InDelta(t, 2.5, *second.Value, 0)
}

func TestFrames_NoDataFeatures(t *testing.T) {
	frames, _ := newFrames(newFakeSource())

	fr, err := frames.Frame(context.Background(), key, "flow", 0)
	require.NoError(t, err)
	// Feature 102 holds the sentinel at t=0.
	assert.Equal(t, domain.NoDataColor, fr.Features[1].Color)
	assert.InDelta(t, 2, fr.Features[1].Width, 0)

	fr, err = frames.Frame(context.Background(), key, "flow", 2)
	require.NoError(t, err)
	assert.Nil(t, fr.Features[1].Value)
	assert.Equal(t, domain.NoDataColor, fr.Features[1].Color)
}

func TestFrames_TimeIndexOutOfRange(t *testing.T) {
	frames, _ := newFrames(newFakeSource())
	_, err := frames.Frame(context.Background(), key, "flow", 3)
	require.ErrorIs(t, err, animation.ErrTimeIndex)
	_, err = frames.Frame(context.Background(), key, "flow", -1)
	require.ErrorIs(t, err, animation.ErrTimeIndex)
}

func TestFrames_LayerLimit(t *testing.T) {
	src := newFakeSource()
	frames, m := newFrames(src)
	ctx := context.Background()

	for _, v := range []string{"flow", "velocity", "depth", "nudge"} {
		_, err := frames.Layer(ctx, key, v)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{key + "|nudge", key + "|depth", key + "|velocity"}, frames.Resident())
	assert.InDelta(t, 3, testutil.ToFloat64(m.ResidentVariables), 0)

	// velocity is resident, flow was evicted.
	_, err := frames.Layer(ctx, key, "velocity")
	require.NoError(t, err)
	_, err = frames.Layer(ctx, key, "flow")
	require.NoError(t, err)
	assert.Equal(t, 1, src.flatCalls["velocity"])
	assert.Equal(t, 2, src.flatCalls["flow"])
}

func TestFrames_NewKeyDropsLayers(t *testing.T) {
	frames, m := newFrames(newFakeSource())
	ctx := context.Background()

	_, err := frames.Layer(ctx, key, "flow")
	require.NoError(t, err)

	other := "cfe_nom_ngen_20240101_short_range_00_VPU_02_troute_arrow"
	idx, err := frames.Index(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, other, idx.Key)
	assert.Empty(t, frames.Resident())
	assert.InDelta(t, 0, testutil.ToFloat64(m.ResidentVariables), 0)
}

func TestFrames_Reset(t *testing.T) {
	frames, _ := newFrames(newFakeSource())
	_, err := frames.Layer(context.Background(), key, "flow")
	require.NoError(t, err)

	frames.Reset()
	assert.Empty(t, frames.Resident())
}

func TestFrames_SourceErrors(t *testing.T) {
	src := newFakeSource()
	frames, _ := newFrames(src)

	_, err := frames.Layer(context.Background(), key, "discharge")
	require.Error(t, err)

	src.err = errors.New("table not materialized")
	_, err = frames.Index(context.Background(), "other_VPU_03_troute_arrow")
	require.Error(t, err)
}

func TestPlayer_StepWraps(t *testing.T) {
	p := animation.NewPlayer(clockwork.NewFakeClock(), 3)

	assert.Equal(t, 2, p.StepBackward())
	assert.Equal(t, 0, p.StepForward())
	assert.Equal(t, 1, p.StepForward())
	assert.Equal(t, 2, p.Seek(10))
	assert.Equal(t, 0, p.Seek(-4))
}

func TestPlayer_EmptyTimeline(t *testing.T) {
	p := animation.NewPlayer(clockwork.NewFakeClock(), 0)
	assert.Equal(t, 0, p.StepForward())
	assert.Equal(t, 0, p.StepBackward())
	assert.Equal(t, 0, p.Seek(5))
}

func TestPlayer_SpeedClamped(t *testing.T) {
	p := animation.NewPlayer(clockwork.NewFakeClock(), 3)

	assert.Equal(t, animation.BaseFrameInterval, p.Interval())
	p.SetSpeed(5)
	assert.Equal(t, 500*time.Millisecond, p.Interval())
	p.SetSpeed(100)
	assert.Equal(t, animation.BaseFrameInterval/animation.MaxSpeed, p.Interval())
	p.SetSpeed(0)
	assert.Equal(t, animation.BaseFrameInterval, p.Interval())
}

func TestPlayer_Run(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := animation.NewPlayer(clock, 2)
	p.SetSpeed(10)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frames := make(chan int)
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, func(i int) { frames <- i })
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(p.Interval())
	assert.Equal(t, 1, <-frames)
	clock.Advance(p.Interval())
	assert.Equal(t, 0, <-frames)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
