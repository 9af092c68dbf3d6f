package resolver_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/observability"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/resolver"
)

// --- mocks ---

type fakeLister struct {
	mu      sync.Mutex
	tree    map[string][]string
	errs    map[string]error
	block   map[string]chan struct{}
	started chan string
	calls   []string
}

func (f *fakeLister) List(ctx context.Context, prefix string) ([]domain.Option, error) {
	f.mu.Lock()
	f.calls = append(f.calls, prefix)
	gate := f.block[prefix]
	f.mu.Unlock()

	if gate != nil {
		f.started <- prefix
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.errs[prefix]; err != nil {
		return nil, err
	}
	opts := make([]domain.Option, 0, len(f.tree[prefix]))
	for _, v := range f.tree[prefix] {
		opts = append(opts, domain.NewOption(v))
	}
	return opts, nil
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

const (
	root    = "outputs/"
	cfe     = "outputs/cfe_nom/v2.2_hydrofabric/"
	day     = cfe + "ngen.20240102/"
	short   = day + "short_range/"
	medium  = day + "medium_range/"
	troute0 = short + "00/VPU_01/ngen-run/outputs/troute/"
)

func newTree() *fakeLister {
	return &fakeLister{
		tree: map[string][]string{
			root:                 {"cfe_nom", "lstm", "test"},
			"outputs/lstm/v2.2_hydrofabric/": {"ngen.20240101"},
			cfe:                  {"ngen.20240101", "ngen.20240102", "ngen.20240103"},
			day:                  {"medium_range", "short_range"},
			short:                {"00", "12"},
			short + "00/":        {"VPU_01"},
			troute0:              {"troute_202401020100.nc", "troute_202401020000.nc"},
			short + "12/":        {"VPU_01", "VPU_02"},
			short + "12/VPU_02/ngen-run/outputs/troute/": {"troute.nc"},
			medium:               {"00"},
			medium + "00/":       {"1", "2"},
		},
		errs:  map[string]error{},
		block: map[string]chan struct{}{},
	}
}

func newResolver(l resolver.Lister) (*resolver.Resolver, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return resolver.New(l, observability.DiscardLogger(), m), m
}

func bootstrapped(t *testing.T) (*resolver.Resolver, *fakeLister, *observability.Metrics) {
	t.Helper()
	l := newTree()
	r, m := newResolver(l)
	_, err := r.Bootstrap(context.Background())
	require.NoError(t, err)
	return r, l, m
}

// --- tests ---

func TestBootstrap_CascadesDefaults(t *testing.T) {
	r, _, _ := bootstrapped(t)
	st := r.State()

	want := domain.Path{
		Model:        "cfe_nom",
		Date:         "ngen.20240102",
		ForecastType: "short_range",
		Cycle:        "00",
		SpatialUnit:  "VPU_01",
		OutputFile:   "troute_202401020100.nc",
	}
	if diff := cmp.Diff(want, st.Path); diff != "" {
		t.Fatalf("path mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []domain.Option{domain.NewOption("cfe_nom"), domain.NewOption("lstm")}, st.OptionsFor(domain.AxisModel))
	assert.Equal(t, "ngen.20240103", st.OptionsFor(domain.AxisDate)[0].Value)
	assert.Equal(t, "short_range", st.OptionsFor(domain.AxisForecastType)[0].Value)

	p, ok := r.Resolved()
	assert.True(t, ok)
	assert.Equal(t, want, p)
}

func TestBootstrap_StopsAtEmptyAxis(t *testing.T) {
	l := newTree()
	l.errs[cfe] = errors.New("access denied")
	r, m := newResolver(l)

	st, err := r.Bootstrap(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "cfe_nom", st.Path.Model)
	assert.Empty(t, st.Path.Date)
	assert.Nil(t, st.OptionsFor(domain.AxisDate))
	assert.Equal(t, domain.AxisDate, st.Active)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CatalogRequests.WithLabelValues("error")), 0)
}

func TestSelect_SameValueIsNoop(t *testing.T) {
	r, l, _ := bootstrapped(t)
	before := r.State()
	calls := l.callCount()

	st, err := r.Select(context.Background(), domain.AxisCycle, "00")
	require.NoError(t, err)

	assert.Equal(t, calls, l.callCount())
	if diff := cmp.Diff(before, st); diff != "" {
		t.Fatalf("state changed (-want +got):\n%s", diff)
	}
}

func TestSelect_StopsWhereUserMustChoose(t *testing.T) {
	r, _, _ := bootstrapped(t)

	st, err := r.Select(context.Background(), domain.AxisCycle, "12")
	require.NoError(t, err)

	assert.Equal(t, "12", st.Path.Cycle)
	assert.Empty(t, st.Path.SpatialUnit)
	assert.Empty(t, st.Path.OutputFile)
	assert.Len(t, st.OptionsFor(domain.AxisSpatialUnit), 2)
	assert.Nil(t, st.OptionsFor(domain.AxisOutputFile))
	assert.Equal(t, domain.AxisSpatialUnit, st.Active)
}

func TestSelect_AutoAdvancesSingleOption(t *testing.T) {
	r, _, _ := bootstrapped(t)
	_, err := r.Select(context.Background(), domain.AxisCycle, "12")
	require.NoError(t, err)

	st, err := r.Select(context.Background(), domain.AxisSpatialUnit, "VPU_02")
	require.NoError(t, err)

	assert.Equal(t, "troute.nc", st.Path.OutputFile)
	_, ok := r.Resolved()
	assert.True(t, ok)
}

func TestSelect_MediumRangeInsertsEnsemble(t *testing.T) {
	r, _, _ := bootstrapped(t)

	st, err := r.Select(context.Background(), domain.AxisForecastType, domain.MediumRange)
	require.NoError(t, err)

	// The single cycle is selected automatically, the ensemble needs a choice.
	assert.Equal(t, "00", st.Path.Cycle)
	assert.Empty(t, st.Path.Ensemble)
	assert.Equal(t, domain.AxisEnsemble, st.Active)
	assert.Len(t, st.OptionsFor(domain.AxisEnsemble), 2)
	assert.Empty(t, st.Path.SpatialUnit)

	_, err = r.Select(context.Background(), domain.AxisEnsemble, "2")
	require.NoError(t, err)

	st, err = r.Select(context.Background(), domain.AxisForecastType, "short_range")
	require.NoError(t, err)
	assert.Empty(t, st.Path.Ensemble)
	assert.Nil(t, st.OptionsFor(domain.AxisEnsemble))
	assert.NotContains(t, st.Order(), domain.AxisEnsemble)
}

func TestSelect_InvalidAxis(t *testing.T) {
	r, _, _ := bootstrapped(t)

	_, err := r.Select(context.Background(), domain.AxisEnsemble, "1")
	require.ErrorIs(t, err, domain.ErrAxisInactive)

	_, err = r.Select(context.Background(), domain.AxisDate, "")
	require.Error(t, err)
}

func TestSelect_StaleResponseDropped(t *testing.T) {
	l := newTree()
	l.tree["outputs/lstm/v2.2_hydrofabric/"] = []string{"ngen.20240101", "ngen.20240102"}
	l.block[cfe] = make(chan struct{})
	l.started = make(chan string, 1)
	r, m := newResolver(l)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Select(context.Background(), domain.AxisModel, "cfe_nom")
	}()
	<-l.started

	_, err := r.Select(context.Background(), domain.AxisModel, "lstm")
	require.NoError(t, err)

	close(l.block[cfe])
	<-done

	st := r.State()
	assert.Equal(t, "lstm", st.Path.Model)
	assert.Equal(t, []domain.Option{domain.NewOption("ngen.20240102"), domain.NewOption("ngen.20240101")},
		st.OptionsFor(domain.AxisDate))
	assert.InDelta(t, 1, testutil.ToFloat64(m.StaleResponses), 0)
}

func TestSelect_CanceledContextCommitsNoOptions(t *testing.T) {
	r, _, _ := bootstrapped(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, err := r.Select(ctx, domain.AxisCycle, "12")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "12", st.Path.Cycle)
	assert.Nil(t, st.OptionsFor(domain.AxisSpatialUnit))
}

func TestRestore_KeepsOfferedValues(t *testing.T) {
	l := newTree()
	r, _ := newResolver(l)
	want := domain.Path{
		Model:        "cfe_nom",
		Date:         "ngen.20240102",
		ForecastType: "short_range",
		Cycle:        "00",
		SpatialUnit:  "VPU_01",
		OutputFile:   "troute_202401020000.nc",
	}

	st, err := r.Restore(context.Background(), want)
	require.NoError(t, err)
	assert.Equal(t, want, st.Path)
	assert.Equal(t, domain.AxisOutputFile, st.Active)
	assert.Len(t, st.OptionsFor(domain.AxisOutputFile), 2)
}

func TestRestore_DropsValuesNoLongerOffered(t *testing.T) {
	r, _ := newResolver(newTree())

	st, err := r.Restore(context.Background(), domain.Path{
		Model:        "cfe_nom",
		Date:         "ngen.20240102",
		ForecastType: "short_range",
		Cycle:        "06",
		SpatialUnit:  "VPU_01",
	})
	require.NoError(t, err)

	assert.Equal(t, "short_range", st.Path.ForecastType)
	assert.Empty(t, st.Path.Cycle)
	assert.Empty(t, st.Path.SpatialUnit)
	assert.Equal(t, domain.AxisCycle, st.Active)
	assert.Len(t, st.OptionsFor(domain.AxisCycle), 2)
}

func TestLocate_SelectsSpatialUnitOfFeature(t *testing.T) {
	r, _, _ := bootstrapped(t)
	ctx := context.Background()
	_, err := r.Select(ctx, domain.AxisCycle, "12")
	require.NoError(t, err)

	st, err := r.Locate(ctx, "wb-7", "02")
	require.NoError(t, err)
	assert.Equal(t, "VPU_02", st.Path.SpatialUnit)
	assert.Equal(t, "troute.nc", st.Path.OutputFile)
	assert.Equal(t, "wb-7", st.Feature)
	assert.True(t, st.Path.Resolved())
}

func TestLocate_UnitNotOffered(t *testing.T) {
	r, _, _ := bootstrapped(t)
	ctx := context.Background()
	_, err := r.Select(ctx, domain.AxisCycle, "12")
	require.NoError(t, err)

	st, err := r.Locate(ctx, "wb-7", "05")
	require.ErrorIs(t, err, resolver.ErrNotOffered)
	assert.Empty(t, st.Path.SpatialUnit)
	assert.Empty(t, st.Feature)

	_, err = r.Locate(ctx, "wb-7", "")
	require.ErrorIs(t, err, resolver.ErrNotOffered)
}

func TestLocate_DeferredUntilCascadeReachesUnit(t *testing.T) {
	r, _ := newResolver(newTree())
	ctx := context.Background()

	st, err := r.Locate(ctx, "wb-7", "02")
	require.NoError(t, err)
	assert.Equal(t, "wb-7", st.Feature)
	assert.Empty(t, st.Path.SpatialUnit)

	st, err = r.Restore(ctx, domain.Path{
		Model:        "cfe_nom",
		Date:         "ngen.20240102",
		ForecastType: "short_range",
		Cycle:        "12",
	})
	require.NoError(t, err)
	assert.Equal(t, "VPU_02", st.Path.SpatialUnit, "two units are offered; the located one wins")
	assert.Equal(t, "troute.nc", st.Path.OutputFile)

	// The request is consumed once applied.
	_, err = r.Select(ctx, domain.AxisCycle, "00")
	require.NoError(t, err)
	st, err = r.Select(ctx, domain.AxisCycle, "12")
	require.NoError(t, err)
	assert.Empty(t, st.Path.SpatialUnit)
	assert.Equal(t, domain.AxisSpatialUnit, st.Active)
}

func TestRoot_ForgetsLocatedFeature(t *testing.T) {
	r, _, _ := bootstrapped(t)
	ctx := context.Background()
	_, err := r.Locate(ctx, "wb-7", "01")
	require.NoError(t, err)

	st, err := r.Root(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Feature)
}

func TestBreadcrumb_FetchesFollowingAxisWithoutAdvancing(t *testing.T) {
	r, _, _ := bootstrapped(t)

	st, err := r.Breadcrumb(context.Background(), domain.AxisForecastType)
	require.NoError(t, err)

	assert.Equal(t, "short_range", st.Path.ForecastType)
	assert.Empty(t, st.Path.Cycle)
	assert.Empty(t, st.Path.OutputFile)
	assert.Equal(t, domain.AxisCycle, st.Active)
	assert.Len(t, st.OptionsFor(domain.AxisCycle), 2)
	assert.Nil(t, st.OptionsFor(domain.AxisSpatialUnit))
}

func TestBreadcrumb_UnsetAxis(t *testing.T) {
	r, _ := newResolver(newTree())
	_, err := r.Breadcrumb(context.Background(), domain.AxisCycle)
	require.ErrorIs(t, err, resolver.ErrNotSelected)
}

func TestRoot_KeepsModelOptions(t *testing.T) {
	r, l, _ := bootstrapped(t)
	calls := l.callCount()

	st, err := r.Root(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.Path{}, st.Path)
	assert.Equal(t, domain.AxisModel, st.Active)
	assert.Len(t, st.OptionsFor(domain.AxisModel), 2)
	assert.Equal(t, calls, l.callCount())
	for _, a := range domain.AllAxes()[1:] {
		assert.Nil(t, st.OptionsFor(a), a)
	}
}

func TestRoot_FetchesModelsWhenMissing(t *testing.T) {
	l := newTree()
	r, _ := newResolver(l)

	st, err := r.Root(context.Background())
	require.NoError(t, err)
	assert.Len(t, st.OptionsFor(domain.AxisModel), 2)
	assert.Equal(t, 1, l.callCount())
}
