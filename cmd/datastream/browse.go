package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/pipeline"
)

type browseOptions struct {
	selects  []string
	load     bool
	feature  string
	locate   string
	variable string
	asJSON   bool
}

func newBrowseCmd(rt *session) *cobra.Command {
	var opts browseOptions
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Drill through the catalog, starting from the default selection",
		Long: `Browse resolves the default selection (newest complete date, first option
elsewhere), then applies each --select in order. With --load the resolved
dataset is fetched, cached and materialized, and the series of --feature
is printed. --locate looks a feature up in the hydrofabric index, moves the
selection to its VPU and uses it as the feature.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return browse(cmd, rt, opts)
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&opts.selects, "select", "s", nil, "axis=value to select, repeatable, applied in order")
	f.BoolVar(&opts.load, "load", false, "load the resolved dataset")
	f.StringVar(&opts.feature, "feature", "", "feature id for the series, e.g. wb-2855078")
	f.StringVar(&opts.locate, "locate", "", "feature id to find in the reference index, e.g. wb-2855078")
	f.StringVar(&opts.variable, "variable", "", "variable for the series (default: first)")
	f.BoolVar(&opts.asJSON, "json", false, "print JSON instead of a summary")
	return cmd
}

func parseSelect(s string) (domain.Axis, string, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || value == "" {
		return domain.AxisNone, "", fmt.Errorf("invalid --select %q, want axis=value", s)
	}
	axis, err := domain.ParseAxis(name)
	if err != nil {
		return domain.AxisNone, "", err
	}
	return axis, value, nil
}

func browse(cmd *cobra.Command, rt *session, opts browseOptions) error {
	ctx := cmd.Context()
	a := rt.app
	out := cmd.OutOrStdout()

	st, err := a.resolver.Bootstrap(ctx)
	if err != nil {
		return err
	}
	for _, s := range opts.selects {
		axis, value, err := parseSelect(s)
		if err != nil {
			return err
		}
		if st, err = a.resolver.Select(ctx, axis, value); err != nil {
			return err
		}
	}
	if opts.locate != "" {
		if st, err = locateFeature(ctx, rt, opts.locate); err != nil {
			return err
		}
		if opts.feature == "" {
			opts.feature = st.Feature
		}
	}

	if !opts.load {
		if opts.asJSON {
			return writeJSON(cmd, st)
		}
		renderState(out, st)
		return nil
	}

	res, err := loadSelection(ctx, rt, opts.feature, opts.variable)
	if err != nil {
		return err
	}
	if opts.asJSON {
		return writeJSON(cmd, res)
	}
	renderState(out, st)
	fmt.Fprintf(out, "%s %s  variables: %s\n",
		styleTitle.Render("Dataset"), res.Table, strings.Join(res.Variables, ", "))
	if opts.feature != "" {
		title := domain.PlotTitle(st.Path.ForecastType, opts.feature)
		renderSeries(out, title, domain.VariableUnits(res.Variable), res.Series)
	}
	return nil
}

// locateFeature reads the VPU of a feature from the reference index and moves
// the selection there.
func locateFeature(ctx context.Context, rt *session, id string) (domain.State, error) {
	a := rt.app
	if err := a.loader.Init(ctx, a.indexURL()); err != nil {
		return a.resolver.State(), fmt.Errorf("reference index: %w", err)
	}
	props, err := a.engine.FeatureProperties(ctx, id)
	if err != nil {
		return a.resolver.State(), err
	}
	vpuid, _ := props["vpuid"].(string)
	return a.resolver.Locate(ctx, id, vpuid)
}

// loadSelection loads the resolved selection, loading the reference index first.
func loadSelection(ctx context.Context, rt *session, feature, variable string) (pipeline.Result, error) {
	a := rt.app
	p, ok := a.resolver.Resolved()
	if !ok {
		return pipeline.Result{}, fmt.Errorf("%w: choose the remaining axes with --select", domain.ErrUnresolved)
	}
	if err := a.loader.Init(ctx, a.indexURL()); err != nil {
		rt.logger.Warn("reference index unavailable", "error", err)
	}

	req := pipeline.LoadRequest{Path: p, Variable: variable}
	if feature != "" {
		id, err := domain.ParseFeatureID(feature)
		if err != nil {
			return pipeline.Result{}, err
		}
		req.FeatureID = id
	}
	return a.loader.Load(ctx, req)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
