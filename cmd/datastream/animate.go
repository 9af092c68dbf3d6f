package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/ngen-datastream-explorer/internal/animation"
	"github.com/couchcryptid/ngen-datastream-explorer/internal/domain"
)

type animateOptions struct {
	selects     []string
	variable    string
	speed       int
	start       int
	frames      int
	maxFeatures int
}

func newAnimateCmd(rt *session) *cobra.Command {
	var opts animateOptions
	cmd := &cobra.Command{
		Use:   "animate",
		Short: "Play a variable of the resolved dataset frame by frame",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return animate(cmd, rt, opts)
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&opts.selects, "select", "s", nil, "axis=value to select, repeatable, applied in order")
	f.StringVar(&opts.variable, "variable", "", "variable to animate (default: first)")
	f.IntVar(&opts.speed, "speed", animation.MinSpeed, "playback speed multiplier (1-20)")
	f.IntVar(&opts.start, "start", 0, "first time index")
	f.IntVar(&opts.frames, "frames", 0, "stop after this many frames (default: one full loop)")
	f.IntVar(&opts.maxFeatures, "max-features", 12, "features printed per frame")
	return cmd
}

func animate(cmd *cobra.Command, rt *session, opts animateOptions) error {
	ctx := cmd.Context()
	a := rt.app
	out := cmd.OutOrStdout()

	if _, err := a.resolver.Bootstrap(ctx); err != nil {
		return err
	}
	for _, s := range opts.selects {
		axis, value, err := parseSelect(s)
		if err != nil {
			return err
		}
		if _, err := a.resolver.Select(ctx, axis, value); err != nil {
			return err
		}
	}

	res, err := loadSelection(ctx, rt, "", opts.variable)
	if err != nil {
		return err
	}
	idx, err := a.frames.Index(ctx, res.Key)
	if err != nil {
		return err
	}
	if idx.NumTimes() == 0 {
		return fmt.Errorf("%s has no time steps", res.Table)
	}

	total := opts.frames
	if total <= 0 {
		total = idx.NumTimes()
	}

	player := animation.NewPlayer(domain.Clock(), idx.NumTimes())
	player.SetSpeed(opts.speed)
	player.Seek(opts.start)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shown := 0
	var frameErr error
	show := func(t int) {
		fr, err := a.frames.Frame(ctx, res.Key, res.Variable, t)
		if err != nil {
			frameErr = err
			cancel()
			return
		}
		renderFrame(out, fr, opts.maxFeatures)
		shown++
		if shown >= total {
			cancel()
		}
	}

	show(player.Frame())
	if shown < total && frameErr == nil {
		if err := player.Run(ctx, show); err != nil && ctx.Err() == nil {
			return err
		}
	}
	return frameErr
}
