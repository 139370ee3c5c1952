package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/satindergrewal/timescale/internal/engine"
	"github.com/satindergrewal/timescale/internal/ffmpeg"
	"github.com/satindergrewal/timescale/internal/media"
	"github.com/satindergrewal/timescale/internal/progress"
)

// jobRequest is one job as asked for on the command line or over HTTP.
type jobRequest struct {
	Source      string        `json:"source"`
	Destination string        `json:"destination,omitempty"`
	Factor      float64       `json:"factor,omitempty"`
	Duration    time.Duration `json:"-"`
	Seconds     float64       `json:"duration_seconds,omitempty"`
	FPS         int           `json:"fps,omitempty"`
	Strategy    string        `json:"strategy,omitempty"`
}

// defaultDestination names the output "<source>-scaled.mov" inside dir.
func defaultDestination(source, dir string) string {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, base+"-scaled.mov")
}

// options resolves req against the configured defaults. An explicit
// duration wins over a factor.
func (a *app) options(req jobRequest) (engine.Options, error) {
	if req.Source == "" {
		return engine.Options{}, errors.New("no source given")
	}
	opts := engine.Options{
		Source:      req.Source,
		Destination: req.Destination,
		FrameRate:   req.FPS,
		Factor:      req.Factor,
	}
	if opts.Destination == "" {
		opts.Destination = defaultDestination(req.Source, a.cfg.OutputDir)
	}
	if opts.FrameRate == 0 {
		opts.FrameRate = a.cfg.FrameRate
	}

	switch {
	case req.Duration != 0:
		opts.DesiredDuration = req.Duration
		opts.Factor = 0
	case req.Seconds != 0:
		opts.DesiredDuration = time.Duration(req.Seconds * float64(time.Second))
		opts.Factor = 0
	case opts.Factor == 0:
		opts.Factor = a.cfg.Factor
	}

	if req.Strategy != "" {
		s, ok := ffmpeg.StrategyByName(req.Strategy, a.cfg.VideoCodec, a.cfg.AudioCodec)
		if !ok {
			return engine.Options{}, fmt.Errorf("unknown strategy %q", req.Strategy)
		}
		opts.Strategy = s
	}
	if a.monitor != nil {
		opts.AudioTap = a.monitor.Tap
	}
	return opts, nil
}

// runOnce runs a single job in the foreground and returns the exit code.
func runOnce(ctx context.Context, a *app, req jobRequest) int {
	opts, err := a.options(req)
	if err != nil {
		a.log.Error().Err(err).Msg("invalid job")
		return 2
	}

	var lastStep int
	opts.OnProgress = func(f float64, _ *media.VideoFrame) {
		if step := int(f * 10); step > lastStep {
			lastStep = step
			a.log.Info().Int("percent", step*10).Msg("progress")
		}
	}

	job, err := a.engine.Start(ctx, opts)
	if err != nil {
		a.log.Error().Err(err).Msg("invalid job")
		return 2
	}
	res := job.Wait()
	switch res.Status {
	case progress.StatusSuccess:
		fmt.Println(res.OutputPath)
		return 0
	case progress.StatusCancelled:
		return 130
	default:
		return 1
	}
}
