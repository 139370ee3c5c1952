// Package engine retimes a recorded audio/video source to a new duration.
// It pre-scans the source, then runs a video retimer and an audio resampler
// concurrently against a backpressured sink, and reports progress and a
// single completion result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/timescale/internal/audio"
	"github.com/satindergrewal/timescale/internal/media"
	"github.com/satindergrewal/timescale/internal/progress"
	"github.com/satindergrewal/timescale/internal/video"
)

// Config holds the engine's collaborators and defaults.
type Config struct {
	Toolkit  Toolkit
	Log      zerolog.Logger
	Strategy Strategy // used when Options.Strategy is nil

	AudioBlock int // output frames per audio block when Options.AudioBlock is 0
}

// Engine starts retiming jobs.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.AudioBlock <= 0 {
		cfg.AudioBlock = 1024
	}
	return &Engine{
		cfg: cfg,
		log: cfg.Log.With().Str("component", "engine").Logger(),
	}
}

// Options describes one job.
type Options struct {
	Source      string
	Destination string

	// DesiredDuration is the length of the output. When zero, Factor times
	// the scanned source duration is used instead. Both are ignored by
	// strategies that do not retime.
	DesiredDuration time.Duration
	Factor          float64
	FrameRate       int
	AudioBlock      int
	Strategy        Strategy

	// OnProgress is called with the cumulative fraction, and with the most
	// recently decoded frame when the video loop reported. It may be called
	// from both stream goroutines.
	OnProgress func(fraction float64, preview *media.VideoFrame)
	// OnCompletion is called exactly once when the job ends, before Wait
	// returns. It must not call Wait.
	OnCompletion func(progress.Result)
	// AudioTap receives every audio block appended to the sink. Blocks are
	// shared with the sink and must not be modified.
	AudioTap func(samples []int16)
}

func (e *Engine) validate(opts *Options) error {
	if opts.Strategy == nil {
		opts.Strategy = e.cfg.Strategy
	}
	if opts.AudioBlock == 0 {
		opts.AudioBlock = e.cfg.AudioBlock
	}
	switch {
	case e.cfg.Toolkit == nil:
		return errors.New("engine: no toolkit configured")
	case opts.Strategy == nil:
		return fmt.Errorf("%w: no strategy", ErrDegenerateInput)
	case opts.Source == "":
		return fmt.Errorf("%w: empty source path", ErrDegenerateInput)
	case opts.Destination == "":
		return fmt.Errorf("%w: empty destination path", ErrDegenerateInput)
	case opts.FrameRate <= 0:
		return fmt.Errorf("%w: frame rate %d", ErrDegenerateInput, opts.FrameRate)
	case opts.AudioBlock <= 0:
		return fmt.Errorf("%w: audio block %d", ErrDegenerateInput, opts.AudioBlock)
	case opts.DesiredDuration < 0 || opts.Factor < 0 || math.IsNaN(opts.Factor) || math.IsInf(opts.Factor, 0):
		return fmt.Errorf("%w: desired duration %v, factor %v", ErrDegenerateInput, opts.DesiredDuration, opts.Factor)
	case opts.Strategy.Retimes() && opts.DesiredDuration == 0 && opts.Factor == 0:
		return fmt.Errorf("%w: no desired duration or factor", ErrDegenerateInput)
	}
	return nil
}

// Start validates opts and runs the job in the background. Degenerate
// options are rejected here; every later failure is delivered through the
// job's result.
func (e *Engine) Start(ctx context.Context, opts Options) (*Job, error) {
	if err := e.validate(&opts); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	j := &Job{
		ID:          uuid.New(),
		Source:      opts.Source,
		Destination: opts.Destination,
		state:       &RunState{},
		cancel:      cancel,
		done:        make(chan struct{}),
		started:     time.Now(),
	}
	j.tracker = progress.NewTracker(nil)

	log := e.log.With().Str("job", j.ID.String()).Logger()
	stop := context.AfterFunc(ctx, j.Cancel)

	go func() {
		defer stop()
		defer cancel()
		res := e.run(runCtx, j, opts, log)
		j.complete(res, opts.OnCompletion, log)
	}()
	return j, nil
}

func (e *Engine) run(ctx context.Context, j *Job, opts Options, log zerolog.Logger) progress.Result {
	tk := e.cfg.Toolkit
	log.Info().
		Str("source", opts.Source).
		Str("destination", opts.Destination).
		Str("strategy", opts.Strategy.Name()).
		Dur("desired", opts.DesiredDuration).
		Float64("factor", opts.Factor).
		Int("fps", opts.FrameRate).
		Msg("job started")

	if err := os.Remove(opts.Destination); err != nil && !errors.Is(err, os.ErrNotExist) {
		return progress.Failed(fmt.Errorf("remove stale destination: %w", err))
	}

	// A cancelled job makes collaborators fail with context errors; those
	// failures are reported as the cancellation they are.
	cancelled := func() bool {
		return j.state.Cancelled() || ctx.Err() != nil
	}

	info, err := tk.Scan(ctx, opts.Source, func(done, total int) {
		j.report(opts.OnProgress, j.tracker.Report(progress.PhaseScan, done, total), nil)
	})
	if cancelled() {
		return progress.Cancelled()
	}
	if err != nil {
		return progress.Failed(fmt.Errorf("%w: scan %s: %v", ErrSourceUnreadable, opts.Source, err))
	}
	j.report(opts.OnProgress, j.tracker.ReportFraction(progress.PhaseScan, 1), nil)

	if err := checkSource(info); err != nil {
		return progress.Failed(err)
	}
	log.Info().
		Dur("duration", info.Duration).
		Int("frames", info.FrameCount).
		Int("width", info.Width).
		Int("height", info.Height).
		Bool("audio", info.HasAudio).
		Int("samples", info.TotalSamples).
		Msg("source scanned")

	ratio := 1.0
	if opts.Strategy.Retimes() {
		desired := opts.DesiredDuration
		if desired == 0 {
			desired = time.Duration(math.Round(opts.Factor * float64(info.Duration)))
		}
		ratio = float64(desired) / float64(info.Duration)
	}
	if math.IsInf(ratio, 0) || !(ratio > 0) {
		return progress.Failed(fmt.Errorf("%w: ratio %v", ErrDegenerateInput, ratio))
	}

	c := &coordinator{
		log:        log,
		state:      j.state,
		path:       opts.Destination,
		frameTotal: info.FrameCount,
		tracker:    j.tracker,
		audioTap:   opts.AudioTap,
		finishCtx:  context.WithoutCancel(ctx),
		onFetch: func(f *media.VideoFrame, frac float64) {
			j.preview.Store(f)
			j.report(opts.OnProgress, frac, f)
		},
		onAudio: func(frac float64) {
			j.report(opts.OnProgress, frac, nil)
		},
	}
	if err := buildStages(c, info, opts, ratio); err != nil {
		return progress.Failed(err)
	}

	c.video, err = tk.OpenVideo(ctx, info, opts.Strategy)
	if err != nil {
		if cancelled() {
			return progress.Cancelled()
		}
		return progress.Failed(fmt.Errorf("%w: open video: %v", ErrSourceUnreadable, err))
	}
	if info.HasAudio {
		c.audio, err = tk.OpenAudio(ctx, info, opts.AudioBlock, opts.Strategy)
		if err != nil {
			c.video.Close()
			if cancelled() {
				return progress.Cancelled()
			}
			return progress.Failed(fmt.Errorf("%w: open audio: %v", ErrSourceUnreadable, err))
		}
	}
	closeSources := func() {
		c.video.Close()
		if c.audio != nil {
			c.audio.Close()
		}
	}

	if cancelled() {
		closeSources()
		return progress.Cancelled()
	}

	c.sink, err = tk.CreateSink(ctx, SinkParams{
		Path:       opts.Destination,
		Width:      info.Width,
		Height:     info.Height,
		FrameRate:  sinkRate(info, opts),
		HasAudio:   info.HasAudio,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		Strategy:   opts.Strategy,
	})
	if err != nil {
		closeSources()
		if cancelled() {
			return progress.Cancelled()
		}
		return progress.Failed(fmt.Errorf("%w: create sink: %v", ErrEncoderRejected, err))
	}

	log.Debug().Float64("ratio", ratio).Msg("streaming")
	return c.run(ctx)
}

// sinkRate is the requested rate for retiming jobs. Copy jobs keep the
// source rate so video and audio stay the same length.
func sinkRate(info media.SourceInfo, opts Options) float64 {
	if opts.Strategy.Retimes() || info.FrameRate <= 0 {
		return float64(opts.FrameRate)
	}
	return info.FrameRate
}

// checkSource rejects sources the stages cannot work with.
func checkSource(info media.SourceInfo) error {
	switch {
	case info.Duration <= 0:
		return fmt.Errorf("%w: source duration %v", ErrDegenerateInput, info.Duration)
	case info.FrameCount <= 0:
		return fmt.Errorf("%w: no video frames", ErrDegenerateInput)
	case info.Width <= 0 || info.Height <= 0:
		return fmt.Errorf("%w: frame size %dx%d", ErrDegenerateInput, info.Width, info.Height)
	case info.HasAudio && (info.TotalSamples <= 0 || info.Channels <= 0):
		return fmt.Errorf("%w: audio track with %d samples, %d channels", ErrDegenerateInput, info.TotalSamples, info.Channels)
	}
	return nil
}

func buildStages(c *coordinator, info media.SourceInfo, opts Options, ratio float64) error {
	if opts.Strategy.Retimes() {
		rt, err := video.NewRetimer(ratio, opts.FrameRate)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDegenerateInput, err)
		}
		c.videoStage = rt
	} else {
		c.videoStage = video.NewPassthrough()
	}

	if !info.HasAudio {
		return nil
	}
	c.channels = info.Channels
	c.sampleTotal = info.TotalSamples
	if opts.Strategy.Retimes() {
		rs, err := audio.NewResampler(info.TotalSamples, info.Channels, opts.AudioBlock, ratio)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDegenerateInput, err)
		}
		c.audioStage = rs
	} else {
		c.audioStage = audio.NewPassthrough(info.Channels)
	}
	return nil
}

// Job is one running or finished retiming job.
type Job struct {
	ID          uuid.UUID
	Source      string
	Destination string

	state   *RunState
	cancel  context.CancelFunc
	tracker *progress.Tracker
	preview atomic.Pointer[media.VideoFrame]
	started time.Time

	reportMu sync.Mutex // serializes OnProgress calls
	done     chan struct{}
	result   progress.Result
}

// Cancel requests cancellation. It takes effect at the next loop iteration
// of each stream; the result is then progress.StatusCancelled and no output
// is left behind. Safe to call at any time, including after completion.
func (j *Job) Cancel() {
	j.state.Cancel()
	j.cancel()
}

// Done is closed once the result is available and OnCompletion returned.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job ends and returns its result.
func (j *Job) Wait() progress.Result {
	<-j.done
	return j.result
}

// Result returns the result and whether the job has ended.
func (j *Job) Result() (progress.Result, bool) {
	select {
	case <-j.done:
		return j.result, true
	default:
		return progress.Result{}, false
	}
}

// Progress returns the cumulative fraction in [0, 1].
func (j *Job) Progress() float64 { return j.tracker.Fraction() }

// Preview returns the most recently decoded source frame, or nil.
func (j *Job) Preview() *media.VideoFrame { return j.preview.Load() }

// Elapsed returns the time since the job started.
func (j *Job) Elapsed() time.Duration { return time.Since(j.started) }

func (j *Job) report(fn func(float64, *media.VideoFrame), frac float64, preview *media.VideoFrame) {
	if fn == nil {
		return
	}
	j.reportMu.Lock()
	defer j.reportMu.Unlock()
	fn(frac, preview)
}

func (j *Job) complete(res progress.Result, fn func(progress.Result), log zerolog.Logger) {
	j.result = res
	defer close(j.done)

	ev := log.Info()
	if res.Status == progress.StatusFailed {
		ev = log.Error().Err(res.Err)
	}
	ev.Str("status", res.Status.String()).
		Str("output", res.OutputPath).
		Dur("elapsed", j.Elapsed()).
		Msg("job finished")

	if fn != nil {
		fn(res)
	}
}
