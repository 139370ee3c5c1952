package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/timescale/internal/media"
	"github.com/satindergrewal/timescale/internal/progress"
	"github.com/satindergrewal/timescale/internal/video"
)

// videoStage is a retimer or a passthrough.
type videoStage interface {
	Step(next video.FetchFunc) (*media.VideoFrame, error)
}

// audioStage is a resampler or a passthrough.
type audioStage interface {
	Push(interleaved []int16) []int16
	Drain()
}

// coordinator runs the video and audio loops of one job against a sink and
// finalizes the sink once both have finished.
type coordinator struct {
	log   zerolog.Logger
	state *RunState
	sink  Sink
	path  string

	video      VideoSource
	videoStage videoStage
	frameTotal int

	audio       AudioSource // nil when the source has no audio
	audioStage  audioStage
	channels    int
	sampleTotal int

	tracker   *progress.Tracker
	onFetch   func(frame *media.VideoFrame, fraction float64)
	onAudio   func(fraction float64)
	audioTap  func(samples []int16)
	finishCtx context.Context

	result progress.Result
}

// run drives both loops to completion and returns the job result. The
// result is decided by whichever loop finishes last.
func (c *coordinator) run(ctx context.Context) progress.Result {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.videoLoop(gctx) })
	if c.audio != nil {
		g.Go(func() error { return c.audioLoop(gctx) })
	} else {
		c.tracker.ReportFraction(progress.PhaseAudio, 1)
		c.finishStream(media.StreamAudio)
	}

	if err := g.Wait(); err != nil {
		c.log.Debug().Err(err).Msg("stream loop ended with error")
	}
	return c.result
}

func (c *coordinator) videoLoop(ctx context.Context) error {
	defer c.finishStream(media.StreamVideo)
	defer c.video.Close()

	fetched := 0
	fetch := func() (*media.VideoFrame, error) {
		f, err := c.video.NextFrame()
		if err != nil {
			return nil, err
		}
		fetched++
		frac := c.tracker.Report(progress.PhaseVideo, fetched, c.frameTotal)
		if c.onFetch != nil {
			c.onFetch(f, frac)
		}
		return f, nil
	}

	for {
		if stop, err := c.checkpoint(ctx, media.StreamVideo); stop {
			return err
		}
		frame, err := c.videoStage.Step(fetch)
		if errors.Is(err, io.EOF) {
			c.tracker.ReportFraction(progress.PhaseVideo, 1)
			c.log.Debug().Int("fetched", fetched).Msg("video source drained")
			return nil
		}
		if err != nil {
			return c.streamErr(fmt.Errorf("decode video: %w", err))
		}
		if err := c.sink.AppendVideo(frame); err != nil {
			return c.streamErr(fmt.Errorf("%w: video at %v: %v", ErrEncoderRejected, frame.PTS, err))
		}
	}
}

func (c *coordinator) audioLoop(ctx context.Context) error {
	defer c.finishStream(media.StreamAudio)
	defer c.audio.Close()

	consumed := 0
	for {
		if stop, err := c.checkpoint(ctx, media.StreamAudio); stop {
			return err
		}
		block, err := c.audio.NextBlock()
		if errors.Is(err, io.EOF) {
			c.audioStage.Drain()
			c.tracker.ReportFraction(progress.PhaseAudio, 1)
			c.log.Debug().Int("consumed", consumed).Msg("audio source drained")
			return nil
		}
		if err != nil {
			return c.streamErr(fmt.Errorf("decode audio: %w", err))
		}
		consumed += len(block) / c.channels
		frac := c.tracker.Report(progress.PhaseAudio, consumed, c.sampleTotal)
		if c.onAudio != nil {
			c.onAudio(frac)
		}

		out := c.audioStage.Push(block)
		if len(out) == 0 {
			continue
		}
		if err := c.sink.AppendAudio(out); err != nil {
			return c.streamErr(fmt.Errorf("%w: audio: %v", ErrEncoderRejected, err))
		}
		if c.audioTap != nil {
			c.audioTap(out)
		}
	}
}

// checkpoint runs at every iteration boundary. It reports stop when the
// loop must end: on cancellation, when the group context is done, or when
// waiting for the sink failed.
func (c *coordinator) checkpoint(ctx context.Context, kind media.StreamKind) (bool, error) {
	if c.state.Cancelled() {
		return true, nil
	}
	if ctx.Err() != nil {
		return true, c.streamErr(ctx.Err())
	}
	if c.sink.ReadyForMore(kind) {
		return false, nil
	}
	if err := c.sink.WaitReady(ctx, kind); err != nil {
		if ctx.Err() != nil {
			return true, c.streamErr(ctx.Err())
		}
		return true, c.streamErr(fmt.Errorf("%w: %s not ready: %v", ErrEncoderRejected, kind, err))
	}
	return false, nil
}

// streamErr classifies a loop-ending error. Errors after cancellation and
// context errors caused by the other loop's failure are not new failures.
func (c *coordinator) streamErr(err error) error {
	if c.state.Cancelled() {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if c.state.Err() != nil {
			return nil
		}
		// The caller's context ended without an explicit Cancel.
		c.state.Cancel()
		return nil
	}
	return c.state.Fail(err)
}

// finishStream marks kind finished on the run state and the sink, and
// finalizes when it was the last stream.
func (c *coordinator) finishStream(kind media.StreamKind) {
	c.sink.MarkFinished(kind)
	c.state.MarkFinished(kind)
	c.state.Finalize(c.finalize)
}

func (c *coordinator) finalize() {
	log := c.log.With().Str("stage", "finalize").Logger()

	if err := c.state.Err(); err != nil {
		if abortErr := c.sink.Abort(); abortErr != nil {
			log.Warn().Err(abortErr).Msg("abort after failure")
		}
		c.result = progress.Failed(err)
		return
	}
	if c.state.Cancelled() {
		if abortErr := c.sink.Abort(); abortErr != nil {
			log.Warn().Err(abortErr).Msg("abort after cancel")
		}
		c.result = progress.Cancelled()
		return
	}
	if err := c.sink.Finish(c.finishCtx); err != nil {
		c.result = progress.Failed(fmt.Errorf("%w: finish: %v", ErrEncoderRejected, err))
		return
	}
	c.tracker.Complete()
	c.result = progress.Succeeded(c.path)
}
