package engine

import (
	"context"

	"github.com/satindergrewal/timescale/internal/media"
)

// VideoSource yields decoded frames in presentation order. NextFrame returns
// io.EOF after the last frame. A source is not restartable.
type VideoSource interface {
	NextFrame() (*media.VideoFrame, error)
	Close() error
}

// AudioSource yields interleaved 16-bit PCM blocks in source order.
// NextBlock returns io.EOF after the last block.
type AudioSource interface {
	NextBlock() ([]int16, error)
	Close() error
}

// Sink is the encoder/muxer side of a job. ReadyForMore must not block;
// WaitReady blocks until the stream can take more data or ctx is done.
// Video timestamps must be non-decreasing. Finish and Abort are terminal
// and are called at most once between them.
type Sink interface {
	ReadyForMore(kind media.StreamKind) bool
	WaitReady(ctx context.Context, kind media.StreamKind) error
	AppendVideo(frame *media.VideoFrame) error
	AppendAudio(samples []int16) error
	MarkFinished(kind media.StreamKind)
	Finish(ctx context.Context) error
	Abort() error
}

// Strategy selects how a job transforms its streams. Toolkits may inspect
// the concrete value for reader and writer settings.
type Strategy interface {
	Name() string
	// Retimes reports whether streams are mapped onto the desired duration
	// (true) or copied one to one (false).
	Retimes() bool
}

// SinkParams describes the output a sink must produce.
type SinkParams struct {
	Path      string
	Width     int
	Height    int
	FrameRate float64 // output rate; the source rate for copy jobs

	HasAudio   bool
	SampleRate int
	Channels   int

	Strategy Strategy
}

// Toolkit opens the external collaborators of a job.
type Toolkit interface {
	// Scan measures the source before streaming. report is called with
	// scan progress and may be nil.
	Scan(ctx context.Context, path string, report func(done, total int)) (media.SourceInfo, error)
	OpenVideo(ctx context.Context, info media.SourceInfo, strategy Strategy) (VideoSource, error)
	OpenAudio(ctx context.Context, info media.SourceInfo, blockFrames int, strategy Strategy) (AudioSource, error)
	CreateSink(ctx context.Context, params SinkParams) (Sink, error)
}
