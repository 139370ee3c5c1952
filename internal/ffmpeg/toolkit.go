package ffmpeg

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/timescale/internal/audio"
	"github.com/satindergrewal/timescale/internal/engine"
	"github.com/satindergrewal/timescale/internal/media"
)

// Toolkit opens ffmpeg-backed decoders and encoders for the engine.
type Toolkit struct {
	Bins       Binaries
	Format     audio.Format // decoded and encoded audio format
	QueueDepth int
	Log        zerolog.Logger
}

// NewToolkit creates a toolkit. A zero format selects audio.DefaultFormat.
func NewToolkit(bins Binaries, f audio.Format, queueDepth int, log zerolog.Logger) *Toolkit {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		f = audio.DefaultFormat
	}
	return &Toolkit{
		Bins:       bins,
		Format:     f,
		QueueDepth: queueDepth,
		Log:        log.With().Str("component", "ffmpeg").Logger(),
	}
}

func (t *Toolkit) Scan(ctx context.Context, path string, report func(done, total int)) (media.SourceInfo, error) {
	return Scan(ctx, t.Log, t.Bins, path, t.Format, report)
}

func (t *Toolkit) OpenVideo(ctx context.Context, info media.SourceInfo, s engine.Strategy) (engine.VideoSource, error) {
	d, err := NewVideoDecoder(ctx, t.Log, t.Bins.ffmpeg(), info, readerFor(s))
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (t *Toolkit) OpenAudio(ctx context.Context, info media.SourceInfo, blockFrames int, s engine.Strategy) (engine.AudioSource, error) {
	d, err := NewAudioDecoder(ctx, t.Log, t.Bins.ffmpeg(), info, t.Format, blockFrames, readerFor(s))
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (t *Toolkit) CreateSink(ctx context.Context, p engine.SinkParams) (engine.Sink, error) {
	enc, err := NewEncoder(ctx, EncoderConfig{
		Bin:        t.Bins.ffmpeg(),
		Path:       p.Path,
		Width:      p.Width,
		Height:     p.Height,
		FrameRate:  p.FrameRate,
		HasAudio:   p.HasAudio,
		Audio:      audio.Format{SampleRate: p.SampleRate, Channels: p.Channels},
		Writer:     writerFor(p.Strategy),
		QueueDepth: t.QueueDepth,
		Log:        t.Log,
	})
	if err != nil {
		return nil, err
	}
	return enc, nil
}

var _ engine.Toolkit = (*Toolkit)(nil)
