package ffmpeg

import (
	"strconv"

	"github.com/satindergrewal/timescale/internal/audio"
	"github.com/satindergrewal/timescale/internal/engine"
)

// ReaderSettingsProvider supplies the output options of the decoder
// processes, i.e. the raw formats the engine reads.
type ReaderSettingsProvider interface {
	VideoReaderArgs() []string
	AudioReaderArgs(f audio.Format) []string
}

// WriterSettingsProvider supplies the codec options of the encoder process.
type WriterSettingsProvider interface {
	VideoWriterArgs() []string
	AudioWriterArgs() []string
}

// rawReader is the reader half shared by both strategies: packed RGBA
// frames and interleaved s16le audio.
type rawReader struct{}

func (rawReader) VideoReaderArgs() []string {
	return []string{"-f", "rawvideo", "-pix_fmt", "rgba"}
}

func (rawReader) AudioReaderArgs(f audio.Format) []string {
	return []string{
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
	}
}

// Resampling retimes both streams onto the desired duration and encodes
// them with the configured codecs.
type Resampling struct {
	rawReader
	VideoCodec string // default libx264
	AudioCodec string // default pcm_s16le
}

func (Resampling) Name() string  { return "resample" }
func (Resampling) Retimes() bool { return true }

func (s Resampling) VideoWriterArgs() []string {
	codec := s.VideoCodec
	if codec == "" {
		codec = "libx264"
	}
	return []string{"-c:v", codec, "-pix_fmt", "yuv420p"}
}

func (s Resampling) AudioWriterArgs() []string {
	codec := s.AudioCodec
	if codec == "" {
		codec = "pcm_s16le"
	}
	return []string{"-c:a", codec}
}

// Passthrough copies both streams one to one at the output frame rate,
// encoding video losslessly.
type Passthrough struct {
	rawReader
}

func (Passthrough) Name() string  { return "passthrough" }
func (Passthrough) Retimes() bool { return false }

func (Passthrough) VideoWriterArgs() []string {
	return []string{"-c:v", "libx264", "-qp", "0", "-pix_fmt", "yuv444p"}
}

func (Passthrough) AudioWriterArgs() []string {
	return []string{"-c:a", "pcm_s16le"}
}

// StrategyByName returns the strategy for "resample" or "passthrough".
func StrategyByName(name, videoCodec, audioCodec string) (engine.Strategy, bool) {
	switch name {
	case "", "resample":
		return Resampling{VideoCodec: videoCodec, AudioCodec: audioCodec}, true
	case "passthrough":
		return Passthrough{}, true
	}
	return nil, false
}

func readerFor(s engine.Strategy) ReaderSettingsProvider {
	if r, ok := s.(ReaderSettingsProvider); ok {
		return r
	}
	return rawReader{}
}

func writerFor(s engine.Strategy) WriterSettingsProvider {
	if w, ok := s.(WriterSettingsProvider); ok {
		return w
	}
	return Resampling{}
}

var (
	_ engine.Strategy        = Resampling{}
	_ engine.Strategy        = Passthrough{}
	_ ReaderSettingsProvider = Resampling{}
	_ WriterSettingsProvider = Passthrough{}
)
