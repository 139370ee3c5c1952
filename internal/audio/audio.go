// Package audio holds the PCM plumbing and the streaming time-scale
// resampler that maps decoded interleaved s16 audio onto a new duration.
package audio

import "time"

// Default PCM layout requested from the decoder. The live monitor relies on
// these values for its 20ms Opus/MP3 framing.
const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Format describes an interleaved s16 PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the layout the decoder is asked for unless configured.
var DefaultFormat = Format{SampleRate: SampleRate, Channels: Channels}

// BytesPerFrame returns the size of one interleaved sample frame in bytes.
func (f Format) BytesPerFrame() int {
	return f.Channels * BitDepth / 8
}

// Duration returns the playback time of n per-channel samples.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(f.SampleRate))
}
