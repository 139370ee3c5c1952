// Package media defines the frame and stream types shared by the decoder,
// the retiming stages and the encoder.
package media

import "time"

// StreamKind identifies one of the two output streams.
type StreamKind int

const (
	StreamVideo StreamKind = iota
	StreamAudio
)

func (k StreamKind) String() string {
	switch k {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// VideoFrame is one decoded picture as packed RGBA pixels. Pixels is shared
// read-only between copies made by the retimer.
type VideoFrame struct {
	Pixels []byte
	Width  int
	Height int
	PTS    time.Duration
}

// WithPTS returns a shallow copy of f stamped with pts.
func (f *VideoFrame) WithPTS(pts time.Duration) *VideoFrame {
	c := *f
	c.PTS = pts
	return &c
}

// RGBASize returns the byte size of a packed RGBA frame.
func RGBASize(width, height int) int {
	return width * height * 4
}

// SourceInfo is what the pre-scan learns about a source before streaming.
type SourceInfo struct {
	Path     string
	Duration time.Duration // measured, or estimated from frame timestamps

	Width      int
	Height     int
	FrameRate  float64         // nominal frames per second
	Timestamps []time.Duration // presentation order, rebased to zero
	FrameCount int             // measured, or duration * FrameRate

	HasAudio     bool
	SampleRate   int
	Channels     int
	TotalSamples int // per-channel samples in the decoded audio track
}
