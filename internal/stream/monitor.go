package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/timescale/internal/audio"
)

// Monitor turns the bursty audio blocks of a job into a paced stream of
// 20ms frames. Jobs run faster than real time, so blocks that arrive while
// the monitor is behind are dropped. Between jobs it emits silence so
// connected listeners stay attached.
type Monitor struct {
	in     chan []int16
	frames chan []int16
	log    zerolog.Logger

	frameSamples int
	frameDur     time.Duration
	pending      []int16

	dropped atomic.Int64
	played  atomic.Int64
}

// NewMonitor creates a monitor for interleaved audio in the default
// 48kHz stereo layout.
func NewMonitor(log zerolog.Logger) *Monitor {
	return &Monitor{
		in:           make(chan []int16, 64),
		frames:       make(chan []int16, 100),
		log:          log.With().Str("component", "monitor").Logger(),
		frameSamples: audio.FrameSamples,
		frameDur:     audio.FrameDuration,
	}
}

// Tap offers one block to the monitor without blocking. The block is read,
// never modified.
func (m *Monitor) Tap(samples []int16) {
	if len(samples) == 0 {
		return
	}
	select {
	case m.in <- samples:
	default:
		m.dropped.Add(1)
	}
}

// Frames returns the channel of outgoing 20ms frames.
func (m *Monitor) Frames() <-chan []int16 {
	return m.frames
}

// Dropped returns the number of blocks discarded because the monitor was
// behind.
func (m *Monitor) Dropped() int64 { return m.dropped.Load() }

// Played returns the number of frames carrying job audio.
func (m *Monitor) Played() int64 { return m.played.Load() }

// Run emits one frame per tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.frames)

	ticker := time.NewTicker(m.frameDur)
	defer ticker.Stop()

	m.log.Debug().Dur("frame", m.frameDur).Msg("monitor running")
	for {
		if !m.sendFrame(ctx, ticker, m.nextFrame()) {
			return
		}
	}
}

// sendFrame waits for the ticker then sends a frame. Returns false on
// cancel.
func (m *Monitor) sendFrame(ctx context.Context, ticker *time.Ticker, frame []int16) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ticker.C:
	}

	select {
	case m.frames <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// nextFrame assembles one frame from pending audio, pulling queued blocks
// only while a frame is incomplete. A frame that cannot be filled is
// padded with silence.
func (m *Monitor) nextFrame() []int16 {
fill:
	for len(m.pending) < m.frameSamples {
		select {
		case b := <-m.in:
			m.pending = append(m.pending, b...)
		default:
			break fill
		}
	}

	frame := make([]int16, m.frameSamples)
	if len(m.pending) == 0 {
		return frame
	}
	n := copy(frame, m.pending)
	m.pending = append(m.pending[:0], m.pending[n:]...)
	m.played.Add(1)
	return frame
}
