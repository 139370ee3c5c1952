// Package video retimes decoded frames onto a fixed output frame rate.
package video

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/satindergrewal/timescale/internal/media"
)

// ErrDegenerate is returned for a non-positive ratio or frame rate.
var ErrDegenerate = errors.New("video: degenerate retiming parameters")

// cursorSlack absorbs nanosecond rounding of scaled timestamps, so a frame
// whose scaled time lands on a cadence slot is not dropped for being a few
// nanoseconds early.
const cursorSlack = time.Microsecond

// FetchFunc returns the next decoded source frame, or io.EOF when the source
// is exhausted.
type FetchFunc func() (*media.VideoFrame, error)

// Retimer maps source frames with arbitrary presentation timestamps onto an
// output cadence of fps frames per second.
//
// Two monotone cursors drive it: the scaled timestamp of the held source
// frame and the output cursor. While the output cursor has not passed the
// held frame, the frame is emitted again at the cursor (slow motion). Once
// the cursor is past it, the frame is dropped and the next one fetched
// (fast forward).
type Retimer struct {
	ratio float64
	fps   int

	slot     *media.VideoFrame // held frame, PTS already scaled
	slotUsed bool              // slot was emitted at least once
	emitted  int64             // output frames so far; cursor = emitted/fps
	fetched  int
	dropped  int
}

// NewRetimer creates a retimer scaling timestamps by ratio onto fps.
func NewRetimer(ratio float64, fps int) (*Retimer, error) {
	if !(ratio > 0) || math.IsInf(ratio, 0) || fps <= 0 {
		return nil, fmt.Errorf("%w: ratio=%v fps=%d", ErrDegenerate, ratio, fps)
	}
	return &Retimer{ratio: ratio, fps: fps}, nil
}

// FrameDuration returns the output frame duration, truncated to nanoseconds.
func (r *Retimer) FrameDuration() time.Duration {
	return time.Second / time.Duration(r.fps)
}

// Cursor returns the presentation time of the next emitted frame.
func (r *Retimer) Cursor() time.Duration {
	return cadence(r.emitted, r.fps)
}

// Step returns the next output frame, stamped with the output cursor. Source
// frames are pulled through next as needed. Errors from next, including
// io.EOF at the end of the source, are returned unchanged.
func (r *Retimer) Step(next FetchFunc) (*media.VideoFrame, error) {
	for {
		if r.slot == nil {
			f, err := next()
			if err != nil {
				return nil, err
			}
			r.fetched++
			r.slot = f.WithPTS(time.Duration(float64(f.PTS) * r.ratio))
			r.slotUsed = false
		}

		cursor := r.Cursor()
		if cursor <= r.slot.PTS+cursorSlack {
			r.emitted++
			r.slotUsed = true
			return r.slot.WithPTS(cursor), nil
		}
		if !r.slotUsed {
			r.dropped++
		}
		r.slot = nil
	}
}

// Emitted returns the number of output frames produced.
func (r *Retimer) Emitted() int { return int(r.emitted) }

// Fetched returns the number of source frames pulled.
func (r *Retimer) Fetched() int { return r.fetched }

// Dropped returns the number of source frames replaced without ever being
// emitted.
func (r *Retimer) Dropped() int { return r.dropped }

func cadence(k int64, fps int) time.Duration {
	return time.Duration(k * int64(time.Second) / int64(fps))
}
