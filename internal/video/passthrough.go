package video

import (
	"github.com/satindergrewal/timescale/internal/media"
)

// Passthrough emits every source frame exactly once with its source
// timestamp. It is the video stage of a copy job, which runs the sink at
// the source frame rate.
type Passthrough struct {
	emitted int
}

// NewPassthrough creates a passthrough stage.
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

// Step fetches one frame and returns it unchanged.
func (p *Passthrough) Step(next FetchFunc) (*media.VideoFrame, error) {
	f, err := next()
	if err != nil {
		return nil, err
	}
	p.emitted++
	return f, nil
}

// Emitted returns the number of frames forwarded.
func (p *Passthrough) Emitted() int { return p.emitted }
