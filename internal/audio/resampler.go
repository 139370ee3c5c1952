package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/satindergrewal/timescale/internal/curve"
)

// ErrDegenerate is returned for zero-length or otherwise unusable input.
var ErrDegenerate = errors.New("audio: degenerate input")

// State is the resampler lifecycle position.
type State int

const (
	StateAccumulating State = iota // waiting for enough source samples
	StateProducing                 // emitting control blocks
	StateDrained                   // source exhausted, output finalised
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateProducing:
		return "producing"
	case StateDrained:
		return "drained"
	default:
		return "unknown"
	}
}

// Resampler streams interleaved s16 audio through a control curve, turning
// totalSamples source samples per channel into round(totalSamples*ratio)
// output samples per channel without holding the whole source in memory.
//
// Output is produced one control block at a time, as soon as the window holds
// every source sample the block reads. After each block the samples that no
// later block can read are scheduled for removal from the window front.
type Resampler struct {
	channels int
	length   int

	blocks *curve.Blocks // unshifted, one block ahead of offsets
	offset *curve.Blocks // window-local coordinates

	window   *Window
	removed  int // samples already dropped from the window front
	toRemove int // samples scheduled for dropping on the next update

	state    State
	consumed int
	produced int
}

// NewResampler creates a resampler for a source of totalSamples per-channel
// samples in channels interleaved channels. blockSize is the number of output
// samples per channel in each control block.
func NewResampler(totalSamples, channels, blockSize int, ratio float64) (*Resampler, error) {
	if totalSamples <= 0 || channels <= 0 || blockSize <= 0 || !(ratio > 0) || math.IsInf(ratio, 0) {
		return nil, fmt.Errorf("%w: samples=%d channels=%d block=%d ratio=%v",
			ErrDegenerate, totalSamples, channels, blockSize, ratio)
	}
	length := int(math.Round(float64(totalSamples) * ratio))
	if length <= 0 {
		return nil, fmt.Errorf("%w: %d samples at ratio %v scale to nothing", ErrDegenerate, totalSamples, ratio)
	}
	blocks, err := curve.NewBlocks(length, totalSamples, blockSize, true, false)
	if err != nil {
		return nil, err
	}
	offset, err := curve.NewBlocks(length, totalSamples, blockSize, true, true)
	if err != nil {
		return nil, err
	}
	// The unshifted walker tracks the block after the one being produced:
	// its leading index says how far the window front may advance.
	blocks.Advance()
	return &Resampler{
		channels: channels,
		length:   length,
		blocks:   blocks,
		offset:   offset,
		window:   NewWindow(channels),
	}, nil
}

// Push appends one decoded interleaved block and returns every output sample
// that became computable, interleaved. It returns nil when the next control
// block still needs samples that have not been decoded yet.
func (r *Resampler) Push(interleaved []int16) []int16 {
	if r.state == StateDrained {
		return nil
	}
	perChannel := Deinterleave(interleaved, r.channels)
	if len(perChannel) == 0 || len(perChannel[0]) == 0 {
		return nil
	}
	r.window.Append(perChannel)
	r.consumed += len(perChannel[0])
	r.update()

	var out []int16
	r.state = StateProducing
	for {
		block, ok := r.offset.First()
		if !ok || curve.CeilIndex(block) >= r.window.Len() {
			break
		}
		scaled := make([][]int16, r.channels)
		for c := range scaled {
			scaled[c] = Interpolate(r.window.Channel(c), block)
		}
		out = append(out, Interleave(scaled)...)
		r.produced += len(block)
		r.offset.Advance()

		if next, ok := r.blocks.First(); ok {
			r.toRemove = int(math.Trunc(next[0])) - r.removed
			r.update()
			r.blocks.Advance()
		}
	}
	r.state = StateAccumulating
	return out
}

// Drain marks the source exhausted. Control blocks that could not be
// produced are discarded; the tail is never zero padded.
func (r *Resampler) Drain() {
	r.state = StateDrained
	r.window.Trim(r.window.Len())
}

// update applies the scheduled front removal. Removal larger than the window
// empties it and carries the remainder over to samples not yet decoded.
func (r *Resampler) update() {
	if r.toRemove <= 0 {
		return
	}
	n := r.window.Len()
	if r.toRemove > n {
		r.removed += n
		r.toRemove -= n
		r.window.Trim(n)
		return
	}
	r.window.Trim(r.toRemove)
	r.removed += r.toRemove
	r.toRemove = 0
}

// State returns the current lifecycle state.
func (r *Resampler) State() State { return r.state }

// OutputLength returns the total per-channel output length of the run.
func (r *Resampler) OutputLength() int { return r.length }

// Consumed returns the per-channel source samples pushed so far.
func (r *Resampler) Consumed() int { return r.consumed }

// Produced returns the per-channel output samples emitted so far.
func (r *Resampler) Produced() int { return r.produced }

// Buffered returns the per-channel samples currently held in the window.
func (r *Resampler) Buffered() int { return r.window.Len() }

// Done reports whether every control block has been produced.
func (r *Resampler) Done() bool { return r.produced >= r.length }
