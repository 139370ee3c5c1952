// Package curve generates control curves: monotonic maps from an output
// index to a fractional source index, used to retime both audio samples and
// video frames.
package curve

import (
	"errors"
	"math"
)

// ErrInvalidBlocks is returned by NewBlocks for non-positive dimensions.
var ErrInvalidBlocks = errors.New("curve: length, count and size must be positive")

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3, clamped outside the unit interval.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Value returns element n (0 <= n < length) of the control curve mapping
// length output items onto count source items.
func Value(length, count, n int, smooth bool) float64 {
	if length > 1 && n == length-1 {
		return float64(count - 1)
	}
	if count <= 1 || length <= 1 {
		return 0
	}
	if smooth && length > count {
		step := float64(length-1) / float64(count-1)
		x := float64(n) / step
		whole := math.Floor(x)
		return whole + Smoothstep(x-whole)
	}
	return float64(count-1) * float64(n) / float64(length-1)
}

// Generate returns the full control curve of the given length. It returns nil
// when length is not positive. Stretching curves (length > count) are eased
// with Smoothstep between source indices when smooth is set.
func Generate(length, count int, smooth bool) []float64 {
	if length <= 0 {
		return nil
	}
	out := make([]float64, length)
	for n := range out {
		out[n] = Value(length, count, n, smooth)
	}
	return out
}

// CeilIndex returns the highest source index the block reads, that is the
// ceiling of its last element. It returns -1 for an empty block.
func CeilIndex(block []float64) int {
	if len(block) == 0 {
		return -1
	}
	last := block[len(block)-1]
	idx := int(math.Trunc(last))
	if last-math.Trunc(last) > 0 {
		idx++
	}
	return idx
}
