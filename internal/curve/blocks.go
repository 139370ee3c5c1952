package curve

import "math"

// Blocks walks a control curve in fixed-size slices without materialising
// the whole curve. With offset set, every block is shifted so that its first
// element lies in [0,1), giving window-local coordinates.
type Blocks struct {
	length int
	count  int
	size   int
	smooth bool
	offset bool

	start int // index of the current block's first element
}

// NewBlocks creates a block walker over a curve of length elements mapping
// onto count source items, in blocks of size elements.
func NewBlocks(length, count, size int, smooth, offset bool) (*Blocks, error) {
	if length <= 0 || count <= 0 || size <= 0 {
		return nil, ErrInvalidBlocks
	}
	return &Blocks{
		length: length,
		count:  count,
		size:   size,
		smooth: smooth,
		offset: offset,
	}, nil
}

// First returns the current block, or false once the curve is exhausted.
func (b *Blocks) First() ([]float64, bool) {
	if b.start >= b.length {
		return nil, false
	}
	end := min(b.start+b.size, b.length)
	block := make([]float64, end-b.start)
	for n := b.start; n < end; n++ {
		block[n-b.start] = Value(b.length, b.count, n, b.smooth)
	}
	if b.offset {
		shift := math.Trunc(block[0])
		for i := range block {
			block[i] -= shift
		}
	}
	return block, true
}

// Advance moves to the next block.
func (b *Blocks) Advance() {
	b.start += b.size
}

// Remaining returns the number of curve elements not yet handed out.
func (b *Blocks) Remaining() int {
	return max(b.length-b.start, 0)
}

// All drains the walker and returns every remaining block.
func (b *Blocks) All() [][]float64 {
	var out [][]float64
	for {
		block, ok := b.First()
		if !ok {
			return out
		}
		out = append(out, block)
		b.Advance()
	}
}
