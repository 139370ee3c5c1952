package audio

// Passthrough forwards decoded blocks unchanged. It is the audio stage of a
// copy job, where the output keeps the source timeline.
type Passthrough struct {
	channels int
	consumed int
}

// NewPassthrough creates a passthrough stage for the given channel count.
func NewPassthrough(channels int) *Passthrough {
	return &Passthrough{channels: max(channels, 1)}
}

// Push returns the whole frames of interleaved unchanged.
func (p *Passthrough) Push(interleaved []int16) []int16 {
	n := len(interleaved) - len(interleaved)%p.channels
	p.consumed += n / p.channels
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	copy(out, interleaved[:n])
	return out
}

// Drain is a no-op; nothing is buffered.
func (p *Passthrough) Drain() {}

// Consumed returns the per-channel source samples pushed so far.
func (p *Passthrough) Consumed() int { return p.consumed }
