package audio

// Window is the per-channel sliding buffer of source samples that have been
// decoded but not yet fully consumed. All channels always hold the same
// number of samples; trimming drops the same count from every channel.
//
// Front trims only advance a head offset. The backing arrays are compacted on
// append once the dead prefix dominates, keeping trims O(1) amortised.
type Window struct {
	channels [][]int16
	head     int
}

// NewWindow creates an empty window for the given channel count.
func NewWindow(channels int) *Window {
	return &Window{channels: make([][]int16, channels)}
}

// Channels returns the channel count.
func (w *Window) Channels() int {
	return len(w.channels)
}

// Len returns the number of buffered samples per channel.
func (w *Window) Len() int {
	if len(w.channels) == 0 {
		return 0
	}
	return len(w.channels[0]) - w.head
}

// Append adds de-interleaved samples to the back of each channel. The slices
// must be of equal length, as Deinterleave returns them; a mismatched channel
// count is ignored.
func (w *Window) Append(perChannel [][]int16) {
	if len(perChannel) != len(w.channels) {
		return
	}
	w.compact()
	for c := range w.channels {
		w.channels[c] = append(w.channels[c], perChannel[c]...)
	}
}

// Trim drops n samples from the front of every channel. Trimming more than
// Len empties the window.
func (w *Window) Trim(n int) {
	if n <= 0 {
		return
	}
	if n >= w.Len() {
		for c := range w.channels {
			w.channels[c] = w.channels[c][:0]
		}
		w.head = 0
		return
	}
	w.head += n
}

// Channel returns the live samples of channel c. The slice aliases the
// window and is only valid until the next Append or Trim.
func (w *Window) Channel(c int) []int16 {
	return w.channels[c][w.head:]
}

func (w *Window) compact() {
	if w.head == 0 || len(w.channels) == 0 {
		return
	}
	if w.head < len(w.channels[0])/2 {
		return
	}
	for c, ch := range w.channels {
		n := copy(ch, ch[w.head:])
		w.channels[c] = ch[:n]
	}
	w.head = 0
}
