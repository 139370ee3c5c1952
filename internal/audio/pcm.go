package audio

import (
	"encoding/binary"
	"math"
)

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToSamples converts little-endian s16 bytes to samples. A trailing odd
// byte is ignored.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// Deinterleave splits interleaved samples into one slice per channel.
// Samples of an incomplete trailing frame are dropped.
func Deinterleave(interleaved []int16, channels int) [][]int16 {
	if channels <= 0 {
		return nil
	}
	frames := len(interleaved) / channels
	out := make([][]int16, channels)
	for c := range out {
		ch := make([]int16, frames)
		for i := 0; i < frames; i++ {
			ch[i] = interleaved[c+i*channels]
		}
		out[c] = ch
	}
	return out
}

// Interleave merges per-channel slices into one interleaved slice, truncated
// to the shortest channel.
func Interleave(channels [][]int16) []int16 {
	if len(channels) == 0 {
		return nil
	}
	if len(channels) == 1 {
		return channels[0]
	}
	size := math.MaxInt
	for _, ch := range channels {
		size = min(size, len(ch))
	}
	if size == 0 {
		return nil
	}
	out := make([]int16, 0, size*len(channels))
	for j := 0; j < size; j++ {
		for _, ch := range channels {
			out = append(out, ch[j])
		}
	}
	return out
}

// clip16 rounds v to the nearest integer and saturates it to the int16 range.
func clip16(v float64) int16 {
	v = math.RoundToEven(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
