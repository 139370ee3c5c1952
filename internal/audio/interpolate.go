package audio

import "math"

// Interpolate resamples buf at the fractional positions in control using
// linear interpolation between neighbouring samples:
//
//	out[n] = buf[i] + f*(buf[i+1]-buf[i]), i = trunc(control[n]), f = control[n]-i
//
// Positions that read past the end of buf see zeros, which lets the final
// block of a curve land exactly on the last sample. Results are rounded to
// the nearest integer and saturated to int16.
func Interpolate(buf []int16, control []float64) []int16 {
	if len(control) == 0 {
		return nil
	}
	at := func(i int) float64 {
		if i < 0 || i >= len(buf) {
			return 0
		}
		return float64(buf[i])
	}
	out := make([]int16, len(control))
	for n, x := range control {
		whole := math.Trunc(x)
		i := int(whole)
		f := x - whole
		a := at(i)
		if f == 0 {
			out[n] = clip16(a)
			continue
		}
		out[n] = clip16(a + f*(at(i+1)-a))
	}
	return out
}
