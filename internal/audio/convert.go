package audio

import "math"

// ConvertSample maps one float32 sample onto signed 16-bit PCM.
//
// Input is clamped to [-1, 1]; positive values scale by 0x7FFF and negative
// values by 0x8000 so both extremes are reachable. NaN maps to silence.
func ConvertSample(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// ConvertSamples converts a block of float32 samples.
func ConvertSamples(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		out[i] = ConvertSample(s)
	}
	return out
}
