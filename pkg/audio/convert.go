// Package audio implements C1 Audio Source: device capture, sample-format
// conversion, down-mixing, and resampling to the fixed 16kHz mono i16 target
// format (spec §4.1).
package audio

import "math"

// F32ToI16 clamps x to [-1.0, 1.0] before scaling, and maps NaN/±Inf to
// ±32767 rather than producing undefined results on cast (spec §8).
func F32ToI16(x float32) int16 {
	f := float64(x)
	switch {
	case math.IsNaN(f):
		return 32767
	case math.IsInf(f, 1) || f >= 1.0:
		return 32767
	case math.IsInf(f, -1) || f <= -1.0:
		return -32767
	}
	return int16(math.Round(f * 32767.0))
}

// StereoToMono down-mixes interleaved stereo i16 samples to mono by
// averaging each pair through a wider accumulator, avoiding i16 overflow
// (spec §4.1 edge case).
func StereoToMono(interleaved []int16) []int16 {
	mono := make([]int16, len(interleaved)/2)
	for i := range mono {
		l := int32(interleaved[2*i])
		r := int32(interleaved[2*i+1])
		mono[i] = int16((l + r) / 2)
	}
	return mono
}

// InterleaveStereo is the inverse of StereoToMono for identical channels:
// it duplicates each mono sample into an L/R pair. Used by tests to assert
// the round-trip invariant in spec §8.
func InterleaveStereo(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}

// EncodeLE16 serialises i16 samples as little-endian bytes.
func EncodeLE16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		u := uint16(s)
		out[2*i] = byte(u)
		out[2*i+1] = byte(u >> 8)
	}
	return out
}

// DecodeLE16 is the inverse of EncodeLE16.
func DecodeLE16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		u := uint16(b[2*i]) | uint16(b[2*i+1])<<8
		out[i] = int16(u)
	}
	return out
}

// I16ToF32 converts back to the [-1.0, 1.0] float domain the resampler
// operates in.
func I16ToF32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32767.0
	}
	return out
}
