package audio

import (
	"encoding/binary"
	"math"
)

// EncodePCM16 converts float32 samples in [-1, 1] to 16-bit signed PCM.
// Samples outside the range are clamped before scaling. Negative samples
// scale by 32768 and non-negative samples by 32767, the standard asymmetric
// convention for signed 16-bit audio; -1.0 maps to -32768 and 1.0 to 32767.
func EncodePCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(math.Round(float64(s) * 32768))
		} else {
			out[i] = int16(math.Round(float64(s) * 32767))
		}
	}
	return out
}

// MarshalPCM16 serializes 16-bit samples as little-endian bytes, the layout
// playback devices and wire payloads expect.
func MarshalPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// UnmarshalPCM16 parses little-endian 16-bit PCM bytes. A trailing odd byte
// is ignored.
func UnmarshalPCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
