package manager

import (
	"encoding/binary"
	"math"
)

// pcm16ToFloat32 converts 16-bit little-endian mono PCM to samples in
// [-1, 1]. A trailing odd byte is dropped.
func pcm16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / math.MaxInt16
	}
	return out
}
