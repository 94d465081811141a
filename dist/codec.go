package dist

import (
	"encoding/binary"
	"math"
)

// The wire helpers below are private, fixed-width encodings used only to
// move values through Transport collectives — there is no schema
// evolution concern, so plain encoding/binary suffices (the same
// justification as covertree's point file codec).

func encodeInt(v int) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(int64(v)))
	return buf
}

func decodeInt(buf []byte) int {
	return int(int64(binary.LittleEndian.Uint64(buf)))
}

func encodeInt64Append(buf []byte, v int) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(int64(v)))
	return append(buf, tmp[:]...)
}

func decodeInt64(buf []byte) (int, []byte) {
	return int(int64(binary.LittleEndian.Uint64(buf[0:8]))), buf[8:]
}

func encodeFloat64Append(buf []byte, v float64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	return append(buf, tmp[:]...)
}

func decodeFloat64(buf []byte) (float64, []byte) {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8])), buf[8:]
}

// decodeInt64Slice splits buf into groups of width int64 values each,
// returning one []int per group (used to decode splitReplicated's
// per-rank center-size gather).
func decodeInt64Slice(buf []byte, width int) [][]int {
	var out [][]int
	for len(buf) > 0 {
		group := make([]int, width)
		for i := 0; i < width; i++ {
			group[i], buf = decodeInt64(buf)
		}
		out = append(out, group)
	}
	return out
}

// encodeFloatsPrefixed encodes vs as a length-prefixed float64 array,
// self-describing so a receiver with no other context can decode it and
// find the remainder of a larger buffer.
func encodeFloatsPrefixed(vs []float64) []byte {
	buf := make([]byte, 4, 4+8*len(vs))
	binary.LittleEndian.PutUint32(buf, uint32(len(vs)))
	for _, v := range vs {
		buf = encodeFloat64Append(buf, v)
	}
	return buf
}

// decodeFloatsPrefixed reads a length-prefixed float64 array from the
// front of buf and returns it along with the unconsumed remainder.
func decodeFloatsPrefixed(buf []byte) ([]float64, []byte) {
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	buf = buf[4:]
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i], buf = decodeFloat64(buf)
	}
	return out, buf
}
