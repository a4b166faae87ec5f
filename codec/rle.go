package codec

import "encoding/binary"

// EncodeRLEInt32 writes (count varuint, value fixed-4-bytes-LE) per run.
func EncodeRLEInt32(v []int32) []byte {
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte
	i := 0
	for i < len(v) {
		j := i + 1
		for j < len(v) && v[j] == v[i] {
			j++
		}
		n := binary.PutUvarint(tmp[:], uint64(j-i))
		buf = append(buf, tmp[:n]...)
		var fixed [4]byte
		binary.LittleEndian.PutUint32(fixed[:], uint32(v[i]))
		buf = append(buf, fixed[:]...)
		i = j
	}
	return buf
}

// DecodeRLEInt32 reverses EncodeRLEInt32, producing exactly n values.
func DecodeRLEInt32(b []byte, n int) []int32 {
	out := make([]int32, 0, n)
	off := 0
	for len(out) < n {
		count, sz := binary.Uvarint(b[off:])
		off += sz
		val := int32(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		for k := uint64(0); k < count; k++ {
			out = append(out, val)
		}
	}
	return out
}

// EncodeRLEInt64 is EncodeRLEInt32's 64-bit counterpart.
func EncodeRLEInt64(v []int64) []byte {
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte
	i := 0
	for i < len(v) {
		j := i + 1
		for j < len(v) && v[j] == v[i] {
			j++
		}
		n := binary.PutUvarint(tmp[:], uint64(j-i))
		buf = append(buf, tmp[:n]...)
		var fixed [8]byte
		binary.LittleEndian.PutUint64(fixed[:], uint64(v[i]))
		buf = append(buf, fixed[:]...)
		i = j
	}
	return buf
}

// DecodeRLEInt64 reverses EncodeRLEInt64.
func DecodeRLEInt64(b []byte, n int) []int64 {
	out := make([]int64, 0, n)
	off := 0
	for len(out) < n {
		count, sz := binary.Uvarint(b[off:])
		off += sz
		val := int64(binary.LittleEndian.Uint64(b[off:]))
		off += 8
		for k := uint64(0); k < count; k++ {
			out = append(out, val)
		}
	}
	return out
}

// EncodeRLEUint32 is used for dictionary-code columns, which are
// fixed-width (u32) integers eligible for RLE but never Delta
// (ChooseCode does not consider Delta).
func EncodeRLEUint32(v []uint32) []byte {
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte
	i := 0
	for i < len(v) {
		j := i + 1
		for j < len(v) && v[j] == v[i] {
			j++
		}
		n := binary.PutUvarint(tmp[:], uint64(j-i))
		buf = append(buf, tmp[:n]...)
		var fixed [4]byte
		binary.LittleEndian.PutUint32(fixed[:], v[i])
		buf = append(buf, fixed[:]...)
		i = j
	}
	return buf
}

// DecodeRLEUint32 reverses EncodeRLEUint32.
func DecodeRLEUint32(b []byte, n int) []uint32 {
	out := make([]uint32, 0, n)
	off := 0
	for len(out) < n {
		count, sz := binary.Uvarint(b[off:])
		off += sz
		val := binary.LittleEndian.Uint32(b[off:])
		off += 4
		for k := uint64(0); k < count; k++ {
			out = append(out, val)
		}
	}
	return out
}
