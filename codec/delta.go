package codec

import "encoding/binary"

// EncodeDeltaInt32 writes v[0] raw (4 bytes LE) followed by
// zigzag-varint-encoded successive deltas.
func EncodeDeltaInt32(v []int32) []byte {
	buf := make([]byte, 4, 4+len(v)*2)
	binary.LittleEndian.PutUint32(buf, uint32(v[0]))
	var tmp [binary.MaxVarintLen64]byte
	prev := int64(v[0])
	for i := 1; i < len(v); i++ {
		cur := int64(v[i])
		n := binary.PutVarint(tmp[:], cur-prev)
		buf = append(buf, tmp[:n]...)
		prev = cur
	}
	return buf
}

// DecodeDeltaInt32 reverses EncodeDeltaInt32, producing exactly n values.
func DecodeDeltaInt32(b []byte, n int) []int32 {
	out := make([]int32, n)
	if n == 0 {
		return out
	}
	prev := int64(int32(binary.LittleEndian.Uint32(b)))
	out[0] = int32(prev)
	off := 4
	for i := 1; i < n; i++ {
		d, sz := binary.Varint(b[off:])
		off += sz
		prev += d
		out[i] = int32(prev)
	}
	return out
}

// EncodeDeltaInt64 is EncodeDeltaInt32's 64-bit counterpart.
func EncodeDeltaInt64(v []int64) []byte {
	buf := make([]byte, 8, 8+len(v)*2)
	binary.LittleEndian.PutUint64(buf, uint64(v[0]))
	var tmp [binary.MaxVarintLen64]byte
	prev := v[0]
	for i := 1; i < len(v); i++ {
		n := binary.PutVarint(tmp[:], v[i]-prev)
		buf = append(buf, tmp[:n]...)
		prev = v[i]
	}
	return buf
}

// DecodeDeltaInt64 reverses EncodeDeltaInt64.
func DecodeDeltaInt64(b []byte, n int) []int64 {
	out := make([]int64, n)
	if n == 0 {
		return out
	}
	prev := int64(binary.LittleEndian.Uint64(b))
	out[0] = prev
	off := 8
	for i := 1; i < n; i++ {
		d, sz := binary.Varint(b[off:])
		off += sz
		prev += d
		out[i] = prev
	}
	return out
}
