package ndts

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"

	"github.com/mgttt/ndtsdb/codec"
	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/ndtserr"
)

// ColdCodec selects the optional whole-payload archival codec applied
// by compact() when a writer carries WithColdCompression (see
// SPEC_FULL.md's domain-stack section). It supersedes the normal
// per-chunk Delta/RLE choice for the column it is applied to.
type ColdCodec int

const (
	ColdNone ColdCodec = iota
	ColdSnappy
	ColdZstd
)

// chunk wire layout:
//
//	rowCount      uint32
//	codecFlags    one byte per column
//	per column:   payloadLen uint64, payload bytes
//	chunkCRC32    uint32  (over everything above)
//
// Per-column length prefixes make each column's payload
// self-delimiting regardless of which variable-length codec
// (Delta/RLE/Snappy/Zstd) produced it — the decoder never needs to
// reconstruct consumed-byte counts from codec internals.

// EncodeChunk serializes cols[*][start:start+count) as one chunk.
// priorDictLen[i] is the length of column i's dictionary (meaningful
// only for String columns) immediately before these rows were
// appended — the chunk records only entries at or beyond that index,
// so chunks are self-sufficient: replaying them in file order from an
// empty dictionary reconstructs the exact global code space, with or
// without a prior header dictionary cache.
func EncodeChunk(schema *column.Schema, cols []*column.Buffer, start, count int, priorDictLen []int, cold ColdCodec) []byte {
	flags := make([]byte, len(schema.Fields))
	payloads := make([][]byte, len(schema.Fields))

	for i, f := range schema.Fields {
		buf := cols[i]
		var flag codec.Flag
		var raw []byte

		switch f.Kind {
		case column.Int32:
			vals := buf.Int32Slice()[start : start+count]
			if cold != ColdNone {
				flag, raw = applyCold(encodeRawI32(vals), cold)
			} else {
				flag = codec.ChooseInt32(vals)
				raw = encodeNumericI32(flag, vals)
			}
		case column.Int64:
			vals := buf.Int64Slice()[start : start+count]
			if cold != ColdNone {
				flag, raw = applyCold(encodeRawI64(vals), cold)
			} else {
				flag = codec.ChooseInt64(vals)
				raw = encodeNumericI64(flag, vals)
			}
		case column.Float32:
			vals := buf.Float32Slice()[start : start+count]
			if cold != ColdNone {
				flag, raw = applyCold(encodeRawF32(vals), cold)
			} else {
				flag, raw = codec.Raw, encodeRawF32(vals)
			}
		case column.Float64:
			vals := buf.Float64Slice()[start : start+count]
			if cold != ColdNone {
				flag, raw = applyCold(encodeRawF64(vals), cold)
			} else {
				flag, raw = codec.Raw, encodeRawF64(vals)
			}
		case column.String:
			codes := buf.CodeSlice()[start : start+count]
			ext := buf.Dict.Values()[priorDictLen[i]:]
			body := encodeDictExtension(ext)
			if cold != ColdNone {
				body = append(body, encodeRawU32(codes)...)
				flag, raw = applyCold(body, cold)
			} else {
				cflag := codec.ChooseCode(codes)
				if cflag == codec.RLE {
					body = append(body, codec.EncodeRLEUint32(codes)...)
				} else {
					body = append(body, encodeRawU32(codes)...)
				}
				flag, raw = cflag, body
			}
		}
		flags[i] = byte(flag)
		payloads[i] = raw
	}

	body := &bytes.Buffer{}
	binary.Write(body, binary.LittleEndian, uint32(count))
	body.Write(flags)
	for _, p := range payloads {
		binary.Write(body, binary.LittleEndian, uint64(len(p)))
		body.Write(p)
	}
	crc := crc32.ChecksumIEEE(body.Bytes())
	binary.Write(body, binary.LittleEndian, crc)
	return body.Bytes()
}

// DecodeChunkInto reads one chunk from r, verifies its CRC, and
// appends its decoded rows into dest (len(dest) == len(schema.Fields)).
// Returns the number of rows decoded. A clean io.EOF on the very first
// read (no partial chunk header) propagates unchanged so callers can
// detect end-of-stream.
func DecodeChunkInto(r io.Reader, schema *column.Schema, dest []*column.Buffer) (int, error) {
	acc := &bytes.Buffer{}
	tr := io.TeeReader(r, acc)

	var rc [4]byte
	if _, err := io.ReadFull(tr, rc[:]); err != nil {
		return 0, err
	}
	rowCount := binary.LittleEndian.Uint32(rc[:])

	flags := make([]byte, len(schema.Fields))
	if _, err := io.ReadFull(tr, flags); err != nil {
		return 0, ndtserr.Wrap(ndtserr.CorruptChunk, err, "reading chunk codec flags")
	}

	payloads := make([][]byte, len(schema.Fields))
	for i := range schema.Fields {
		var plen [8]byte
		if _, err := io.ReadFull(tr, plen[:]); err != nil {
			return 0, ndtserr.Wrap(ndtserr.CorruptChunk, err, "reading column payload length")
		}
		n := binary.LittleEndian.Uint64(plen[:])
		p := make([]byte, n)
		if _, err := io.ReadFull(tr, p); err != nil {
			return 0, ndtserr.Wrap(ndtserr.CorruptChunk, err, "reading column payload")
		}
		payloads[i] = p
	}

	var wantCRC uint32
	if err := binary.Read(r, binary.LittleEndian, &wantCRC); err != nil {
		return 0, ndtserr.Wrap(ndtserr.CorruptChunk, err, "reading chunk crc")
	}
	gotCRC := crc32.ChecksumIEEE(acc.Bytes())
	if gotCRC != wantCRC {
		return 0, ndtserr.New(ndtserr.CorruptChunk, "chunk CRC mismatch: want %08x got %08x", wantCRC, gotCRC)
	}

	n := int(rowCount)
	for i, f := range schema.Fields {
		flag := codec.Flag(flags[i])
		buf := dest[i]
		payload := payloads[i]

		switch f.Kind {
		case column.Int32:
			vals, err := decodeNumericI32(flag, payload, n)
			if err != nil {
				return 0, err
			}
			buf.AppendInt32Raw(vals)
		case column.Int64:
			vals, err := decodeNumericI64(flag, payload, n)
			if err != nil {
				return 0, err
			}
			buf.AppendInt64Raw(vals)
		case column.Float32:
			vals, err := decodeFixedOrColdF32(flag, payload, n)
			if err != nil {
				return 0, err
			}
			buf.AppendFloat32Raw(vals)
		case column.Float64:
			vals, err := decodeFixedOrColdF64(flag, payload, n)
			if err != nil {
				return 0, err
			}
			buf.AppendFloat64Raw(vals)
		case column.String:
			body := payload
			if flag == codec.Snappy || flag == codec.Zstd {
				raw, err := decodeCold(flag, body)
				if err != nil {
					return 0, err
				}
				body = raw
				flag = codec.Raw // the decoded body is always raw-coded beyond this point
			}
			ext, rest, err := decodeDictExtension(body)
			if err != nil {
				return 0, err
			}
			for _, s := range ext {
				buf.Dict.CodeFor(s)
			}
			var codes []uint32
			if flag == codec.RLE {
				codes = codec.DecodeRLEUint32(rest, n)
			} else {
				codes = decodeRawU32(rest, n)
			}
			buf.AppendCodesRaw(codes)
		}
	}
	return n, nil
}

func applyCold(raw []byte, cold ColdCodec) (codec.Flag, []byte) {
	switch cold {
	case ColdSnappy:
		return codec.Snappy, codec.EncodeSnappy(raw)
	case ColdZstd:
		enc, err := codec.EncodeZstd(raw)
		if err != nil {
			return codec.Raw, raw
		}
		return codec.Zstd, enc
	default:
		return codec.Raw, raw
	}
}

func decodeCold(flag codec.Flag, b []byte) ([]byte, error) {
	switch flag {
	case codec.Snappy:
		return codec.DecodeSnappy(b)
	case codec.Zstd:
		return codec.DecodeZstd(b)
	default:
		return b, nil
	}
}

// --- raw fixed-width encode/decode helpers ---

func encodeRawI32(v []int32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(x))
	}
	return out
}
func decodeRawI32(b []byte, n int) []int32 {
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = int32(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func encodeRawI64(v []int64) []byte {
	out := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(x))
	}
	return out
}
func decodeRawI64(b []byte, n int) []int64 {
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out
}

func encodeRawF32(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}
func decodeRawF32(b []byte, n int) []float32 {
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func encodeRawF64(v []float64) []byte {
	out := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(x))
	}
	return out
}
func decodeRawF64(b []byte, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out
}

func encodeRawU32(v []uint32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], x)
	}
	return out
}
func decodeRawU32(b []byte, n int) []uint32 {
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

func encodeNumericI32(flag codec.Flag, v []int32) []byte {
	switch flag {
	case codec.Delta:
		return codec.EncodeDeltaInt32(v)
	case codec.RLE:
		return codec.EncodeRLEInt32(v)
	default:
		return encodeRawI32(v)
	}
}

func decodeNumericI32(flag codec.Flag, b []byte, n int) ([]int32, error) {
	switch flag {
	case codec.Delta:
		return codec.DecodeDeltaInt32(b, n), nil
	case codec.RLE:
		return codec.DecodeRLEInt32(b, n), nil
	case codec.Raw:
		return decodeRawI32(b, n), nil
	case codec.Snappy, codec.Zstd:
		raw, err := decodeCold(flag, b)
		if err != nil {
			return nil, err
		}
		return decodeRawI32(raw, n), nil
	default:
		return nil, ndtserr.New(ndtserr.CorruptChunk, "unknown int32 codec flag %d", flag)
	}
}

func encodeNumericI64(flag codec.Flag, v []int64) []byte {
	switch flag {
	case codec.Delta:
		return codec.EncodeDeltaInt64(v)
	case codec.RLE:
		return codec.EncodeRLEInt64(v)
	default:
		return encodeRawI64(v)
	}
}

func decodeNumericI64(flag codec.Flag, b []byte, n int) ([]int64, error) {
	switch flag {
	case codec.Delta:
		return codec.DecodeDeltaInt64(b, n), nil
	case codec.RLE:
		return codec.DecodeRLEInt64(b, n), nil
	case codec.Raw:
		return decodeRawI64(b, n), nil
	case codec.Snappy, codec.Zstd:
		raw, err := decodeCold(flag, b)
		if err != nil {
			return nil, err
		}
		return decodeRawI64(raw, n), nil
	default:
		return nil, ndtserr.New(ndtserr.CorruptChunk, "unknown int64 codec flag %d", flag)
	}
}

func decodeFixedOrColdF32(flag codec.Flag, b []byte, n int) ([]float32, error) {
	if flag == codec.Snappy || flag == codec.Zstd {
		raw, err := decodeCold(flag, b)
		if err != nil {
			return nil, err
		}
		return decodeRawF32(raw, n), nil
	}
	return decodeRawF32(b, n), nil
}

func decodeFixedOrColdF64(flag codec.Flag, b []byte, n int) ([]float64, error) {
	if flag == codec.Snappy || flag == codec.Zstd {
		raw, err := decodeCold(flag, b)
		if err != nil {
			return nil, err
		}
		return decodeRawF64(raw, n), nil
	}
	return decodeRawF64(b, n), nil
}

// encodeDictExtension writes [varint count][count x (varint len, bytes)],
// the new strings a chunk introduces into its column's dictionary.
func encodeDictExtension(values []string) []byte {
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(values)))
	buf = append(buf, tmp[:n]...)
	for _, s := range values {
		n := binary.PutUvarint(tmp[:], uint64(len(s)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, s...)
	}
	return buf
}

// decodeDictExtension reverses encodeDictExtension, returning the new
// strings and the remaining unconsumed bytes (the codes array).
func decodeDictExtension(b []byte) ([]string, []byte, error) {
	count, sz := binary.Uvarint(b)
	if sz <= 0 {
		return nil, nil, ndtserr.New(ndtserr.CorruptChunk, "malformed dictionary extension count")
	}
	off := sz
	out := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		slen, sz := binary.Uvarint(b[off:])
		if sz <= 0 {
			return nil, nil, ndtserr.New(ndtserr.CorruptChunk, "malformed dictionary extension entry")
		}
		off += sz
		out = append(out, string(b[off:off+int(slen)]))
		off += int(slen)
	}
	return out, b[off:], nil
}
