// Package ndts implements the on-disk .ndts append-log format: a
// self-describing header followed by CRC-protected chunks, each
// holding a batch of rows with per-column opportunistic compression
// and dictionary-extension blocks for string columns.
package ndts

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/ndtserr"
)

// json is a drop-in, faster encoding/json replacement used for the
// header's self-describing schema and dictionary blocks — a direct
// dependency of the teacher repo, used the same way Erigon uses it
// for its own JSON-heavy surfaces.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Magic identifies a .ndts file. Version is bumped whenever the wire
// format changes incompatibly; DecodeHeader hard-errors on a version
// it does not recognize.
var Magic = [4]byte{'N', 'D', 'T', 'S'}

const CurrentVersion uint16 = 1

// Header is the file's self-describing preamble. TotalRows/ChunkCount
// reflect the state as of the last successful Close(); mid-session
// (pre-close) truth is derived by scanning chunks, not by trusting
// this cached snapshot (see ReadAllRaw).
type Header struct {
	Version    uint16
	Flags      uint16
	Schema     *column.Schema
	TotalRows  uint64
	ChunkCount uint32
	// Dicts is a cache of each string column's dictionary as of the
	// last close(); chunks written after are self-sufficient (each
	// carries its own dictionary-extension block), so a stale Dicts
	// snapshot never causes data loss, only an extra merge step.
	Dicts map[string][]string
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(b)))
	buf.Write(lenBytes[:])
	buf.Write(b)
}

func readLenPrefixed(r io.Reader, acc *bytes.Buffer) ([]byte, error) {
	var lenBytes [4]byte
	if _, err := io.ReadFull(io.TeeReader(r, acc), lenBytes[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBytes[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(io.TeeReader(r, acc), b); err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeHeader serializes h into the on-disk header layout, including
// the trailing header CRC32.
func EncodeHeader(h *Header) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Write(Magic[:])
	binary.Write(buf, binary.LittleEndian, h.Version)
	binary.Write(buf, binary.LittleEndian, h.Flags)

	schemaBytes, err := json.Marshal(h.Schema.Fields)
	if err != nil {
		return nil, err
	}
	writeLenPrefixed(buf, schemaBytes)

	binary.Write(buf, binary.LittleEndian, h.TotalRows)
	binary.Write(buf, binary.LittleEndian, h.ChunkCount)

	dictBytes, err := json.Marshal(h.Dicts)
	if err != nil {
		return nil, err
	}
	writeLenPrefixed(buf, dictBytes)

	crc := crc32.ChecksumIEEE(buf.Bytes())
	binary.Write(buf, binary.LittleEndian, crc)
	return buf.Bytes(), nil
}

// DecodeHeader reads and validates a header from r, returning
// CorruptHeader on a CRC mismatch, on truncation, and on an
// unrecognized magic/version (a hard, non-recoverable format
// error per spec §6).
func DecodeHeader(r io.Reader) (*Header, error) {
	acc := &bytes.Buffer{}

	var magic [4]byte
	if _, err := io.ReadFull(io.TeeReader(r, acc), magic[:]); err != nil {
		return nil, ndtserr.Wrap(ndtserr.CorruptHeader, err, "reading magic")
	}
	if magic != Magic {
		return nil, ndtserr.New(ndtserr.CorruptHeader, "bad magic %q, not a .ndts file", magic[:])
	}

	var version, flags uint16
	if err := binary.Read(io.TeeReader(r, acc), binary.LittleEndian, &version); err != nil {
		return nil, ndtserr.Wrap(ndtserr.CorruptHeader, err, "reading version")
	}
	if version != CurrentVersion {
		return nil, ndtserr.New(ndtserr.CorruptHeader, "unsupported .ndts version %d", version)
	}
	if err := binary.Read(io.TeeReader(r, acc), binary.LittleEndian, &flags); err != nil {
		return nil, ndtserr.Wrap(ndtserr.CorruptHeader, err, "reading flags")
	}

	schemaBytes, err := readLenPrefixed(r, acc)
	if err != nil {
		return nil, ndtserr.Wrap(ndtserr.CorruptHeader, err, "reading schema block")
	}
	var fields []column.Field
	if err := json.Unmarshal(schemaBytes, &fields); err != nil {
		return nil, ndtserr.Wrap(ndtserr.CorruptHeader, err, "decoding schema json")
	}
	for i, f := range fields {
		k, ok := column.ParseKind(f.KindName)
		if !ok {
			return nil, ndtserr.New(ndtserr.CorruptHeader, "unknown column kind %q", f.KindName)
		}
		fields[i].Kind = k
	}
	schema, err := column.NewSchema(fields...)
	if err != nil {
		return nil, ndtserr.Wrap(ndtserr.CorruptHeader, err, "rebuilding schema")
	}

	var totalRows uint64
	var chunkCount uint32
	if err := binary.Read(io.TeeReader(r, acc), binary.LittleEndian, &totalRows); err != nil {
		return nil, ndtserr.Wrap(ndtserr.CorruptHeader, err, "reading totalRows")
	}
	if err := binary.Read(io.TeeReader(r, acc), binary.LittleEndian, &chunkCount); err != nil {
		return nil, ndtserr.Wrap(ndtserr.CorruptHeader, err, "reading chunkCount")
	}

	dictBytes, err := readLenPrefixed(r, acc)
	if err != nil {
		return nil, ndtserr.Wrap(ndtserr.CorruptHeader, err, "reading dictionary block")
	}
	dicts := map[string][]string{}
	if len(dictBytes) > 0 {
		if err := json.Unmarshal(dictBytes, &dicts); err != nil {
			return nil, ndtserr.Wrap(ndtserr.CorruptHeader, err, "decoding dictionary json")
		}
	}

	var wantCRC uint32
	if err := binary.Read(r, binary.LittleEndian, &wantCRC); err != nil {
		return nil, ndtserr.Wrap(ndtserr.CorruptHeader, err, "reading header crc")
	}
	gotCRC := crc32.ChecksumIEEE(acc.Bytes())
	if gotCRC != wantCRC {
		return nil, ndtserr.New(ndtserr.CorruptHeader, "header CRC mismatch: want %08x got %08x", wantCRC, gotCRC)
	}

	return &Header{
		Version:    version,
		Flags:      flags,
		Schema:     schema,
		TotalRows:  totalRows,
		ChunkCount: chunkCount,
		Dicts:      dicts,
	}, nil
}

// HeaderLen returns the encoded byte length of h, used by callers that
// need to know where the chunk stream begins.
func HeaderLen(h *Header) (int, error) {
	b, err := EncodeHeader(h)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
