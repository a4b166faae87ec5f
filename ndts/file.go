package ndts

import (
	"errors"
	"io"

	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/ndtserr"
)

// ReadAllRaw decodes the header and replays every chunk in r until
// EOF, returning live Buffers for each schema column. TotalRows and
// ChunkCount on the returned Header are overwritten with counts
// actually observed during the scan — the header's own cached values
// are only a snapshot as of the last Close() and may undercount a
// file that crashed mid-session; the chunk stream itself is always
// authoritative.
func ReadAllRaw(r io.Reader) (*Header, []*column.Buffer, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return nil, nil, err
	}
	bufs := make([]*column.Buffer, len(h.Schema.Fields))
	for i, f := range h.Schema.Fields {
		bufs[i] = column.NewBuffer(f.Kind, 64)
	}

	var totalRows uint64
	var chunkCount uint32
	for {
		n, err := DecodeChunkInto(r, h.Schema, bufs)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, ndtserr.Wrap(ndtserr.CorruptChunk, err, "reading chunk %d", chunkCount)
		}
		totalRows += uint64(n)
		chunkCount++
	}
	h.TotalRows = totalRows
	h.ChunkCount = chunkCount
	return h, bufs, nil
}

// VerifyResult reports the outcome of a read-only integrity pass.
type VerifyResult struct {
	OK          bool
	HeaderError error
	ChunkErrors map[int]error
	RowCount    int
	ChunkCount  int
}

// Verify performs a read-only scan of r, reporting every corrupt
// chunk it finds by index rather than aborting at the first one. A
// header decode failure is fatal (there is no chunk stream to scan
// without it) and is reported via HeaderError with OK=false.
//
// Corruption that only flips bytes inside an otherwise well-formed
// chunk (bad CRC) is recoverable: the chunk's declared lengths are
// still intact, so the scan can skip past it and keep checking later
// chunks. Truncation — a chunk whose declared payload length runs
// past EOF — is not recoverable and stops the scan, since there is no
// way to know where the next chunk would have begun.
func Verify(r io.Reader) (*VerifyResult, error) {
	res := &VerifyResult{ChunkErrors: map[int]error{}}

	h, err := DecodeHeader(r)
	if err != nil {
		res.HeaderError = err
		return res, nil
	}

	bufs := make([]*column.Buffer, len(h.Schema.Fields))
	for i, f := range h.Schema.Fields {
		bufs[i] = column.NewBuffer(f.Kind, 64)
	}

	idx := 0
	for {
		n, err := DecodeChunkInto(r, h.Schema, bufs)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if isRecoverableChunkError(err) {
				res.ChunkErrors[idx] = err
				idx++
				continue
			}
			res.ChunkErrors[idx] = err
			break
		}
		res.RowCount += n
		res.ChunkCount++
		idx++
	}
	res.OK = len(res.ChunkErrors) == 0
	return res, nil
}

// isRecoverableChunkError reports whether the chunk's bytes were
// fully consumed despite the error (a CRC mismatch on well-formed
// framing), as opposed to a truncated read that leaves the stream
// position ambiguous.
func isRecoverableChunkError(err error) bool {
	e, ok := ndtserr.As(err)
	if !ok || e.Kind != ndtserr.CorruptChunk {
		return false
	}
	return e.Unwrap() == nil
}
