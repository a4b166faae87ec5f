// Package codec implements the lightweight, opportunistic column
// compression used inside .ndts chunk payloads: delta+zigzag+varint
// for monotone integer columns, run-length encoding for repetitive
// fixed-width integer columns (including dictionary codes), and two
// "cold" whole-payload codecs (snappy, zstd) used by archival
// compaction for columns that don't benefit from delta/RLE.
package codec

// Flag identifies which codec, if any, was applied to a column's
// payload bytes inside a chunk. It is persisted verbatim as the
// chunk header's per-column codecFlags byte.
type Flag uint8

const (
	Raw Flag = iota
	Delta
	RLE
	Snappy
	Zstd
)

func (f Flag) String() string {
	switch f {
	case Raw:
		return "raw"
	case Delta:
		return "delta"
	case RLE:
		return "rle"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ChooseInt32 picks RLE when runs are dense (run count < rows/4),
// otherwise Delta for non-decreasing values, otherwise Raw — the
// policy spec.md §9 leaves open beyond "opportunistic".
func ChooseInt32(values []int32) Flag {
	if len(values) < 2 {
		return Raw
	}
	if runCountInt32(values)*4 < len(values) {
		return RLE
	}
	if isMonotonicInt32(values) {
		return Delta
	}
	return Raw
}

// ChooseInt64 mirrors ChooseInt32 for 64-bit integer columns.
func ChooseInt64(values []int64) Flag {
	if len(values) < 2 {
		return Raw
	}
	if runCountInt64(values)*4 < len(values) {
		return RLE
	}
	if isMonotonicInt64(values) {
		return Delta
	}
	return Raw
}

// ChooseCode picks RLE for dictionary-code columns with dense runs
// (run count < rows/4), otherwise Raw; Delta is never chosen for code
// columns.
func ChooseCode(values []uint32) Flag {
	if len(values) < 2 {
		return Raw
	}
	if runCountUint32(values)*4 < len(values) {
		return RLE
	}
	return Raw
}

func isMonotonicInt32(v []int32) bool {
	for i := 1; i < len(v); i++ {
		if v[i] < v[i-1] {
			return false
		}
	}
	return true
}

func isMonotonicInt64(v []int64) bool {
	for i := 1; i < len(v); i++ {
		if v[i] < v[i-1] {
			return false
		}
	}
	return true
}

func runCountInt32(v []int32) int {
	n := 1
	for i := 1; i < len(v); i++ {
		if v[i] != v[i-1] {
			n++
		}
	}
	return n
}

func runCountInt64(v []int64) int {
	n := 1
	for i := 1; i < len(v); i++ {
		if v[i] != v[i-1] {
			n++
		}
	}
	return n
}

func runCountUint32(v []uint32) int {
	n := 1
	for i := 1; i < len(v); i++ {
		if v[i] != v[i-1] {
			n++
		}
	}
	return n
}
