package codec

import (
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// EncodeSnappy frames raw bytes through snappy block compression, the
// fast-path cold codec used by archival compaction for numeric
// columns that did not benefit from Delta/RLE.
func EncodeSnappy(raw []byte) []byte {
	return snappy.Encode(nil, raw)
}

// DecodeSnappy reverses EncodeSnappy.
func DecodeSnappy(b []byte) ([]byte, error) {
	return snappy.Decode(nil, b)
}

// EncodeZstd frames raw bytes through zstd, the maximum-ratio cold
// codec selected by Option(WithColdCodec(ndts.ColdZstd)).
func EncodeZstd(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// DecodeZstd reverses EncodeZstd.
func DecodeZstd(b []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(b, nil)
}
