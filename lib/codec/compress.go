package codec

/* This file contains the Codec implementations. */

import (
	"fmt"
	"sync"

	"github.com/DataDog/zstd"
	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

type noneCodec struct{}

func (noneCodec) Name() Compression { return None }

func (noneCodec) Compress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (noneCodec) Decompress(data []byte, rawLen int) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

type zstdCodec struct {
	level int
}

func (zstdCodec) Name() Compression { return Zstd }

func (c zstdCodec) Compress(data []byte) ([]byte, error) {
	return zstd.CompressLevel(nil, data, c.level)
}

func (zstdCodec) Decompress(data []byte, rawLen int) ([]byte, error) {
	if rawLen == 0 {
		return []byte{}, nil
	}
	return zstd.Decompress(make([]byte, rawLen), data)
}

// lz4 compressors keep hash tables which are expensive to allocate.
var lz4Pool = sync.Pool{
	New: func() interface{} { return &lz4.Compressor{} },
}

type lz4Codec struct{}

func (lz4Codec) Name() Compression { return LZ4 }

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))

	lc := lz4Pool.Get().(*lz4.Compressor)
	defer lz4Pool.Put(lc)

	n, err := lc.CompressBlock(data, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

func (lz4Codec) Decompress(data []byte, rawLen int) ([]byte, error) {
	if rawLen == 0 {
		return []byte{}, nil
	}
	dst := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, err
	}
	if n != rawLen {
		return nil, fmt.Errorf("lz4 block decoded to %d bytes, expected %d", n, rawLen)
	}
	return dst, nil
}

type s2Codec struct{}

func (s2Codec) Name() Compression { return S2 }

func (s2Codec) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (s2Codec) Decompress(data []byte, rawLen int) ([]byte, error) {
	n, err := s2.DecodedLen(data)
	if err != nil {
		return nil, err
	}
	if n != rawLen {
		return nil, fmt.Errorf("s2 block claims %d bytes, expected %d", n, rawLen)
	}
	return s2.Decode(make([]byte, rawLen), data)
}
