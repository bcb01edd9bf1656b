/*package codec turns exchange payloads into bytes and back.

Scalars are written little-endian with a fixed width per type (int travels as
a 64-bit integer). Each payload which leaves a process is then sealed into a
frame: a small header followed by the (optionally compressed) body.

   offset  size  contents
   0       2     magic, 0x4d53 ("MS")
   2       1     compression id
   3       1     reserved, zero
   4       4     uncompressed body length
   8       8     xxhash64 of the uncompressed body
   16      ...   body
*/
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Compression names a compression algorithm.
type Compression string

const (
	None Compression = "none"
	Zstd Compression = "zstd"
	LZ4  Compression = "lz4"
	S2   Compression = "s2"
)

// ids are stored in frame headers. They must never be renumbered.
var compressionIDs = map[Compression]byte{None: 0, Zstd: 1, LZ4: 2, S2: 3}

// Codec compresses and decompresses frame bodies. Implementations are
// stateless and safe for concurrent use.
type Codec interface {
	// Name returns the compression algorithm used by the codec.
	Name() Compression
	// Compress returns a compressed copy of data.
	Compress(data []byte) ([]byte, error)
	// Decompress reverses Compress. rawLen is the length of the original data.
	Decompress(data []byte, rawLen int) ([]byte, error)
}

var builtinCodecs = map[Compression]Codec{
	None: noneCodec{},
	Zstd: zstdCodec{level: 3},
	LZ4:  lz4Codec{},
	S2:   s2Codec{},
}

// Get returns the Codec for a compression name. The empty name is None.
func Get(c Compression) (Codec, error) {
	if c == "" {
		c = None
	}
	codec, ok := builtinCodecs[c]
	if !ok {
		return nil, fmt.Errorf("'%s' is not a valid compression. Only 'none', 'zstd', 'lz4', and 's2' are valid.", c)
	}
	return codec, nil
}

const (
	magic      uint16 = 0x4d53
	headerSize        = 16

	// MaxPayloadSize is the largest payload which can be sealed into a frame.
	MaxPayloadSize = 1 << 30
)

var (
	// ErrCorruptFrame is returned by Open for frames which were damaged or
	// were never frames.
	ErrCorruptFrame = errors.New("corrupt frame")
)

// Seal compresses payload with c and prepends a frame header.
func Seal(c Codec, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload of %d bytes is larger than the %d byte limit", len(payload), MaxPayloadSize)
	}
	body, err := c.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("compressing %d bytes with %s: %w", len(payload), c.Name(), err)
	}

	frame := make([]byte, headerSize, headerSize+len(body))
	binary.LittleEndian.PutUint16(frame[0:], magic)
	frame[2] = compressionIDs[c.Name()]
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(frame[8:], xxhash.Sum64(payload))
	return append(frame, body...), nil
}

// Open checks a frame produced by Seal and returns its payload.
func Open(c Codec, frame []byte) ([]byte, error) {
	if len(frame) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a header", ErrCorruptFrame, len(frame))
	}
	if m := binary.LittleEndian.Uint16(frame[0:]); m != magic {
		return nil, fmt.Errorf("%w: magic number is 0x%x", ErrCorruptFrame, m)
	}
	if id := frame[2]; id != compressionIDs[c.Name()] {
		return nil, fmt.Errorf("%w: frame has compression id %d, but this rank uses %s", ErrCorruptFrame, id, c.Name())
	}
	rawLen := int(binary.LittleEndian.Uint32(frame[4:]))
	sum := binary.LittleEndian.Uint64(frame[8:])
	// Bound what an unverified header can make Decompress allocate.
	if rawLen > MaxPayloadSize {
		return nil, fmt.Errorf("%w: header claims %d bytes, more than the %d byte limit", ErrCorruptFrame, rawLen, MaxPayloadSize)
	}

	payload, err := c.Decompress(frame[headerSize:], rawLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptFrame, err.Error())
	}
	if len(payload) != rawLen {
		return nil, fmt.Errorf("%w: body has %d bytes, header says %d", ErrCorruptFrame, len(payload), rawLen)
	}
	if xxhash.Sum64(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptFrame)
	}
	return payload, nil
}
