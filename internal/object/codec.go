package object

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the on-disk encoding of an object's payload. The
// byte values are part of the object file format; do not renumber.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecZstd Codec = 1
	CodecLZ4  Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec maps a user-facing name to its Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return 0, fmt.Errorf("unknown codec: %q", name)
	}
}

// Object files carry a fixed envelope so raw content that happens to
// start with a compressor's magic can never be misread:
//
//	magic "vobj" | format version | codec | uvarint raw size | payload
var magic = [4]byte{'v', 'o', 'b', 'j'}

const (
	formatVersion = 1
	headerLen     = len(magic) + 2

	// Payloads below this size skip compression; codec framing eats
	// any gain.
	minCompressSize = 1024
)

var errIncompressible = errors.New("content is incompressible")

// The zstd encoder and decoder are package-level and reused: both are
// safe for concurrent EncodeAll/DecodeAll use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("object: zstd encoder init: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		panic("object: zstd decoder init: " + err.Error())
	}
}

// encode wraps content in the object envelope. Content the codec
// cannot shrink (or that is too small to bother with) is stored plain;
// the codec actually used is recorded in the header.
func encode(content []byte, codec Codec) ([]byte, error) {
	payload := content
	effective := CodecNone

	if codec != CodecNone && len(content) >= minCompressSize {
		compressed, err := compress(content, codec)
		switch {
		case errors.Is(err, errIncompressible):
			// Keep the plain payload.
		case err != nil:
			return nil, err
		default:
			payload = compressed
			effective = codec
		}
	}

	out := make([]byte, 0, headerLen+binary.MaxVarintLen64+len(payload))
	out = append(out, magic[:]...)
	out = append(out, formatVersion, byte(effective))
	out = binary.AppendUvarint(out, uint64(len(content)))
	out = append(out, payload...)
	return out, nil
}

func compress(content []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecZstd:
		compressed := zstdEncoder.EncodeAll(content, nil)
		if len(compressed) >= len(content) {
			return nil, errIncompressible
		}
		return compressed, nil

	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(content)))
		written, err := lz4.CompressBlock(content, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock reports incompressible input as zero bytes
		// written.
		if written == 0 || written >= len(content) {
			return nil, errIncompressible
		}
		return dst[:written], nil

	default:
		return nil, fmt.Errorf("unsupported codec: %d", codec)
	}
}

// decode unwraps an object envelope and returns the raw content. The
// declared raw size is verified against what the payload yields.
func decode(data []byte) ([]byte, error) {
	if len(data) < headerLen || !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, errors.New("not an object file")
	}
	if data[4] != formatVersion {
		return nil, fmt.Errorf("unsupported object format version %d", data[4])
	}
	codec := Codec(data[5])
	rawSize, n := binary.Uvarint(data[headerLen:])
	if n <= 0 {
		return nil, errors.New("truncated object header")
	}
	payload := data[headerLen+n:]

	var content []byte
	switch codec {
	case CodecNone:
		content = payload

	case CodecZstd:
		var err error
		content, err = zstdDecoder.DecodeAll(payload, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}

	case CodecLZ4:
		// An lz4 block expands at most ~255x; a header asking for more
		// is corrupt, not large.
		if rawSize > uint64(len(payload))*255+16 {
			return nil, fmt.Errorf("implausible raw size %d for %d-byte lz4 payload", rawSize, len(payload))
		}
		content = make([]byte, rawSize)
		read, err := lz4.UncompressBlock(payload, content)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawSize)
		}

	default:
		return nil, fmt.Errorf("unsupported codec: %d", codec)
	}

	if uint64(len(content)) != rawSize {
		return nil, fmt.Errorf("object size mismatch: got %d bytes, header says %d", len(content), rawSize)
	}
	return content, nil
}
