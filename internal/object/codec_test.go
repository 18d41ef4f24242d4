package object

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("the same line over and over\n"), 200)

	tests := []struct {
		name  string
		codec Codec
	}{
		{"none", CodecNone},
		{"zstd", CodecZstd},
		{"lz4", CodecLZ4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := encode(compressible, tt.codec)
			require.NoError(t, err)

			decoded, err := decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, compressible, decoded)

			if tt.codec != CodecNone {
				assert.Less(t, len(encoded), len(compressible))
				assert.Equal(t, byte(tt.codec), encoded[5])
			}
		})
	}
}

func TestEncodeSmallContentStaysPlain(t *testing.T) {
	content := []byte("tiny")

	encoded, err := encode(content, CodecZstd)
	require.NoError(t, err)
	assert.Equal(t, byte(CodecNone), encoded[5])

	decoded, err := decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, content, decoded)
}

func TestEncodeIncompressibleFallsBack(t *testing.T) {
	content := make([]byte, 4096)
	rng := rand.New(rand.NewSource(42))
	_, err := rng.Read(content)
	require.NoError(t, err)

	for _, codec := range []Codec{CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			encoded, err := encode(content, codec)
			require.NoError(t, err)
			assert.Equal(t, byte(CodecNone), encoded[5])

			decoded, err := decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, content, decoded)
		})
	}
}

func TestEncodeEmptyContent(t *testing.T) {
	encoded, err := encode([]byte{}, CodecZstd)
	require.NoError(t, err)

	decoded, err := decode(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestEncodeIsDeterministic(t *testing.T) {
	content := bytes.Repeat([]byte("determinism matters for rewrite\n"), 100)

	first, err := encode(content, CodecZstd)
	require.NoError(t, err)
	second, err := encode(content, CodecZstd)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecodeRejectsCorruptEnvelopes(t *testing.T) {
	valid, err := encode(bytes.Repeat([]byte("x"), 2048), CodecZstd)
	require.NoError(t, err)

	badVersion := append([]byte(nil), valid...)
	badVersion[4] = 99

	badCodec := append([]byte(nil), valid...)
	badCodec[5] = 99

	// Header declares five raw bytes but carries three.
	shortPayload := append([]byte(nil), magic[:]...)
	shortPayload = append(shortPayload, formatVersion, byte(CodecNone))
	shortPayload = binary.AppendUvarint(shortPayload, 5)
	shortPayload = append(shortPayload, "abc"...)

	// Tiny lz4 payload claiming a huge raw size.
	absurd := append([]byte(nil), magic[:]...)
	absurd = append(absurd, formatVersion, byte(CodecLZ4))
	absurd = binary.AppendUvarint(absurd, 1<<40)
	absurd = append(absurd, 0x10, 0x61)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte("vo")},
		{"wrong magic", []byte("nope" + string(valid[4:]))},
		{"unknown version", badVersion},
		{"unknown codec", badCodec},
		{"missing size", append([]byte(nil), valid[:headerLen]...)},
		{"size mismatch", shortPayload},
		{"implausible lz4 size", absurd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		name    string
		want    Codec
		wantErr bool
	}{
		{"none", CodecNone, false},
		{"zstd", CodecZstd, false},
		{"lz4", CodecLZ4, false},
		{"gzip", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCodec(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.name, got.String())
		})
	}
}
