package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects how cached entries are stored on disk.
type Codec uint8

const (
	// CodecNone stores entries verbatim.
	CodecNone Codec = 0
	// CodecLZ4 favors speed for hot objects.
	CodecLZ4 Codec = 1
	// CodecZSTD favors ratio for large cold objects.
	CodecZSTD Codec = 2
)

// ParseCodec maps a configuration value to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZSTD, nil
	default:
		return CodecNone, fmt.Errorf("unknown cache codec %q", name)
	}
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Entry layout: [codec uint8][uncompressed size uint32][payload...]
// An incompressible payload is stored with CodecNone regardless of the
// configured codec.
const entryHeaderSize = 5

var errCorruptEntry = errors.New("cache: corrupt entry")

func encodeEntry(data []byte, codec Codec) ([]byte, error) {
	var payload []byte

	switch codec {
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			payload = dst[:n]
		}
	case CodecZSTD:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	if payload == nil || len(payload) >= len(data) {
		codec = CodecNone
		payload = data
	}

	out := make([]byte, entryHeaderSize+len(payload))
	out[0] = byte(codec)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	copy(out[entryHeaderSize:], payload)
	return out, nil
}

func decodeEntry(raw []byte) ([]byte, error) {
	if len(raw) < entryHeaderSize {
		return nil, errCorruptEntry
	}

	codec := Codec(raw[0])
	size := binary.LittleEndian.Uint32(raw[1:])
	payload := raw[entryHeaderSize:]

	switch codec {
	case CodecNone:
		if uint32(len(payload)) != size {
			return nil, errCorruptEntry
		}
		return payload, nil

	case CodecLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("cache: lz4: %w", err)
		}
		if uint32(n) != size {
			return nil, errCorruptEntry
		}
		return out, nil

	case CodecZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("cache: zstd: %w", err)
		}
		if uint32(len(out)) != size {
			return nil, errCorruptEntry
		}
		return out, nil

	default:
		return nil, errCorruptEntry
	}
}
