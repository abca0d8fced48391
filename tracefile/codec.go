package tracefile

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

const (
	CodecZstd   = "zstd"
	CodecSnappy = "snappy"
	CodecNone   = "none"
)

var (
	ErrUnknownCodec    = errors.New("unknown codec")
	ErrUnknownLevel    = errors.New("unknown compression level")
	ErrPayloadTooLarge = errors.New("payload too large to compress")
)

// Codec compresses frame payloads. A Codec holds a reusable compression
// context and is not safe for concurrent use; the Writer serializes access.
type Codec interface {
	// Kind is the frame kind written for payloads this codec compressed
	Kind() FrameKind

	// Compress appends the compressed form of src to dst
	Compress(dst, src []byte) ([]byte, error)

	// Close releases the compression context
	Close() error
}

// NewCodec allocates the compression context for the named codec.
// level is only meaningful for zstd and may be empty.
func NewCodec(name, level string) (Codec, error) {
	switch strings.ToLower(name) {
	case CodecZstd, "":
		return newZstdCodec(level)
	case CodecSnappy:
		return &snappyCodec{}, nil
	case CodecNone:
		return nopCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}
}

// zstdCodec reuses one streaming encoder across flushes
type zstdCodec struct {
	enc *zstd.Encoder
	out bytes.Buffer
}

func newZstdCodec(level string) (*zstdCodec, error) {
	encLevel := zstd.SpeedDefault

	if level != "" {
		ok, parsed := zstd.EncoderLevelFromString(level)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownLevel, level)
		}

		encLevel = parsed
	}

	enc, err := zstd.NewWriter(
		nil,
		zstd.WithEncoderLevel(encLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to allocate zstd encoder: %w", err)
	}

	return &zstdCodec{enc: enc}, nil
}

func (c *zstdCodec) Kind() FrameKind {
	return FrameZstd
}

func (c *zstdCodec) Compress(dst, src []byte) ([]byte, error) {
	c.out.Reset()
	c.enc.Reset(&c.out)

	if _, err := c.enc.Write(src); err != nil {
		return dst, err
	}

	if err := c.enc.Close(); err != nil {
		return dst, err
	}

	return append(dst, c.out.Bytes()...), nil
}

func (c *zstdCodec) Close() error {
	// the encoder must point at a live buffer before Close
	c.out.Reset()
	c.enc.Reset(&c.out)

	return c.enc.Close()
}

type snappyCodec struct {
	scratch []byte
}

func (c *snappyCodec) Kind() FrameKind {
	return FrameSnappy
}

func (c *snappyCodec) Compress(dst, src []byte) ([]byte, error) {
	n := snappy.MaxEncodedLen(len(src))
	if n < 0 {
		return dst, ErrPayloadTooLarge
	}

	if cap(c.scratch) < n {
		c.scratch = make([]byte, n)
	}

	return append(dst, snappy.Encode(c.scratch[:n], src)...), nil
}

func (c *snappyCodec) Close() error {
	c.scratch = nil

	return nil
}

// nopCodec stores every frame raw
type nopCodec struct{}

func (nopCodec) Kind() FrameKind {
	return FrameRaw
}

func (nopCodec) Compress(dst, src []byte) ([]byte, error) {
	return append(dst, src...), nil
}

func (nopCodec) Close() error {
	return nil
}

// decoders turns frame payloads back into raw record bytes. A payload
// may not expand past limit bytes, zero means maxPayloadLen.
type decoders struct {
	zstd  *zstd.Decoder
	limit uint64
}

func (d *decoders) maxRaw() uint64 {
	if d.limit == 0 {
		return maxPayloadLen
	}

	return d.limit
}

func (d *decoders) decode(kind FrameKind, dst, payload []byte) ([]byte, error) {
	switch kind {
	case FrameRaw:
		return append(dst, payload...), nil
	case FrameSnappy:
		n, err := snappy.DecodedLen(payload)
		if err != nil {
			return dst, err
		}

		if uint64(n) > d.maxRaw() {
			return dst, fmt.Errorf("%w: snappy payload expands to %d bytes", ErrInvalidFrame, n)
		}

		out, err := snappy.Decode(make([]byte, n), payload)
		if err != nil {
			return dst, err
		}

		return append(dst, out...), nil
	case FrameZstd:
		if d.zstd == nil {
			dec, err := zstd.NewReader(
				nil,
				zstd.WithDecoderConcurrency(1),
				zstd.WithDecoderMaxMemory(d.maxRaw()),
			)
			if err != nil {
				return dst, err
			}

			d.zstd = dec
		}

		return d.zstd.DecodeAll(payload, dst)
	default:
		return dst, fmt.Errorf("%w: unknown kind %d", ErrInvalidFrame, kind)
	}
}

func (d *decoders) close() {
	if d.zstd != nil {
		d.zstd.Close()
		d.zstd = nil
	}
}
