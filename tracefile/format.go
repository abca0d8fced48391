// Package tracefile implements the on-disk trace format: a file header
// followed by flush frames, each holding a batch of fixed layout trace
// records either compressed or raw.
package tracefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tracertl/tracertl/types"
)

const (
	// FormatVersion is bumped on any incompatible layout change
	FormatVersion uint16 = 1

	// FileHeaderSize is the size of the header at the start of a trace file
	FileHeaderSize = 32

	// FrameHeaderSize is the size of the header preceding each frame payload
	FrameHeaderSize = 16

	frameMagic byte = 'F'
)

var fileMagic = [4]byte{'T', 'R', 'T', 'L'}

var (
	ErrInvalidHeader  = errors.New("invalid trace file header")
	ErrInvalidFrame   = errors.New("invalid frame")
	ErrUnsupportedVer = errors.New("unsupported trace format version")
)

// FrameKind marks how a frame payload is stored
type FrameKind uint8

const (
	FrameRaw FrameKind = iota
	FrameZstd
	FrameSnappy
)

func (k FrameKind) String() string {
	switch k {
	case FrameRaw:
		return "raw"
	case FrameZstd:
		return "zstd"
	case FrameSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("frame(%d)", uint8(k))
	}
}

// FileHeader identifies a trace file and the session that produced it
type FileHeader struct {
	Version    uint16
	RecordSize uint16
	SessionID  uuid.UUID
	StartTime  time.Time
}

func newFileHeader(sessionID uuid.UUID, start time.Time) FileHeader {
	return FileHeader{
		Version:    FormatVersion,
		RecordSize: types.RecordSize,
		SessionID:  sessionID,
		StartTime:  start,
	}
}

// MarshalBinary implements encoding.BinaryMarshaler
func (h FileHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FileHeaderSize)

	copy(buf[0:4], fileMagic[:])
	binary.LittleEndian.PutUint16(buf[4:], h.Version)
	binary.LittleEndian.PutUint16(buf[6:], h.RecordSize)
	copy(buf[8:24], h.SessionID[:])
	binary.LittleEndian.PutUint64(buf[24:], uint64(h.StartTime.UnixNano()))

	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (h *FileHeader) UnmarshalBinary(buf []byte) error {
	if len(buf) < FileHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(buf))
	}

	if [4]byte(buf[0:4]) != fileMagic {
		return fmt.Errorf("%w: bad magic %q", ErrInvalidHeader, buf[0:4])
	}

	h.Version = binary.LittleEndian.Uint16(buf[4:])
	if h.Version != FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVer, h.Version)
	}

	h.RecordSize = binary.LittleEndian.Uint16(buf[6:])
	if h.RecordSize != types.RecordSize {
		return fmt.Errorf("%w: record size %d", ErrInvalidHeader, h.RecordSize)
	}

	sessionID, err := uuid.FromBytes(buf[8:24])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	h.SessionID = sessionID
	h.StartTime = time.Unix(0, int64(binary.LittleEndian.Uint64(buf[24:])))

	return nil
}

// frameHeader precedes every frame payload:
//
//	magic(1) kind(1) reserved(2) records(4) rawLen(4) payloadLen(4)
type frameHeader struct {
	kind       FrameKind
	records    uint32
	rawLen     uint32
	payloadLen uint32
}

// encode writes the header into the first FrameHeaderSize bytes of buf
func (h frameHeader) encode(buf []byte) {
	buf[0] = frameMagic
	buf[1] = uint8(h.kind)
	buf[2], buf[3] = 0, 0
	binary.LittleEndian.PutUint32(buf[4:], h.records)
	binary.LittleEndian.PutUint32(buf[8:], h.rawLen)
	binary.LittleEndian.PutUint32(buf[12:], h.payloadLen)
}

func (h *frameHeader) decode(buf []byte) error {
	if len(buf) < FrameHeaderSize || buf[0] != frameMagic {
		return fmt.Errorf("%w: bad frame marker", ErrInvalidFrame)
	}

	h.kind = FrameKind(buf[1])
	if h.kind > FrameSnappy {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidFrame, buf[1])
	}

	h.records = binary.LittleEndian.Uint32(buf[4:])
	h.rawLen = binary.LittleEndian.Uint32(buf[8:])
	h.payloadLen = binary.LittleEndian.Uint32(buf[12:])

	if uint64(h.records)*types.RecordSize != uint64(h.rawLen) {
		return fmt.Errorf("%w: %d records in %d bytes", ErrInvalidFrame, h.records, h.rawLen)
	}

	if h.kind == FrameRaw && h.payloadLen != h.rawLen {
		return fmt.Errorf("%w: raw frame length mismatch", ErrInvalidFrame)
	}

	return nil
}
