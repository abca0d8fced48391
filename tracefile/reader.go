package tracefile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tracertl/tracertl/types"
)

// maxPayloadLen bounds a single frame payload read, matching the largest
// raw frame the writer can produce
const maxPayloadLen = maxFrameRecords * types.RecordSize

// Frame is one decoded flush frame
type Frame struct {
	Kind        FrameKind
	Offset      int64
	StoredBytes int
	Records     []types.TraceRecord
}

// Reader decodes a trace file frame by frame
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
	header FileHeader
	offset int64

	dec     decoders
	payload []byte
	raw     []byte
}

// NewReader reads and validates the file header from r
func NewReader(r io.Reader) (*Reader, error) {
	rd := &Reader{
		r: bufio.NewReader(r),
	}

	buf := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	if err := rd.header.UnmarshalBinary(buf); err != nil {
		return nil, err
	}

	rd.offset = FileHeaderSize

	return rd, nil
}

// Open opens the trace file at path
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	rd, err := NewReader(f)
	if err != nil {
		f.Close()

		return nil, err
	}

	rd.closer = f

	return rd, nil
}

// Header returns the file header
func (rd *Reader) Header() FileHeader {
	return rd.header
}

// Next decodes the next frame. It returns io.EOF after the last frame.
// A file truncated inside a frame yields io.ErrUnexpectedEOF.
func (rd *Reader) Next() (*Frame, error) {
	var hbuf [FrameHeaderSize]byte

	// io.ReadFull reports a clean end of file as io.EOF
	if _, err := io.ReadFull(rd.r, hbuf[:]); err != nil {
		return nil, err
	}

	var h frameHeader
	if err := h.decode(hbuf[:]); err != nil {
		return nil, fmt.Errorf("offset %d: %w", rd.offset, err)
	}

	if h.payloadLen > maxPayloadLen {
		return nil, fmt.Errorf("offset %d: %w: payload of %d bytes", rd.offset, ErrInvalidFrame, h.payloadLen)
	}

	if cap(rd.payload) < int(h.payloadLen) {
		rd.payload = make([]byte, h.payloadLen)
	}

	rd.payload = rd.payload[:h.payloadLen]

	if _, err := io.ReadFull(rd.r, rd.payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}

		return nil, err
	}

	raw, err := rd.dec.decode(h.kind, rd.raw[:0], rd.payload)
	if err != nil {
		return nil, fmt.Errorf("offset %d: %s frame: %w", rd.offset, h.kind, err)
	}

	rd.raw = raw

	if len(raw) != int(h.rawLen) {
		return nil, fmt.Errorf("offset %d: %w: decoded %d bytes, expected %d", rd.offset, ErrInvalidFrame, len(raw), h.rawLen)
	}

	records, err := types.DecodeRecords(make([]types.TraceRecord, 0, h.records), raw)
	if err != nil {
		return nil, fmt.Errorf("offset %d: %w", rd.offset, err)
	}

	frame := &Frame{
		Kind:        h.kind,
		Offset:      rd.offset,
		StoredBytes: int(h.payloadLen),
		Records:     records,
	}

	rd.offset += FrameHeaderSize + int64(h.payloadLen)

	return frame, nil
}

// ForEach calls fn for every record in file order
func (rd *Reader) ForEach(fn func(frame *Frame, record *types.TraceRecord) error) error {
	for {
		frame, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		for i := range frame.Records {
			if err := fn(frame, &frame.Records[i]); err != nil {
				return err
			}
		}
	}
}

// ReadAll decodes every remaining record
func (rd *Reader) ReadAll() ([]types.TraceRecord, error) {
	var records []types.TraceRecord

	err := rd.ForEach(func(_ *Frame, r *types.TraceRecord) error {
		records = append(records, *r)

		return nil
	})

	return records, err
}

// Close releases the decoder and the underlying file, if opened by Open
func (rd *Reader) Close() error {
	rd.dec.close()

	if rd.closer != nil {
		return rd.closer.Close()
	}

	return nil
}
