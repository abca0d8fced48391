package tracefile

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/tracertl/tracertl/types"
)

var (
	ErrWriterClosed  = errors.New("trace writer closed")
	ErrBatchTooLarge = errors.New("batch exceeds frame size limit")
	ErrWriterFailed  = errors.New("trace writer failed")
)

// truncater is a sink that can discard a partially written frame, *os.File
// implements it
type truncater interface {
	io.Seeker
	Truncate(size int64) error
}

// maxFrameRecords keeps the raw frame length inside the 32-bit header field
const maxFrameRecords = math.MaxUint32 / types.RecordSize

// FlushStats describes one written frame
type FlushStats struct {
	Records     int           `json:"records"`
	RawBytes    int           `json:"rawBytes"`
	StoredBytes int           `json:"storedBytes"`
	Kind        FrameKind     `json:"kind"`
	Fallback    bool          `json:"fallback"`
	Duration    time.Duration `json:"duration"`
}

// Ratio is the raw to stored size ratio of the frame payload
func (s FlushStats) Ratio() float64 {
	if s.StoredBytes == 0 {
		return 0
	}

	return float64(s.RawBytes) / float64(s.StoredBytes)
}

// Totals accumulates FlushStats over the life of a Writer
type Totals struct {
	Frames      uint64 `json:"frames"`
	Records     uint64 `json:"records"`
	RawBytes    uint64 `json:"rawBytes"`
	StoredBytes uint64 `json:"storedBytes"`
	Fallbacks   uint64 `json:"fallbacks"`
}

// Ratio is the overall raw to stored ratio
func (t Totals) Ratio() float64 {
	if t.StoredBytes == 0 {
		return 0
	}

	return float64(t.RawBytes) / float64(t.StoredBytes)
}

func (t *Totals) add(s FlushStats) {
	t.Frames++
	t.Records += uint64(s.Records)
	t.RawBytes += uint64(s.RawBytes)
	t.StoredBytes += uint64(s.StoredBytes)

	if s.Fallback {
		t.Fallbacks++
	}
}

// Writer is the compression and persistence pipeline. It owns the output
// sink and the codec context for the whole session.
type Writer struct {
	logger hclog.Logger

	// mu serializes frames, the codec context is single threaded
	mu sync.Mutex

	sink   io.WriteCloser
	codec  Codec
	header FileHeader
	totals Totals
	closed bool

	// committed is the byte length of the header and every complete frame
	committed int64

	// failed is set when a partial frame could not be removed from the
	// sink, every later Flush and Close returns it
	failed error

	// scratch space reused across flushes
	raw   []byte
	frame []byte
}

// NewWriter writes the file header to sink and returns a Writer that takes
// ownership of both sink and codec. On error neither is closed.
func NewWriter(sink io.WriteCloser, codec Codec, sessionID uuid.UUID, logger hclog.Logger) (*Writer, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	header := newFileHeader(sessionID, time.Now())

	buf, err := header.MarshalBinary()
	if err != nil {
		return nil, err
	}

	if _, err := sink.Write(buf); err != nil {
		return nil, fmt.Errorf("unable to write file header: %w", err)
	}

	return &Writer{
		logger:    logger,
		sink:      sink,
		codec:     codec,
		header:    header,
		committed: int64(len(buf)),
		frame:     make([]byte, FrameHeaderSize),
	}, nil
}

// Header returns the file header written at creation
func (w *Writer) Header() FileHeader {
	return w.header
}

// Totals returns the cumulative statistics of all written frames
func (w *Writer) Totals() Totals {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.totals
}

// Flush serializes records into a single frame and writes it to the sink.
// An empty batch writes nothing. When compression fails the payload is
// stored raw and the returned stats are marked as a fallback.
func (w *Writer) Flush(records []types.TraceRecord) (FlushStats, error) {
	if len(records) == 0 {
		return FlushStats{}, nil
	}

	if len(records) > maxFrameRecords {
		return FlushStats{}, ErrBatchTooLarge
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return FlushStats{}, ErrWriterClosed
	}

	if w.failed != nil {
		return FlushStats{}, w.failed
	}

	start := time.Now()

	w.raw = types.AppendRecords(w.raw[:0], records)

	stats := FlushStats{
		Records:  len(records),
		RawBytes: len(w.raw),
		Kind:     w.codec.Kind(),
	}

	frame, err := w.codec.Compress(w.frame[:FrameHeaderSize], w.raw)
	if err != nil {
		w.logger.Warn("compression failed, writing raw frame", "records", len(records), "err", err)

		stats.Fallback = true
		stats.Kind = FrameRaw
	} else if stats.Kind != FrameRaw && len(frame)-FrameHeaderSize >= len(w.raw) {
		// incompressible batch
		stats.Kind = FrameRaw
	}

	if stats.Kind == FrameRaw {
		frame = append(w.frame[:FrameHeaderSize], w.raw...)
	}

	w.frame = frame
	stats.StoredBytes = len(frame) - FrameHeaderSize

	frameHeader{
		kind:       stats.Kind,
		records:    uint32(stats.Records),
		rawLen:     uint32(stats.RawBytes),
		payloadLen: uint32(stats.StoredBytes),
	}.encode(frame)

	if n, err := w.sink.Write(frame); err != nil {
		return stats, w.abortFrame(n, err)
	}

	w.committed += int64(len(frame))
	stats.Duration = time.Since(start)
	w.totals.add(stats)

	w.logger.Debug(
		"frame written",
		"kind", stats.Kind,
		"records", stats.Records,
		"raw", stats.RawBytes,
		"stored", stats.StoredBytes,
		"ratio", fmt.Sprintf("%.2f", stats.Ratio()),
	)

	return stats, nil
}

// abortFrame handles a failed frame write of which n bytes reached the
// sink. The caller may retry the batch only when the sink is back at the
// last frame boundary; otherwise the writer is marked failed.
func (w *Writer) abortFrame(n int, err error) error {
	err = fmt.Errorf("unable to write frame: %w", err)
	if n == 0 {
		return err
	}

	if t, ok := w.sink.(truncater); ok {
		rollback := t.Truncate(w.committed)
		if rollback == nil {
			_, rollback = t.Seek(w.committed, io.SeekStart)
		}

		if rollback == nil {
			w.logger.Warn("partial frame removed", "offset", w.committed, "written", n)

			return err
		}

		err = multierror.Append(err, fmt.Errorf("unable to remove partial frame: %w", rollback))
	}

	w.failed = fmt.Errorf("%w: partial frame at offset %d: %w", ErrWriterFailed, w.committed, err)
	w.logger.Error("partial frame left in sink, writer stopped", "offset", w.committed, "written", n, "err", err)

	return w.failed
}

// Close releases the codec and closes the sink. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	var result error

	if w.failed != nil {
		result = multierror.Append(result, w.failed)
	}

	if err := w.codec.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to release codec: %w", err))
	}

	if err := w.sink.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to close sink: %w", err))
	}

	w.raw, w.frame = nil, nil

	return result
}
