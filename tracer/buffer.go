package tracer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"go.uber.org/atomic"

	"github.com/tracertl/tracertl/tracefile"
	"github.com/tracertl/tracertl/types"
)

var (
	ErrBudgetExhausted = errors.New("instruction budget exhausted")
	ErrBufferFull      = errors.New("trace buffer at maximum capacity")
)

// flushReason labels why a buffer flush was triggered
type flushReason string

const (
	flushThreshold flushReason = "threshold"
	flushBudget    flushReason = "budget"
	flushClose     flushReason = "close"
)

// frameWriter persists one batch of records as a frame
type frameWriter interface {
	Flush(records []types.TraceRecord) (tracefile.FlushStats, error)
}

// bufferStats is a point in time view of the buffer counters
type bufferStats struct {
	Buffered      int
	Capacity      int
	TotalTraced   uint64
	Dropped       uint64
	Flushes       uint64
	FailedFlush   uint64
	BudgetReached bool
}

// traceBuffer is the single shared record store. Every append, resize and
// flush runs under mu, so frames reach the writer in append order.
type traceBuffer struct {
	logger hclog.Logger
	writer frameWriter

	maxInstructions uint64
	flushThreshold  int
	maxCapacity     int

	mu          sync.Mutex
	records     []types.TraceRecord
	totalTraced uint64
	dropped     uint64
	flushes     uint64
	failed      uint64

	// exhausted is set once totalTraced reaches maxInstructions and lets
	// callbacks skip record assembly without taking mu
	exhausted atomic.Bool
}

func newTraceBuffer(config *Config, writer frameWriter, logger hclog.Logger) (*traceBuffer, error) {
	if config.InitialCapacity <= 0 || config.InitialCapacity > config.MaxCapacity {
		return nil, fmt.Errorf("%w: initial capacity %d", ErrInvalidCapacity, config.InitialCapacity)
	}

	return &traceBuffer{
		logger:          logger,
		writer:          writer,
		maxInstructions: config.MaxInstructions,
		flushThreshold:  config.FlushThreshold,
		maxCapacity:     config.MaxCapacity,
		records:         make([]types.TraceRecord, 0, config.InitialCapacity),
	}, nil
}

// append stores a copy of r. Reaching the budget flushes the buffer exactly
// once, reaching the flush threshold flushes it as well. A failed flush
// keeps the records for the next attempt and does not reject r, unless the
// buffer can neither grow nor be drained, in which case r is dropped.
func (b *traceBuffer) append(r *types.TraceRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.totalTraced >= b.maxInstructions {
		return ErrBudgetExhausted
	}

	if len(b.records) == cap(b.records) && !b.grow() && b.flushLocked(flushThreshold) != nil {
		b.dropped++

		metrics.IncrCounter([]string{tracerMetrics, "records_dropped"}, 1)

		if b.dropped == 1 {
			b.logger.Warn("buffer at maximum capacity, dropping records", "capacity", cap(b.records))
		}

		return ErrBufferFull
	}

	b.records = append(b.records, *r)
	b.totalTraced++

	switch {
	case b.totalTraced == b.maxInstructions:
		b.exhausted.Store(true)
		b.logger.Info("instruction budget reached", "budget", b.maxInstructions)

		_ = b.flushLocked(flushBudget)
	case len(b.records) >= b.flushThreshold:
		_ = b.flushLocked(flushThreshold)
	}

	return nil
}

// grow doubles the capacity, bounded by maxCapacity. It returns false when
// the buffer is already at maxCapacity.
func (b *traceBuffer) grow() bool {
	current := cap(b.records)
	if current >= b.maxCapacity {
		return false
	}

	next := current * 2
	if next > b.maxCapacity {
		next = b.maxCapacity
	}

	grown := make([]types.TraceRecord, len(b.records), next)
	copy(grown, b.records)
	b.records = grown

	b.logger.Debug("buffer grown", "from", current, "to", next)

	return true
}

// flush drains every buffered record to the writer
func (b *traceBuffer) flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.flushLocked(flushClose)
}

func (b *traceBuffer) flushLocked(reason flushReason) error {
	if len(b.records) == 0 {
		return nil
	}

	stats, err := b.writer.Flush(b.records)
	if err != nil {
		b.failed++

		metrics.IncrCounter([]string{tracerMetrics, "flush_failures"}, 1)
		b.logger.Error("flush failed, records retained", "reason", reason, "records", len(b.records), "err", err)

		return err
	}

	b.flushes++
	b.records = b.records[:0]

	observeFlush(reason, stats)

	return nil
}

func (b *traceBuffer) isExhausted() bool {
	return b.exhausted.Load()
}

func (b *traceBuffer) stats() bufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return bufferStats{
		Buffered:      len(b.records),
		Capacity:      cap(b.records),
		TotalTraced:   b.totalTraced,
		Dropped:       b.dropped,
		Flushes:       b.flushes,
		FailedFlush:   b.failed,
		BudgetReached: b.totalTraced >= b.maxInstructions,
	}
}
