package tracer

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracertl/tracertl/tracefile"
	"github.com/tracertl/tracertl/types"
)

var errSinkDown = errors.New("sink down")

// mockWriter records every flushed batch
type mockWriter struct {
	batches [][]types.TraceRecord
	err     error
}

func (m *mockWriter) Flush(records []types.TraceRecord) (tracefile.FlushStats, error) {
	if m.err != nil {
		return tracefile.FlushStats{}, m.err
	}

	batch := make([]types.TraceRecord, len(records))
	copy(batch, records)
	m.batches = append(m.batches, batch)

	return tracefile.FlushStats{
		Records:     len(records),
		RawBytes:    len(records) * types.RecordSize,
		StoredBytes: len(records) * types.RecordSize,
	}, nil
}

func (m *mockWriter) flushed() []types.TraceRecord {
	var all []types.TraceRecord
	for _, b := range m.batches {
		all = append(all, b...)
	}

	return all
}

func bufferConfig(budget uint64, initial, threshold, maxCap int) *Config {
	config := DefaultConfig()
	config.MaxInstructions = budget
	config.InitialCapacity = initial
	config.FlushThreshold = threshold
	config.MaxCapacity = maxCap

	return config
}

func newTestBuffer(t *testing.T, config *Config, w frameWriter) *traceBuffer {
	t.Helper()

	b, err := newTraceBuffer(config, w, hclog.NewNullLogger())
	require.NoError(t, err)

	return b
}

func recordAt(pc uint64) *types.TraceRecord {
	return &types.TraceRecord{PCVirtual: pc, PCPhysical: pc, Width: 4}
}

func TestTraceBuffer_GrowthPreservesRecords(t *testing.T) {
	t.Parallel()

	w := &mockWriter{}
	b := newTestBuffer(t, bufferConfig(1000, 2, 100, 16), w)

	for i := 0; i < 7; i++ {
		require.NoError(t, b.append(recordAt(uint64(i))))
	}

	stats := b.stats()
	assert.Equal(t, 7, stats.Buffered)
	assert.Equal(t, 8, stats.Capacity)
	assert.Empty(t, w.batches)

	require.NoError(t, b.flush())

	flushed := w.flushed()
	require.Len(t, flushed, 7)

	for i, r := range flushed {
		assert.Equal(t, uint64(i), r.PCVirtual)
	}
}

func TestTraceBuffer_ThresholdFlush(t *testing.T) {
	t.Parallel()

	w := &mockWriter{}
	b := newTestBuffer(t, bufferConfig(1000, 4, 4, 16), w)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.append(recordAt(uint64(i))))
	}

	require.Len(t, w.batches, 2)
	assert.Len(t, w.batches[0], 4)
	assert.Len(t, w.batches[1], 4)

	stats := b.stats()
	assert.Equal(t, 2, stats.Buffered)
	assert.Equal(t, 4, stats.Capacity)
	assert.Equal(t, uint64(10), stats.TotalTraced)
}

func TestTraceBuffer_BudgetFlushesOnce(t *testing.T) {
	t.Parallel()

	w := &mockWriter{}
	b := newTestBuffer(t, bufferConfig(5, 2, 100, 16), w)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.append(recordAt(uint64(i))))
	}

	assert.True(t, b.isExhausted())
	require.Len(t, w.batches, 1)
	assert.Len(t, w.batches[0], 5)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.append(recordAt(99)), ErrBudgetExhausted)
	}

	require.NoError(t, b.flush())
	assert.Len(t, w.batches, 1)

	stats := b.stats()
	assert.Equal(t, uint64(5), stats.TotalTraced)
	assert.True(t, stats.BudgetReached)
	assert.Equal(t, uint64(1), stats.Flushes)
}

func TestTraceBuffer_FailedFlushRetainsRecords(t *testing.T) {
	t.Parallel()

	w := &mockWriter{err: errSinkDown}
	b := newTestBuffer(t, bufferConfig(1000, 2, 2, 16), w)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.append(recordAt(uint64(i))))
	}

	stats := b.stats()
	assert.Equal(t, 5, stats.Buffered)
	assert.Equal(t, uint64(4), stats.FailedFlush)

	w.err = nil

	require.NoError(t, b.flush())
	assert.Len(t, w.flushed(), 5)
	assert.Equal(t, 0, b.stats().Buffered)
}

func TestTraceBuffer_DropsAtMaxCapacity(t *testing.T) {
	t.Parallel()

	w := &mockWriter{err: errSinkDown}
	b := newTestBuffer(t, bufferConfig(1000, 2, 2, 4), w)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.append(recordAt(uint64(i))))
	}

	assert.ErrorIs(t, b.append(recordAt(4)), ErrBufferFull)
	assert.ErrorIs(t, b.append(recordAt(5)), ErrBufferFull)

	stats := b.stats()
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, uint64(4), stats.TotalTraced)
	assert.Equal(t, 4, stats.Capacity)

	w.err = nil

	require.NoError(t, b.append(recordAt(6)))
	assert.Equal(t, []uint64{0, 1, 2, 3}, pcs(w.flushed()))

	require.NoError(t, b.flush())
	assert.Equal(t, []uint64{0, 1, 2, 3, 6}, pcs(w.flushed()))
}

func TestTraceBuffer_EmptyFlush(t *testing.T) {
	t.Parallel()

	w := &mockWriter{}
	b := newTestBuffer(t, bufferConfig(10, 2, 2, 4), w)

	require.NoError(t, b.flush())
	assert.Empty(t, w.batches)
	assert.Equal(t, uint64(0), b.stats().Flushes)
}

func TestNewTraceBuffer_InvalidCapacity(t *testing.T) {
	t.Parallel()

	_, err := newTraceBuffer(bufferConfig(10, 0, 2, 4), &mockWriter{}, hclog.NewNullLogger())
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func pcs(records []types.TraceRecord) []uint64 {
	out := make([]uint64, len(records))
	for i, r := range records {
		out[i] = r.PCVirtual
	}

	return out
}
