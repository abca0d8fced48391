package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceRecord_AccessUnion(t *testing.T) {
	t.Parallel()

	var r TraceRecord

	assert.Equal(t, AccessNone, r.AccessKind())

	_, _, ok := r.Access()
	assert.False(t, ok)

	require.True(t, r.SetOperands(7, 9))

	src1, src2, ok := r.Operands()
	require.True(t, ok)
	assert.Equal(t, uint64(7), src1)
	assert.Equal(t, uint64(9), src2)

	_, _, ok = r.Access()
	assert.False(t, ok)

	// memory replaces operands
	r.SetMemory(0x8000, 3, true)

	addr, size, ok := r.Access()
	require.True(t, ok)
	assert.Equal(t, uint64(0x8000), addr)
	assert.Equal(t, uint64(8), size)
	assert.Equal(t, AccessStore, r.AccessKind())

	_, _, ok = r.Operands()
	assert.False(t, ok)

	// operands never overwrite an observed memory access
	assert.False(t, r.SetOperands(1, 2))
	assert.Equal(t, AccessStore, r.AccessKind())

	r.ClearAccess()
	assert.Equal(t, AccessNone, r.AccessKind())
}

func TestTraceRecord_MarshalLayout(t *testing.T) {
	t.Parallel()

	r := TraceRecord{
		PCVirtual:    0x1000,
		PCPhysical:   0x81000,
		BranchTarget: 0x2000,
		Opcode:       0xdeadbeef,
		VCPU:         3,
		Width:        4,
		Branch:       BranchTaken,
		Taken:        true,
	}
	r.SetMemory(0x7ff0, 2, false)

	buf := make([]byte, RecordSize)
	require.NoError(t, r.MarshalTo(buf))

	assert.Equal(t, byte(0x00), buf[0])
	assert.Equal(t, byte(0x10), buf[1])
	assert.Equal(t, byte(0xef), buf[40])
	assert.Equal(t, byte(AccessLoad)|2<<4, buf[44])
	assert.Equal(t, byte(BranchTaken), buf[45])
	assert.Equal(t, byte(1), buf[46])
	assert.Equal(t, byte(0), buf[47])
	assert.Equal(t, byte(3), buf[48])
	assert.Equal(t, byte(4), buf[52])

	var decoded TraceRecord
	require.NoError(t, decoded.UnmarshalFrom(buf))
	assert.Equal(t, r, decoded)
}

func TestTraceRecord_UnmarshalErrors(t *testing.T) {
	t.Parallel()

	var r TraceRecord

	assert.ErrorIs(t, r.UnmarshalFrom(make([]byte, RecordSize-1)), ErrShortRecord)
	assert.ErrorIs(t, r.MarshalTo(make([]byte, 10)), ErrShortRecord)

	buf := make([]byte, RecordSize)
	buf[44] = 0x0f

	assert.ErrorIs(t, r.UnmarshalFrom(buf), ErrInvalidAccess)
}

func TestAppendAndDecodeRecords(t *testing.T) {
	t.Parallel()

	records := make([]TraceRecord, 5)
	for i := range records {
		records[i] = TraceRecord{PCVirtual: uint64(0x400 + 4*i), Width: 4}
	}

	records[2].SetOperands(10, 20)

	prefix := []byte{0xaa}
	payload := AppendRecords(prefix, records)
	require.Len(t, payload, 1+5*RecordSize)
	assert.Equal(t, byte(0xaa), payload[0])

	decoded, err := DecodeRecords(nil, payload[1:])
	require.NoError(t, err)
	assert.Equal(t, records, decoded)

	_, err = DecodeRecords(nil, payload[1:RecordSize])
	assert.ErrorIs(t, err, ErrPartialRecords)
}

func TestOpcodeFromBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		expected uint32
	}{
		{"compressed 2 byte encoding", []byte{0x01, 0x45}, 0x4501},
		{"fixed 4 byte encoding", []byte{0x13, 0x05, 0x10, 0x00}, 0x00100513},
		{"long encoding is truncated", []byte{0x48, 0x89, 0xe5, 0x48, 0x83, 0xec}, 0x48e58948},
		{"empty", nil, 0},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, test.expected, OpcodeFromBytes(test.data))
		})
	}
}

func TestTraceRecord_MarshalJSON(t *testing.T) {
	t.Parallel()

	r := TraceRecord{PCVirtual: 0x10, PCPhysical: 0x10, Width: 2, Taken: true, BranchTarget: 0x40, Branch: BranchTaken}
	r.SetMemory(0x99, 0, true)

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))

	assert.Equal(t, "0x10", out["pc"])
	assert.Equal(t, "store", out["access"])
	assert.Equal(t, "0x99", out["address"])
	assert.Equal(t, "0x40", out["target"])
	assert.Equal(t, "taken", out["branch"])
	assert.NotContains(t, out, "src1")
}
